package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envPrefix namespaces every environment variable, e.g. WELLNESSKIT_SERVER_ADDR.
const envPrefix = "WELLNESSKIT_"

// loadFromEnv overrides cfg with the variables that are set; unset ones keep
// the current value.
func loadFromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
