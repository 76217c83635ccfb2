package engine

import (
	"errors"
	"sync"

	"wellnesskit/core"
)

// ErrRegistryFrozen is returned when registering after the registry was
// handed to an Engine.
var ErrRegistryFrozen = errors.New("rule registry is frozen")

// Registry is an ordered, append-only set of rules deduplicated by code.
// The first registration of a code wins; later ones are silent no-ops.
type Registry struct {
	mu     sync.RWMutex
	rules  []core.Rule
	codes  map[string]struct{}
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{codes: map[string]struct{}{}}
}

// Register appends rule unless its code is already present.
func (r *Registry) Register(rule core.Rule) error {
	if rule == nil {
		return errors.New("nil rule")
	}
	code := rule.Describe().Code
	if err := core.ValidateCode(code); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, dup := r.codes[code]; dup {
		return nil
	}
	r.codes[code] = struct{}{}
	r.rules = append(r.rules, rule)
	return nil
}

// MustRegister registers every rule and panics on error.
func (r *Registry) MustRegister(rules ...core.Rule) {
	for _, rule := range rules {
		if err := r.Register(rule); err != nil {
			panic(err)
		}
	}
}

// Freeze disallows further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// All returns the rules in registration order.
func (r *Registry) All() []core.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Lookup finds a rule by code.
func (r *Registry) Lookup(code string) (core.Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if rule.Describe().Code == code {
			return rule, true
		}
	}
	return nil, false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}
