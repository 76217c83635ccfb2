// Package webhook posts notifications to external HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"wellnesskit/core"
)

// Sink posts notifications to configured HTTP endpoints.
// It is synchronous; subscribe it to an async event bus to keep recording fast.
type Sink struct {
	client    *http.Client
	endpoints []string
	types     map[core.NotificationType]struct{}
	logger    *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithTypes limits delivery to the given notification types.
func WithTypes(types ...core.NotificationType) Option {
	return func(s *Sink) {
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{Timeout: 2 * time.Second},
		types:  map[core.NotificationType]struct{}{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// OnNotification posts n as JSON to every endpoint. Delivery failures are
// logged and never returned.
func (s *Sink) OnNotification(ctx context.Context, n core.Notification) {
	if len(s.endpoints) == 0 {
		return
	}
	if len(s.types) > 0 {
		if _, ok := s.types[n.Type]; !ok {
			return
		}
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	body, err := json.Marshal(n)
	if err != nil {
		s.logger.Warn("webhook encode failed", "notification_id", n.ID, "error", err)
		return
	}
	for _, ep := range s.endpoints {
		if err := s.post(ctx, ep, n, body); err != nil {
			s.logger.Warn("webhook delivery failed", "endpoint", ep, "notification_id", n.ID, "error", err)
		}
	}
}

func (s *Sink) post(ctx context.Context, endpoint string, n core.Notification, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", n.ID)
	req.Header.Set("X-Event-Type", string(n.Type))
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
