package gatekeeper

import (
	"log/slog"
	"time"
)

const (
	DefaultGraceWindow  = 2 * time.Second
	DefaultPollInterval = 50 * time.Millisecond
)

// Option configures the facade.
type Option func(s *Service)

// WithGraceWindow sets how long Invoke waits for a run to complete before
// handing back a pending token.
func WithGraceWindow(d time.Duration) Option {
	return func(s *Service) { s.grace = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.poll = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}
