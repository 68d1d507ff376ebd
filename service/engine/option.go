package engine

import (
	"log/slog"
	"time"

	"github.com/aidant64/atlas/metrics"
	"github.com/aidant64/atlas/policy"
)

type Option func(s *Service)

func WithConfig(config Config) Option {
	return func(s *Service) { s.config = config }
}

func WithPolicy(p *policy.Policy) Option {
	return func(s *Service) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithExecutor sets the downstream action invoked for approved runs.
func WithExecutor(executor ActionExecutor) Option {
	return func(s *Service) { s.executor = executor }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}
