package atlas

import (
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/aidant64/atlas/service/assessor"
	"github.com/aidant64/atlas/service/audit"
	"github.com/aidant64/atlas/service/gatekeeper"
	"github.com/aidant64/atlas/tracing"
)

// Option configures the gateway.
type Option func(s *Service)

// WithTools registers governed tools.
func WithTools(tools ...*gatekeeper.Tool) Option {
	return func(s *Service) { s.tools = append(s.tools, tools...) }
}

// WithScorer overrides the scorer selected by the assessor config.
func WithScorer(scorer assessor.Scorer) Option {
	return func(s *Service) { s.scorer = scorer }
}

// WithAuditLogger overrides the audit sink selected by the audit config.
func WithAuditLogger(logger audit.Logger) Option {
	return func(s *Service) { s.audit = logger }
}

// WithRedisClient supplies the client used by the redis store instead of
// dialing store.redis_url.
func WithRedisClient(client goredis.UniversalClient) Option {
	return func(s *Service) { s.redis = client }
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

// WithTracingExporter configures OpenTelemetry tracing using a custom SpanExporter, for
// example OTLP, Jaeger or Zipkin. The first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
