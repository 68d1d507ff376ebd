package atlas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/aidant64/atlas/internal/clock"
	"github.com/aidant64/atlas/metrics"
	"github.com/aidant64/atlas/policy"
	"github.com/aidant64/atlas/service/approval"
	"github.com/aidant64/atlas/service/assessor"
	"github.com/aidant64/atlas/service/assessor/inference"
	"github.com/aidant64/atlas/service/assessor/llm"
	"github.com/aidant64/atlas/service/audit"
	"github.com/aidant64/atlas/service/engine"
	"github.com/aidant64/atlas/service/event"
	"github.com/aidant64/atlas/service/gatekeeper"
	"github.com/aidant64/atlas/service/messaging"
	"github.com/aidant64/atlas/service/runstore"
	"github.com/aidant64/atlas/service/runstore/redislock"
	"github.com/aidant64/atlas/tracing"
	httptransport "github.com/aidant64/atlas/transport/http"
)

// Service is the assembled gateway.
type Service struct {
	config     *Config
	tools      []*gatekeeper.Tool
	scorer     assessor.Scorer
	audit      audit.Logger
	redis      goredis.UniversalClient
	logger     *slog.Logger
	now        func() time.Time
	policy     *policy.Policy
	metrics    *metrics.Metrics
	store      runstore.Store
	bus        *event.Service
	registry   *gatekeeper.Registry
	engine     *engine.Service
	gatekeeper *gatekeeper.Service
	approvals  approval.Service
	handler    http.Handler
	closers    []func() error

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New assembles a gateway from config.
func New(config *Config, options ...Option) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Service{config: config, logger: slog.Default()}
	for _, option := range options {
		option(s)
	}
	s.now = clock.Func(s.now)
	if err := s.init(); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *Service) init() error {
	var err error
	if err = tracing.InitFromConfig(s.config.Tracing); err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	if s.policy, err = policy.FromConfig(&s.config.Policy); err != nil {
		return err
	}
	s.metrics = metrics.New(prometheus.NewRegistry())
	if s.store, err = s.newStore(); err != nil {
		return err
	}
	if s.bus, err = s.newBus(); err != nil {
		return err
	}
	if s.audit == nil {
		if s.audit, err = s.newAuditLogger(); err != nil {
			return err
		}
	}
	scorer := s.scorer
	if scorer == nil {
		if scorer, err = s.newScorer(); err != nil {
			return err
		}
	}
	timeout, _ := duration("assessor.timeout", s.config.Assessor.Timeout, assessor.DefaultTimeout)
	riskAssessor := assessor.New(scorer, assessor.WithTimeout(timeout), assessor.WithClock(s.now), assessor.WithLogger(s.logger))

	if s.registry, err = gatekeeper.NewRegistry(s.tools...); err != nil {
		return err
	}
	engineConfig, err := s.config.Engine.engineConfig()
	if err != nil {
		return err
	}
	s.engine, err = engine.New(s.store, s.bus, riskAssessor, s.audit,
		engine.WithConfig(engineConfig),
		engine.WithPolicy(s.policy),
		engine.WithExecutor(s.registry),
		engine.WithMetrics(s.metrics),
		engine.WithLogger(s.logger),
		engine.WithClock(s.now))
	if err != nil {
		return err
	}
	grace, poll, err := s.config.Gatekeeper.durations()
	if err != nil {
		return err
	}
	s.gatekeeper = gatekeeper.New(s.registry, s.bus.Requests(), s.store,
		gatekeeper.WithGraceWindow(grace),
		gatekeeper.WithPollInterval(poll),
		gatekeeper.WithLogger(s.logger))
	s.approvals = approval.New(s.store, s.bus.Decisions(), approval.WithLogger(s.logger), approval.WithClock(s.now))
	s.handler = httptransport.New(s.gatekeeper, s.approvals,
		httptransport.WithAPIKey(s.config.APIKey),
		httptransport.WithMetrics(s.metrics.Handler()),
		httptransport.WithLogger(s.logger)).Router()
	return nil
}

func (s *Service) newStore() (runstore.Store, error) {
	storeConfig := s.config.Store
	switch storeConfig.Vendor {
	case StoreFS:
		return runstore.NewFS(storeConfig.Path, runstore.WithClock(s.now))
	case StoreRedis:
		if s.redis == nil {
			options, err := goredis.ParseURL(storeConfig.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("invalid store.redis_url: %w", err)
			}
			client := goredis.NewClient(options)
			s.redis = client
			s.closers = append(s.closers, client.Close)
		}
		return runstore.NewRedis(s.redis, storeConfig.Prefix,
			runstore.WithLocker(redislock.New(s.redis, storeConfig.Prefix)),
			runstore.WithClock(s.now)), nil
	default:
		return runstore.NewMemory(runstore.WithClock(s.now)), nil
	}
}

func (s *Service) newBus() (*event.Service, error) {
	vendor := messaging.Vendor(s.config.Bus.Vendor)
	if vendor == messaging.VendorFS {
		return event.New(vendor, event.WithBasePath(s.config.Bus.Path))
	}
	return event.New(vendor)
}

func (s *Service) newAuditLogger() (audit.Logger, error) {
	if s.config.Audit.Path == "" {
		s.logger.Warn("audit path not configured, audit entries are kept in memory")
		return audit.NewMemoryLogger(), nil
	}
	logger, err := audit.OpenFile(s.config.Audit.Path, audit.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, logger.Close)
	return logger, nil
}

func (s *Service) newScorer() (assessor.Scorer, error) {
	assessorConfig := s.config.Assessor
	switch assessorConfig.Provider {
	case ProviderInference:
		return inference.New(assessorConfig.URL,
			inference.WithAPIKey(assessorConfig.APIKey),
			inference.WithMaxTokens(assessorConfig.MaxTokens),
			inference.WithTemperature(assessorConfig.Temperature)), nil
	case ProviderLLM:
		return llm.New(llm.Config{
			Model:       assessorConfig.Model,
			APIKey:      assessorConfig.APIKey,
			BaseURL:     assessorConfig.BaseURL,
			MaxTokens:   assessorConfig.MaxTokens,
			Temperature: assessorConfig.Temperature,
		})
	default:
		return assessor.Simulated{}, nil
	}
}

// Start runs the engine and, when listen_addr is set, the HTTP server until
// ctx is done or a fatal error occurs.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer cancel()
		return s.engine.Start(groupCtx)
	})
	if addr := s.config.ListenAddr; addr != "" {
		server := &http.Server{Addr: addr, Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
		group.Go(func() error {
			s.logger.InfoContext(ctx, "http server listening", "addr", addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
	err := group.Wait()
	s.close()
	return err
}

// Shutdown stops a running gateway; Start returns once the server drained.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("failed to close resource", "error", err)
		}
	}
	s.closers = nil
}

func (s *Service) Engine() *engine.Service         { return s.engine }
func (s *Service) Gatekeeper() *gatekeeper.Service { return s.gatekeeper }
func (s *Service) Approvals() approval.Service     { return s.approvals }
func (s *Service) Store() runstore.Store           { return s.store }
func (s *Service) Bus() *event.Service             { return s.bus }
func (s *Service) Registry() *gatekeeper.Registry  { return s.registry }
func (s *Service) Metrics() *metrics.Metrics       { return s.metrics }
func (s *Service) Policy() *policy.Policy          { return s.policy }

// Handler returns the HTTP routes.
func (s *Service) Handler() http.Handler { return s.handler }
