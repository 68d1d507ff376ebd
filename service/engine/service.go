package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aidant64/atlas/internal/clock"
	"github.com/aidant64/atlas/metrics"
	"github.com/aidant64/atlas/model/run"
	"github.com/aidant64/atlas/policy"
	"github.com/aidant64/atlas/service/audit"
	"github.com/aidant64/atlas/service/event"
	"github.com/aidant64/atlas/service/runstore"
	"golang.org/x/sync/errgroup"
)

// Assessor scores a request; see assessor.Service.
type Assessor interface {
	Attempt(ctx context.Context, intent string, inputs map[string]interface{}) (*run.Assessment, error)
}

// ActionExecutor performs the governed action once a run is approved.
type ActionExecutor interface {
	Execute(ctx context.Context, request *run.Request) (string, error)
}

// Service is the governance workflow engine.
type Service struct {
	config   Config
	store    runstore.Store
	bus      *event.Service
	assessor Assessor
	audit    audit.Logger
	executor ActionExecutor
	policy   *policy.Policy
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates an engine.
func New(store runstore.Store, bus *event.Service, assessor Assessor, auditLogger audit.Logger, options ...Option) (*Service, error) {
	s := &Service{
		config:   DefaultConfig(),
		store:    store,
		bus:      bus,
		assessor: assessor,
		audit:    auditLogger,
		policy:   policy.Default(),
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.now = clock.Func(s.now)
	if s.store == nil {
		return nil, fmt.Errorf("run store is required")
	}
	if s.assessor == nil {
		return nil, fmt.Errorf("assessor is required")
	}
	if s.audit == nil {
		return nil, fmt.Errorf("audit logger is required")
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Policy returns the active escalation policy.
func (s *Service) Policy() *policy.Policy { return s.policy }

// Start recovers incomplete runs, then consumes both topics and runs the
// reaper until ctx is done or Shutdown is called. It returns the first fatal
// error, typically a run store failure.
func (s *Service) Start(ctx context.Context) error {
	if s.bus == nil {
		return fmt.Errorf("event bus is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	if err := s.Recover(ctx); err != nil {
		return err
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		requests := event.NewListener(s.bus.Requests(), s.onRequest, isFatal, s.logger)
		decisions := event.NewListener(s.bus.Decisions(), s.onDecision, isFatal, s.logger)
		group.Go(func() error { return requests.Run(groupCtx) })
		group.Go(func() error { return decisions.Run(groupCtx) })
	}
	group.Go(func() error { return s.reap(groupCtx) })
	s.logger.InfoContext(ctx, "governance engine started", "workers", s.config.Workers, "threshold", s.policy.Threshold)
	return group.Wait()
}

// Shutdown stops a running engine.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Recover drives every incomplete run forward from its persisted phase. Runs
// still claimed by a previous owner are left to the reaper.
func (s *Service) Recover(ctx context.Context) error {
	runs, err := s.store.ListIncomplete(ctx)
	if err != nil {
		return err
	}
	for _, r := range runs {
		if err := s.advance(ctx, r.ID); err != nil {
			if isFatal(err) {
				return err
			}
			s.logger.WarnContext(ctx, "run recovery deferred to the reaper", "run_id", r.ID, "error", err)
		}
	}
	if len(runs) > 0 {
		s.logger.InfoContext(ctx, "recovered incomplete runs", "count", len(runs))
	}
	return nil
}

func (s *Service) reap(ctx context.Context) error {
	ticker := time.NewTicker(s.config.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RedriveStalled(ctx); err != nil {
				if isFatal(err) {
					return err
				}
				s.logger.WarnContext(ctx, "stalled run sweep failed", "error", err)
			}
			if _, err := s.ExpireDue(ctx); err != nil {
				if isFatal(err) {
					return err
				}
				s.logger.WarnContext(ctx, "reaper sweep failed", "error", err)
			}
		}
	}
}

func (s *Service) onRequest(ctx context.Context, ev *event.Event[run.Request]) error {
	return s.HandleRequest(ctx, &ev.Data)
}

func (s *Service) onDecision(ctx context.Context, ev *event.Event[run.DecisionEvent]) error {
	return s.HandleDecision(ctx, &ev.Data)
}

func isFatal(err error) bool {
	return errors.Is(err, runstore.ErrUnavailable)
}
