package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aidant64/atlas/internal/clock"
	"github.com/aidant64/atlas/model/run"
	"github.com/aidant64/atlas/service/event"
)

// ErrNotPending is returned when deciding on a run that is not waiting.
var ErrNotPending = errors.New("run is not waiting for a decision")

// Service defines the approval service interface.
type Service interface {
	ListPending(ctx context.Context, filters ...PendingFilter) ([]*Request, error)
	Decide(ctx context.Context, ref string, approved bool, approver, note string) (*run.DecisionEvent, error)
}

// Runs reads waiting runs.
type Runs interface {
	Get(ctx context.Context, runID string) (*run.Run, error)
	ListPending(ctx context.Context) ([]*run.Run, error)
}

type service struct {
	runs      Runs
	decisions *event.Publisher[run.DecisionEvent]
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures the approval service.
type Option func(s *service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// New creates an approval service publishing decisions to decisions.
func New(runs Runs, decisions *event.Publisher[run.DecisionEvent], opts ...Option) Service {
	ret := &service{runs: runs, decisions: decisions, logger: slog.Default()}
	for _, opt := range opts {
		opt(ret)
	}
	ret.now = clock.Func(ret.now)
	return ret
}

func (s *service) ListPending(ctx context.Context, filters ...PendingFilter) ([]*Request, error) {
	runs, err := s.runs.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	var ret []*Request
outer:
	for _, r := range runs {
		request := NewRequest(r)
		for _, filter := range filters {
			if !filter(request) {
				continue outer
			}
		}
		ret = append(ret, request)
	}
	return ret, nil
}

// Decide publishes a reviewer verdict. The engine applies it asynchronously,
// discarding it when the deadline has passed or another decision won.
func (s *service) Decide(ctx context.Context, ref string, approved bool, approver, note string) (*run.DecisionEvent, error) {
	if approver == "" {
		return nil, fmt.Errorf("approver was empty")
	}
	r, err := s.runs.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if r.Phase != run.PhaseWaiting {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, ref, r.Phase)
	}
	decision := run.DecisionEvent{
		Key:       ref,
		Decision:  run.DecisionRejected,
		Approver:  approver,
		Note:      note,
		Timestamp: s.now(),
	}
	if approved {
		decision.Decision = run.DecisionApproved
	}
	if _, err = s.decisions.Publish(ctx, decision); err != nil {
		return nil, fmt.Errorf("failed to publish decision for %s: %w", ref, err)
	}
	s.logger.InfoContext(ctx, "decision submitted", "run_id", ref, "decision", decision.Decision, "approver", approver)
	return &decision, nil
}
