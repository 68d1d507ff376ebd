package runstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aidant64/atlas/internal/clock"
	"github.com/aidant64/atlas/model/run"
	"github.com/aidant64/atlas/service/dao"
	"github.com/aidant64/atlas/service/dao/criteria"
)

// Service implements Store over two generic DAOs: runs keyed by id and
// bookmarks keyed by correlation key.
type Service struct {
	runs      dao.Service[string, run.Run]
	bookmarks dao.Service[string, Bookmark]
	locker    Locker
	keys      keyedMutex
	now       func() time.Time
}

var _ Store = (*Service)(nil)

type Option func(s *Service)

// WithLocker sets the Claim implementation; defaults to a MemoryLocker.
func WithLocker(locker Locker) Option {
	return func(s *Service) { s.locker = locker }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a run store over the supplied DAOs.
func New(runs dao.Service[string, run.Run], bookmarks dao.Service[string, Bookmark], opts ...Option) *Service {
	ret := &Service{runs: runs, bookmarks: bookmarks}
	for _, opt := range opts {
		opt(ret)
	}
	ret.now = clock.Func(ret.now)
	if ret.locker == nil {
		ret.locker = NewMemoryLocker(ret.now)
	}
	return ret
}

func (s *Service) Create(ctx context.Context, request *run.Request) (string, error) {
	if request == nil || request.EventID == "" {
		return "", dao.ErrInvalidID
	}
	unlock := s.keys.Lock(request.EventID)
	defer unlock()
	existing, err := s.runs.Load(ctx, request.EventID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, dao.ErrNotFound) {
		return "", unavailable("load run", err)
	}
	r := run.New(request, s.now())
	if err := s.runs.Save(ctx, r); err != nil {
		return "", unavailable("create run", err)
	}
	return r.ID, nil
}

func (s *Service) Get(ctx context.Context, runID string) (*run.Run, error) {
	r, err := s.runs.Load(ctx, runID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable("load run", err)
	}
	return r, nil
}

// Save persists r. Step results recorded concurrently are preserved.
func (s *Service) Save(ctx context.Context, r *run.Run) error {
	unlock := s.keys.Lock(r.ID)
	defer unlock()
	stored, err := s.runs.Load(ctx, r.ID)
	if err != nil && !errors.Is(err, dao.ErrNotFound) {
		return unavailable("load run", err)
	}
	if stored != nil {
		for name, step := range stored.Steps {
			if r.Step(name) != nil {
				continue
			}
			if r.Steps == nil {
				r.Steps = make(map[string]*run.StepResult)
			}
			r.Steps[name] = step
		}
	}
	r.UpdatedAt = s.now()
	if err := s.runs.Save(ctx, r); err != nil {
		return unavailable("save run", err)
	}
	return nil
}

func (s *Service) RecordStep(ctx context.Context, runID string, result *run.StepResult) (*run.StepResult, error) {
	unlock := s.keys.Lock(runID)
	defer unlock()
	r, err := s.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if existing := r.Step(result.Name); existing != nil {
		return existing, nil
	}
	if r.Steps == nil {
		r.Steps = make(map[string]*run.StepResult)
	}
	if result.CompletedAt.IsZero() {
		result.CompletedAt = s.now()
	}
	r.Steps[result.Name] = result
	r.UpdatedAt = s.now()
	if err := s.runs.Save(ctx, r); err != nil {
		return nil, unavailable("record step", err)
	}
	return result, nil
}

func (s *Service) Suspend(ctx context.Context, runID, key string, deadline time.Time) error {
	unlock := s.keys.Lock(runID)
	defer unlock()
	r, err := s.Get(ctx, runID)
	if err != nil {
		return err
	}
	if r.Phase.IsTerminal() {
		return ErrAlreadyResolved
	}
	now := s.now()
	if r.Phase != run.PhaseWaiting {
		r.CorrelationKey = key
		r.Deadline = &deadline
		r.Transition(run.PhaseWaiting, now)
		if err := s.runs.Save(ctx, r); err != nil {
			return unavailable("suspend run", err)
		}
	}
	bookmark := &Bookmark{Key: r.CorrelationKey, RunID: r.ID, Deadline: *r.Deadline, SuspendedAt: now}
	if err := s.bookmarks.Save(ctx, bookmark); err != nil {
		return unavailable("save bookmark", err)
	}
	return nil
}

func (s *Service) Lookup(ctx context.Context, key string) (*Bookmark, error) {
	bookmark, err := s.bookmarks.Load(ctx, key)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable("load bookmark", err)
	}
	return bookmark, nil
}

func (s *Service) Resume(ctx context.Context, key string, decision *run.DecisionEvent) (string, error) {
	return s.resolve(ctx, key, func(r *run.Run, bookmark *Bookmark) error {
		now := s.now()
		if !now.Before(bookmark.Deadline) {
			return ErrDeadlinePassed
		}
		decidedAt := decision.Timestamp
		if decidedAt.IsZero() {
			decidedAt = now
		}
		r.Approver = decision.Approver
		r.Note = decision.Note
		r.DecidedAt = &decidedAt
		r.Outcome = decision.Decision.Outcome()
		r.Transition(run.PhaseResolved, now)
		return nil
	})
}

func (s *Service) Expire(ctx context.Context, key string, at time.Time) (string, error) {
	return s.resolve(ctx, key, func(r *run.Run, _ *Bookmark) error {
		r.Outcome = run.OutcomeExpired
		r.Transition(run.PhaseExpired, at)
		return nil
	})
}

// resolve applies a terminal transition to the run waiting on key.
func (s *Service) resolve(ctx context.Context, key string, apply func(r *run.Run, bookmark *Bookmark) error) (string, error) {
	bookmark, err := s.Lookup(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", s.missingBookmark(ctx, key)
	}
	if err != nil {
		return "", err
	}
	unlock := s.keys.Lock(bookmark.RunID)
	defer unlock()
	r, err := s.Get(ctx, bookmark.RunID)
	if err != nil {
		return "", err
	}
	if r.Phase != run.PhaseWaiting {
		s.dropBookmark(ctx, key)
		return r.ID, ErrAlreadyResolved
	}
	if err := apply(r, bookmark); err != nil {
		return r.ID, err
	}
	if err := s.runs.Save(ctx, r); err != nil {
		return "", unavailable("resolve run", err)
	}
	s.dropBookmark(ctx, key)
	return r.ID, nil
}

// missingBookmark distinguishes a key nobody waits on from a run that was
// already resolved.
func (s *Service) missingBookmark(ctx context.Context, key string) error {
	r, err := s.runs.Load(ctx, key)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return ErrNotFound
		}
		return unavailable("load run", err)
	}
	if r.Phase.IsTerminal() {
		return ErrAlreadyResolved
	}
	return ErrNotFound
}

func (s *Service) dropBookmark(ctx context.Context, key string) {
	_ = s.bookmarks.Delete(ctx, key)
}

func (s *Service) ListPending(ctx context.Context) ([]*run.Run, error) {
	runs, err := s.runs.List(ctx, dao.NewParameter(FieldPhase, string(run.PhaseWaiting)))
	if err != nil {
		return nil, unavailable("list runs", err)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs, nil
}

func (s *Service) ListDue(ctx context.Context, now time.Time) ([]*Bookmark, error) {
	bookmarks, err := s.bookmarks.List(ctx)
	if err != nil {
		return nil, unavailable("list bookmarks", err)
	}
	var due []*Bookmark
	for _, bookmark := range bookmarks {
		if !now.Before(bookmark.Deadline) {
			due = append(due, bookmark)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Deadline.Before(due[j].Deadline) })
	return due, nil
}

func (s *Service) ListIncomplete(ctx context.Context) ([]*run.Run, error) {
	runs, err := s.runs.List(ctx, dao.NewParameter(FieldCompleted, "false"))
	if err != nil {
		return nil, unavailable("list runs", err)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs, nil
}

func (s *Service) Claim(ctx context.Context, runID string, ttl time.Duration) (func(), error) {
	release, err := s.locker.Acquire(ctx, "run:"+runID, ttl)
	if err != nil {
		if errors.Is(err, ErrClaimed) {
			return nil, err
		}
		return nil, unavailable("claim run", err)
	}
	return release, nil
}

// Filterable run fields.
const (
	FieldPhase     = "Phase"
	FieldToolName  = "ToolName"
	FieldOutcome   = "Outcome"
	FieldCompleted = "Completed"
)

// MatchRun evaluates List parameters against a run.
func MatchRun(r *run.Run, parameters []*dao.Parameter) bool {
	return criteria.Matches(func(name string) (string, bool) {
		switch name {
		case FieldPhase:
			return string(r.Phase), true
		case FieldOutcome:
			return string(r.Outcome), true
		case FieldCompleted:
			return strconv.FormatBool(r.Completed()), true
		case FieldToolName:
			if r.Request == nil {
				return "", true
			}
			return r.Request.ToolName, true
		}
		return "", false
	}, parameters)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
