package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aidant64/atlas/model/run"
	"github.com/aidant64/atlas/service/runstore"
	"github.com/aidant64/atlas/tracing"
)

// Reasons a decision event is discarded.
const (
	discardDuplicate = "duplicate"
	discardLate      = "late"
	discardUnknown   = "unknown"
	discardInvalid   = "invalid"
)

// HandleRequest creates the run for an execution request (once per event_id)
// and drives it as far as it can go.
func (s *Service) HandleRequest(ctx context.Context, request *run.Request) (err error) {
	ctx, span := tracing.StartSpan(ctx, "engine.HandleRequest", tracing.KindConsumer)
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"run_id": request.EventID, "tool_name": request.ToolName})

	if request.EventID == "" {
		s.logger.WarnContext(ctx, "execution request without event_id dropped", "tool_name", request.ToolName)
		return nil
	}
	if request.ReceivedAt.IsZero() {
		request.ReceivedAt = s.now()
	}
	runID, err := s.store.Create(ctx, request)
	if err != nil {
		return err
	}
	err = s.advance(ctx, runID)
	if errors.Is(err, runstore.ErrClaimed) {
		// the owner completes the run; RedriveStalled picks it up once a
		// crashed owner's lease lapses
		return nil
	}
	return err
}

// HandleDecision applies a reviewer decision to the run waiting on its key.
// Duplicate, late and unknown decisions are logged, counted and dropped.
func (s *Service) HandleDecision(ctx context.Context, decision *run.DecisionEvent) (err error) {
	ctx, span := tracing.StartSpan(ctx, "engine.HandleDecision", tracing.KindConsumer)
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"event_id": decision.Key, "decision": string(decision.Decision)})

	if !decision.Decision.Valid() {
		s.discard(ctx, decision, discardInvalid)
		return nil
	}
	bookmark, err := s.store.Lookup(ctx, decision.Key)
	if errors.Is(err, runstore.ErrNotFound) {
		s.discard(ctx, decision, s.missingReason(ctx, decision.Key))
		return nil
	}
	if err != nil {
		return err
	}
	release, err := s.claimWait(ctx, bookmark.RunID)
	if err != nil {
		return err
	}
	defer release()

	runID, err := s.store.Resume(ctx, decision.Key, decision)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "decision applied", "run_id", runID, "decision", decision.Decision, "approver", decision.Approver)
	case errors.Is(err, runstore.ErrDeadlinePassed):
		s.discard(ctx, decision, discardLate)
		if _, err = s.expire(ctx, decision.Key); err != nil && !errors.Is(err, runstore.ErrAlreadyResolved) {
			return err
		}
		runID = bookmark.RunID
	case errors.Is(err, runstore.ErrAlreadyResolved):
		s.discard(ctx, decision, discardDuplicate)
		runID = bookmark.RunID
	case errors.Is(err, runstore.ErrNotFound):
		s.discard(ctx, decision, s.missingReason(ctx, decision.Key))
		return nil
	default:
		return err
	}
	return s.drive(ctx, runID)
}

// ExpireDue expires every waiting run whose deadline has passed and returns
// how many were expired by this sweep.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	due, err := s.store.ListDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, bookmark := range due {
		ok, err := s.expireClaimed(ctx, bookmark)
		if err != nil {
			if isFatal(err) {
				return expired, err
			}
			s.logger.WarnContext(ctx, "expiry deferred", "run_id", bookmark.RunID, "error", err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) expireClaimed(ctx context.Context, bookmark *runstore.Bookmark) (bool, error) {
	release, err := s.store.Claim(ctx, bookmark.RunID, s.config.ClaimTTL)
	if err != nil {
		return false, err
	}
	defer release()
	ok, err := s.expire(ctx, bookmark.Key)
	if err != nil && !errors.Is(err, runstore.ErrAlreadyResolved) {
		return false, err
	}
	return ok, s.drive(ctx, bookmark.RunID)
}

// expire moves the run waiting on key to EXPIRED. The caller holds the claim.
func (s *Service) expire(ctx context.Context, key string) (bool, error) {
	runID, err := s.store.Expire(ctx, key, s.now())
	if err != nil {
		return false, err
	}
	s.metrics.IncExpiration()
	s.logger.InfoContext(ctx, "review deadline passed, run expired", "run_id", runID)
	return true, nil
}

// RedriveStalled advances incomplete runs that no owner is moving: runs
// outside WAITING, or WAITING without a bookmark, whose last update is older
// than ClaimTTL. Runs still claimed are left for a later sweep. It returns how
// many runs were driven.
func (s *Service) RedriveStalled(ctx context.Context) (int, error) {
	runs, err := s.store.ListIncomplete(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-s.config.ClaimTTL)
	driven := 0
	for _, r := range runs {
		if r.UpdatedAt.After(cutoff) {
			continue
		}
		if r.Phase == run.PhaseWaiting {
			if r.CorrelationKey == "" {
				continue
			}
			_, err := s.store.Lookup(ctx, r.CorrelationKey)
			if err == nil {
				continue
			}
			if !errors.Is(err, runstore.ErrNotFound) {
				return driven, err
			}
		}
		err := s.advance(ctx, r.ID)
		switch {
		case err == nil:
			driven++
			s.logger.InfoContext(ctx, "stalled run driven", "run_id", r.ID, "phase", r.Phase)
		case errors.Is(err, runstore.ErrClaimed):
		case isFatal(err):
			return driven, err
		default:
			s.logger.WarnContext(ctx, "stalled run not driven", "run_id", r.ID, "error", err)
		}
	}
	return driven, nil
}

const (
	claimPollMin = 10 * time.Millisecond
	claimPollMax = time.Second
)

// claimWait retries Claim with backoff until the run is free or one ClaimTTL
// has passed; a lease left by a crashed owner lapses within that window.
func (s *Service) claimWait(ctx context.Context, runID string) (func(), error) {
	giveUp := s.now().Add(s.config.ClaimTTL)
	delay := claimPollMin
	for {
		release, err := s.store.Claim(ctx, runID, s.config.ClaimTTL)
		if !errors.Is(err, runstore.ErrClaimed) || s.now().After(giveUp) {
			return release, err
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		if delay *= 2; delay > claimPollMax {
			delay = claimPollMax
		}
	}
}

// advance claims the run and drives it.
func (s *Service) advance(ctx context.Context, runID string) error {
	release, err := s.store.Claim(ctx, runID, s.config.ClaimTTL)
	if err != nil {
		return err
	}
	defer release()
	return s.drive(ctx, runID)
}

func (s *Service) missingReason(ctx context.Context, key string) string {
	r, err := s.store.Get(ctx, key)
	if err == nil && r.Phase.IsTerminal() {
		return discardDuplicate
	}
	return discardUnknown
}

func (s *Service) discard(ctx context.Context, decision *run.DecisionEvent, reason string) {
	s.metrics.IncDecisionDiscarded(reason)
	s.logger.WarnContext(ctx, "decision discarded", "event_id", decision.Key, "decision", decision.Decision, "approver", decision.Approver, "reason", reason)
}

func stepFailed(name string, attempts int, err error) error {
	return &StepError{Name: name, Attempts: attempts, Err: err}
}

// StepError reports a step whose retries were exhausted.
type StepError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed after %d attempts: %v", e.Name, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
