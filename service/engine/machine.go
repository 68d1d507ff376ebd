package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aidant64/atlas/model/run"
	"github.com/aidant64/atlas/policy"
	"github.com/aidant64/atlas/service/assessor"
	"github.com/aidant64/atlas/service/audit"
)

// actionResult is the memoized output of the execute_action step.
type actionResult struct {
	Output string `json:"output"`
	Failed bool   `json:"failed,omitempty"`
}

var noRetry = policy.Retry{Type: policy.RetryNone}

// drive moves the run through as many phases as possible. The caller holds
// the run claim.
func (s *Service) drive(ctx context.Context, runID string) error {
	r, err := s.store.Get(ctx, runID)
	if err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch r.Phase {
		case run.PhaseReceived:
			s.metrics.IncRunStarted()
			s.logger.InfoContext(ctx, "run received", "run_id", r.ID, "tool_name", r.Request.ToolName)
			r.Transition(run.PhaseAssessing, s.now())
			if err := s.store.Save(ctx, r); err != nil {
				return err
			}
		case run.PhaseAssessing:
			if err := s.assess(ctx, r); err != nil {
				return err
			}
		case run.PhaseAutoApproved:
			r.Outcome = run.OutcomeApproved
			r.Transition(run.PhaseResolved, s.now())
			if err := s.store.Save(ctx, r); err != nil {
				return err
			}
		case run.PhaseWaiting:
			if r.Deadline == nil || r.CorrelationKey == "" {
				return fmt.Errorf("run %s is waiting without a bookmark", r.ID)
			}
			if err := s.store.Suspend(ctx, r.ID, r.CorrelationKey, *r.Deadline); err != nil {
				return err
			}
			if s.now().Before(*r.Deadline) {
				return nil
			}
			if _, err := s.expire(ctx, r.CorrelationKey); err != nil {
				return err
			}
			if r, err = s.store.Get(ctx, runID); err != nil {
				return err
			}
		case run.PhaseResolved, run.PhaseExpired, run.PhaseError:
			if r.Completed() {
				return nil
			}
			return s.finalize(ctx, r)
		default:
			return fmt.Errorf("run %s has unknown phase %q", r.ID, r.Phase)
		}
	}
}

// assess runs the assess_risk step and branches on the score.
func (s *Service) assess(ctx context.Context, r *run.Run) error {
	assessment := &run.Assessment{}
	err := s.runStep(ctx, r, run.StepAssessRisk, s.policy.Retry, func(ctx context.Context) (interface{}, error) {
		started := time.Now()
		result, err := s.assessor.Attempt(ctx, r.Request.Intent, r.Request.Context)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.ObserveAssessment(outcome, time.Since(started))
		return result, err
	}, assessment)
	now := s.now()
	var stepErr *StepError
	switch {
	case err == nil:
	case errors.As(err, &stepErr):
		s.logger.ErrorContext(ctx, "risk assessment exhausted retries, failing closed", "run_id", r.ID, "attempts", stepErr.Attempts, "error", stepErr.Err)
		r.Assessment = assessor.FailSafe(stepErr.Err.Error())
		r.Outcome = run.OutcomeError
		r.Transition(run.PhaseError, now)
		return s.store.Save(ctx, r)
	default:
		return err
	}

	r.Assessment = assessment
	if !s.policy.Escalates(r.Request.ToolName, assessment.Score) {
		s.logger.InfoContext(ctx, "run auto-approved", "run_id", r.ID, "risk_score", assessment.Score, "risk_label", assessment.Label)
		r.Transition(run.PhaseAutoApproved, now)
		return s.store.Save(ctx, r)
	}
	deadline := now.Add(s.policy.ReviewTimeout)
	r.CorrelationKey = r.ID
	r.Deadline = &deadline
	r.Transition(run.PhaseWaiting, now)
	if err := s.store.Save(ctx, r); err != nil {
		return err
	}
	s.metrics.IncEscalation()
	s.logger.InfoContext(ctx, "run escalated for human review", "run_id", r.ID, "risk_score", assessment.Score,
		"risk_label", assessment.Label, "deadline", deadline)
	return nil
}

// finalize executes approved actions, writes the audit entry and completes
// the run.
func (s *Service) finalize(ctx context.Context, r *run.Run) error {
	if r.Outcome == run.OutcomeApproved && s.executor != nil {
		result := &actionResult{}
		err := s.runStep(ctx, r, run.StepExecuteAction, noRetry, func(ctx context.Context) (interface{}, error) {
			output, err := s.executor.Execute(ctx, r.Request)
			if err != nil {
				s.logger.ErrorContext(ctx, "governed action failed", "run_id", r.ID, "tool_name", r.Request.ToolName, "error", err)
				return &actionResult{Output: "Action failed: " + err.Error(), Failed: true}, nil
			}
			return &actionResult{Output: output}, nil
		}, result)
		if err != nil {
			return err
		}
		r.Result = result.Output
	}

	entry := audit.NewEntry(r, s.now())
	err := s.runStep(ctx, r, run.StepAuditLog, s.policy.Retry, func(ctx context.Context) (interface{}, error) {
		if err := s.audit.Append(ctx, entry); err != nil && !errors.Is(err, audit.ErrAlreadyRecorded) {
			return nil, err
		}
		return entry, nil
	}, nil)
	if err != nil {
		return err
	}

	completedAt := s.now()
	r.CompletedAt = &completedAt
	if err := s.store.Save(ctx, r); err != nil {
		return err
	}
	s.metrics.IncOutcome(string(entry.FinalOutcome))
	s.logger.InfoContext(ctx, "run completed", "run_id", r.ID, "phase", r.Phase, "final_outcome", entry.FinalOutcome,
		"risk_score", r.RiskScore())
	return nil
}
