package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aidant64/atlas/model/run"
	"github.com/aidant64/atlas/policy"
	"github.com/aidant64/atlas/tracing"
)

// runStep returns the memoized result of step name when present. Otherwise it
// invokes fn with bounded backoff, records the first successful result and
// decodes the stored value into out.
func (s *Service) runStep(ctx context.Context, r *run.Run, name string, retry policy.Retry, fn func(ctx context.Context) (interface{}, error), out interface{}) (err error) {
	if step := r.Step(name); step != nil {
		return step.Decode(out)
	}
	ctx, span := tracing.StartSpan(ctx, "engine."+name, tracing.KindInternal)
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"run_id": r.ID})

	var value interface{}
	attempts := 0
	for {
		attempts++
		value, err = fn(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		retryable, delay := retry.Next(attempts)
		if !retryable {
			return stepFailed(name, attempts, err)
		}
		s.logger.WarnContext(ctx, "step failed, retrying", "run_id", r.ID, "step", name, "attempt", attempts, "delay", delay, "error", err)
		if name == run.StepAssessRisk {
			s.metrics.IncAssessmentRetry()
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode step %s: %w", name, err)
	}
	stored, err := s.store.RecordStep(ctx, r.ID, &run.StepResult{Name: name, Output: data, Attempts: attempts, CompletedAt: s.now()})
	if err != nil {
		return err
	}
	if r.Steps == nil {
		r.Steps = make(map[string]*run.StepResult)
	}
	r.Steps[name] = stored
	return stored.Decode(out)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
