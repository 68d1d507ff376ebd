package runstore

import (
	"context"
	"time"

	"github.com/aidant64/atlas/model/run"
)

// Bookmark records a run suspended until a decision for Key arrives or
// Deadline passes.
type Bookmark struct {
	Key         string    `json:"key"`
	RunID       string    `json:"run_id"`
	Deadline    time.Time `json:"deadline"`
	SuspendedAt time.Time `json:"suspended_at"`
}

// Store is the durable state of the governance engine.
type Store interface {
	// Create registers a run for request; calling it again for the same
	// event_id returns the existing run id.
	Create(ctx context.Context, request *run.Request) (string, error)

	Get(ctx context.Context, runID string) (*run.Run, error)

	// Save persists engine progress.
	Save(ctx context.Context, r *run.Run) error

	// RecordStep memoizes a step result. The first stored result wins and is
	// returned to every caller.
	RecordStep(ctx context.Context, runID string, result *run.StepResult) (*run.StepResult, error)

	// Suspend moves the run to WAITING and bookmarks it under key.
	Suspend(ctx context.Context, runID, key string, deadline time.Time) error

	Lookup(ctx context.Context, key string) (*Bookmark, error)

	// Resume resolves the run waiting on key with decision.
	Resume(ctx context.Context, key string, decision *run.DecisionEvent) (string, error)

	// Expire resolves the run waiting on key as EXPIRED.
	Expire(ctx context.Context, key string, at time.Time) (string, error)

	ListPending(ctx context.Context) ([]*run.Run, error)

	// ListDue returns bookmarks whose deadline is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]*Bookmark, error)

	// ListIncomplete returns runs without completed_at.
	ListIncomplete(ctx context.Context) ([]*run.Run, error)

	// Claim grants exclusive ownership of a run for ttl.
	Claim(ctx context.Context, runID string, ttl time.Duration) (func(), error)
}
