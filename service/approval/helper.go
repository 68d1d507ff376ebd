package approval

import (
	"context"
	"errors"
	"sync"
	"time"
)

// AutoApprover is the approver recorded for automatic decisions.
const AutoApprover = "auto-decider"

// DecisionFunc decides what to do with a pending request.
// Return (true,  "") to approve
//
//	(false, "…") to reject with a note.
type DecisionFunc func(r *Request) (approved bool, note string)

// AutoDecider starts a goroutine that polls ListPending and applies fn to
// every request once.  It returns stop() – call it (or cancel ctx) to exit.
func AutoDecider(ctx context.Context,
	svc Service,
	fn DecisionFunc,
	interval time.Duration) (stop func()) {

	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		decided := make(map[string]bool)

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				reqs, _ := svc.ListPending(ctx)
				for _, r := range reqs {
					if decided[r.Ref] {
						continue
					}
					ok, note := fn(r)
					_, err := svc.Decide(ctx, r.Ref, ok, AutoApprover, note)
					if err == nil || errors.Is(err, ErrNotPending) {
						decided[r.Ref] = true
					}
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// AutoApprove automatically approves all pending requests
func AutoApprove(ctx context.Context,
	svc Service,
	interval time.Duration) func() {
	return AutoDecider(ctx, svc,
		func(*Request) (bool, string) { return true, "" }, interval)
}

// AutoReject automatically rejects all pending requests with the given note
func AutoReject(ctx context.Context,
	svc Service,
	note string,
	interval time.Duration) func() {
	return AutoDecider(ctx, svc,
		func(*Request) (bool, string) { return false, note }, interval)
}
