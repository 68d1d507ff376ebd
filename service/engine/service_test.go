package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aidant64/atlas/internal/clock"
	"github.com/aidant64/atlas/model/run"
	"github.com/aidant64/atlas/policy"
	"github.com/aidant64/atlas/service/assessor"
	"github.com/aidant64/atlas/service/audit"
	"github.com/aidant64/atlas/service/event"
	"github.com/aidant64/atlas/service/messaging"
	"github.com/aidant64/atlas/service/runstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type countingScorer struct {
	calls int32
	fn    func(prompt string) (string, error)
}

func (c *countingScorer) Score(ctx context.Context, prompt string) (string, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.fn(prompt)
}

func (c *countingScorer) Calls() int { return int(atomic.LoadInt32(&c.calls)) }

func fixed(text string) *countingScorer {
	return &countingScorer{fn: func(string) (string, error) { return text, nil }}
}

func simulated() *countingScorer {
	return &countingScorer{fn: func(prompt string) (string, error) {
		return assessor.Simulated{}.Score(context.Background(), prompt)
	}}
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (e *recordingExecutor) Execute(ctx context.Context, request *run.Request) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, request.EventID)
	if e.err != nil {
		return "", e.err
	}
	return "executed " + request.ToolName, nil
}

func (e *recordingExecutor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type fixture struct {
	clock    *clock.Manual
	store    runstore.Store
	audit    *audit.MemoryLogger
	scorer   *countingScorer
	executor *recordingExecutor
	engine   *Service
}

func testPolicy() *policy.Policy {
	p := policy.Default()
	p.Retry = policy.Retry{Type: policy.RetryExponential, MaxRetries: 2, Delay: time.Millisecond, Multiplier: 2}
	return p
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, scorer *countingScorer, options ...Option) *fixture {
	t.Helper()
	manual := clock.NewManual(epoch)
	f := &fixture{
		clock:    manual,
		store:    runstore.NewMemory(runstore.WithClock(manual.Now)),
		audit:    audit.NewMemoryLogger(),
		scorer:   scorer,
		executor: &recordingExecutor{},
	}
	f.engine = f.newEngine(t, options...)
	return f
}

func (f *fixture) newEngine(t *testing.T, options ...Option) *Service {
	t.Helper()
	opts := append([]Option{
		WithPolicy(testPolicy()),
		WithExecutor(f.executor),
		WithClock(f.clock.Now),
		WithLogger(quietLogger()),
	}, options...)
	engine, err := New(f.store, nil, assessor.New(f.scorer, assessor.WithClock(f.clock.Now)), f.audit, opts...)
	require.NoError(t, err)
	return engine
}

func (f *fixture) get(t *testing.T, id string) *run.Run {
	t.Helper()
	r, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}

func request(id, tool, intent string) *run.Request {
	return &run.Request{
		EventID:   id,
		Intent:    intent,
		ToolName:  tool,
		Context:   map[string]interface{}{"user": "Alex", "role": "beneficiary"},
		Arguments: map[string]interface{}{"beneficiary_id": "B-1"},
	}
}

func decision(id string, d run.Decision) *run.DecisionEvent {
	return &run.DecisionEvent{Key: id, Decision: d, Approver: "sarah", Note: "checked", Timestamp: epoch}
}

func TestLowRiskRequestAutoApproves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, simulated())
	require.NoError(t, f.engine.HandleRequest(ctx, request("evt_0000000a", "check_payment_status", "Check payment status for B-1")))

	r := f.get(t, "evt_0000000a")
	assert.Equal(t, run.PhaseResolved, r.Phase)
	assert.Equal(t, run.OutcomeApproved, r.Outcome)
	assert.True(t, r.Visited(run.PhaseAutoApproved))
	assert.False(t, r.Visited(run.PhaseWaiting))
	assert.True(t, r.Completed())
	assert.Equal(t, 10, r.Assessment.Score)
	assert.Equal(t, "executed check_payment_status", r.Result)
	assert.Equal(t, 1, f.executor.Calls())

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.OutcomeExecuted, entries[0].FinalOutcome)
	assert.Equal(t, 10, entries[0].RiskScore)
}

func TestHighRiskRequestApprovedByReviewer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed("Risk Score: 95\nModification of a welfare record."))
	require.NoError(t, f.engine.HandleRequest(ctx, request("evt_0000000b", "modify_welfare_record", "modify welfare record")))

	r := f.get(t, "evt_0000000b")
	assert.Equal(t, run.PhaseWaiting, r.Phase)
	assert.Equal(t, 95, r.Assessment.Score)
	assert.Equal(t, run.LabelBlock, r.Assessment.Label)
	assert.Equal(t, "evt_0000000b", r.CorrelationKey)
	assert.True(t, epoch.Add(72*time.Hour).Equal(*r.Deadline))
	assert.Empty(t, f.audit.Entries())
	assert.Equal(t, 0, f.executor.Calls())

	f.clock.Advance(2 * time.Hour)
	approval := decision("evt_0000000b", run.DecisionApproved)
	approval.Approver = "Sarah"
	require.NoError(t, f.engine.HandleDecision(ctx, approval))

	r = f.get(t, "evt_0000000b")
	assert.Equal(t, run.PhaseResolved, r.Phase)
	assert.Equal(t, run.OutcomeApproved, r.Outcome)
	assert.Equal(t, "Sarah", r.Approver)
	assert.True(t, r.Completed())
	assert.Equal(t, 1, f.executor.Calls())
	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.OutcomeExecuted, entries[0].FinalOutcome)
	assert.Equal(t, "Sarah", entries[0].Approver)
}

func TestSimulatedScorerEscalatesExtension(t *testing.T) {
	f := newFixture(t, simulated())
	require.NoError(t, f.engine.HandleRequest(context.Background(), request("evt_0000000e", "request_payment_extension", "Request payment extension for B-1 because illness")))
	r := f.get(t, "evt_0000000e")
	assert.Equal(t, run.PhaseWaiting, r.Phase)
	assert.Equal(t, 85, r.Assessment.Score)
}

func TestHighRiskRequestRejectedByReviewer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, simulated())
	require.NoError(t, f.engine.HandleRequest(ctx, request("evt_0000000c", "modify_welfare_record", "Modify welfare record for B-1")))
	require.NoError(t, f.engine.HandleDecision(ctx, decision("evt_0000000c", run.DecisionRejected)))

	r := f.get(t, "evt_0000000c")
	assert.Equal(t, run.OutcomeRejected, r.Outcome)
	assert.Equal(t, 0, f.executor.Calls())
	assert.Equal(t, audit.OutcomeRejected, f.audit.Entries()[0].FinalOutcome)
}

func TestReviewExpiresAtDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, simulated())
	require.NoError(t, f.engine.HandleRequest(ctx, request("evt_0000000d", "modify_welfare_record", "Modify welfare record for B-1")))

	// unrelated traffic while the run waits must not move its deadline
	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Hour)
		other := fmt.Sprintf("evt_1000000%d", i)
		require.NoError(t, f.engine.HandleRequest(ctx, request(other, "modify_welfare_record", "Modify welfare record for B-2")))
		require.NoError(t, f.engine.HandleDecision(ctx, decision(other, run.DecisionApproved)))
		require.NoError(t, f.engine.HandleDecision(ctx, decision("evt_unrelated", run.DecisionRejected)))
		_, err := f.engine.ExpireDue(ctx)
		require.NoError(t, err)
		_, err = f.engine.RedriveStalled(ctx)
		require.NoError(t, err)
	}
	r := f.get(t, "evt_0000000d")
	assert.Equal(t, run.PhaseWaiting, r.Phase)
	assert.True(t, epoch.Add(72*time.Hour).Equal(*r.Deadline))
	assert.Len(t, f.audit.Entries(), 5)

	f.clock.Advance(67*time.Hour - time.Second)
	expired, err := f.engine.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	f.clock.Advance(time.Second)
	expired, err = f.engine.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	r = f.get(t, "evt_0000000d")
	assert.Equal(t, run.PhaseExpired, r.Phase)
	assert.Equal(t, run.OutcomeExpired, r.Outcome)
	assert.True(t, r.Completed())
	assert.Equal(t, 5, f.executor.Calls())
	assert.Equal(t, 1, f.audit.Count("evt_0000000d"))
	entries := f.audit.Entries()
	require.Len(t, entries, 6)
	assert.Equal(t, audit.OutcomeExpired, entries[5].FinalOutcome)

	expired, err = f.engine.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
}

func TestThresholdBoundary(t *testing.T) {
	var testCases = []struct {
		score    int
		expected run.Phase
	}{
		{score: 0, expected: run.PhaseResolved},
		{score: 69, expected: run.PhaseResolved},
		{score: 70, expected: run.PhaseWaiting},
		{score: 100, expected: run.PhaseWaiting},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("score %d", tc.score), func(t *testing.T) {
			f := newFixture(t, fixed(fmt.Sprintf("Score: %d", tc.score)))
			require.NoError(t, f.engine.HandleRequest(context.Background(), request("evt_00000069", "check_payment_status", "lookup")))
			assert.Equal(t, tc.expected, f.get(t, "evt_00000069").Phase)
		})
	}
}

func TestAlwaysReviewEscalatesLowScore(t *testing.T) {
	p := testPolicy()
	p.AlwaysReview = []string{"modify_welfare_record"}
	f := newFixture(t, fixed("Score: 5"), WithPolicy(p))
	require.NoError(t, f.engine.HandleRequest(context.Background(), request("evt_00000070", "modify_welfare_record", "fix typo")))
	assert.Equal(t, run.PhaseWaiting, f.get(t, "evt_00000070").Phase)
}

func TestFailClosed_ExhaustedRetries(t *testing.T) {
	scorer := &countingScorer{fn: func(string) (string, error) { return "", errors.New("connection refused") }}
	f := newFixture(t, scorer)
	require.NoError(t, f.engine.HandleRequest(context.Background(), request("evt_000000ee", "check_payment_status", "lookup")))

	r := f.get(t, "evt_000000ee")
	assert.Equal(t, run.PhaseError, r.Phase)
	assert.Equal(t, run.OutcomeError, r.Outcome)
	assert.Equal(t, 100, r.Assessment.Score)
	assert.Equal(t, run.LabelBlock, r.Assessment.Label)
	assert.True(t, r.Completed())
	assert.Equal(t, 3, scorer.Calls())
	assert.Equal(t, 0, f.executor.Calls())
	require.Len(t, f.audit.Entries(), 1)
	assert.Equal(t, audit.OutcomeError, f.audit.Entries()[0].FinalOutcome)
}

func TestFailClosed_MalformedResponseEscalates(t *testing.T) {
	f := newFixture(t, fixed(""))
	require.NoError(t, f.engine.HandleRequest(context.Background(), request("evt_000000ef", "check_payment_status", "lookup")))
	r := f.get(t, "evt_000000ef")
	assert.Equal(t, run.PhaseWaiting, r.Phase)
	assert.Equal(t, 100, r.Assessment.Score)
	assert.True(t, r.Assessment.FailSafe)
}

func TestRedeliveredRequestIsMemoized(t *testing.T) {
	ctx := context.Background()
	scorer := fixed("Score: 30")
	f := newFixture(t, scorer)
	req := request("evt_000000aa", "check_payment_status", "lookup")
	for i := 0; i < 3; i++ {
		require.NoError(t, f.engine.HandleRequest(ctx, req))
	}
	assert.Equal(t, 1, scorer.Calls())
	assert.Equal(t, 1, f.executor.Calls())
	assert.Equal(t, 1, f.audit.Count("evt_000000aa"))
}

func TestDuplicateDecisionResolvesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed("Score: 90"))
	require.NoError(t, f.engine.HandleRequest(ctx, request("evt_000000dd", "modify_welfare_record", "modify")))

	require.NoError(t, f.engine.HandleDecision(ctx, decision("evt_000000dd", run.DecisionApproved)))
	require.NoError(t, f.engine.HandleDecision(ctx, decision("evt_000000dd", run.DecisionRejected)))

	r := f.get(t, "evt_000000dd")
	assert.Equal(t, run.OutcomeApproved, r.Outcome)
	assert.Equal(t, 1, f.executor.Calls())
	assert.Equal(t, 1, f.audit.Count("evt_000000dd"))
}

func TestConcurrentDecisions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed("Score: 90"))
	require.NoError(t, f.engine.HandleRequest(ctx, request("evt_000000cc", "modify_welfare_record", "modify")))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := f.engine.HandleDecision(ctx, decision("evt_000000cc", run.DecisionApproved))
				if !errors.Is(err, runstore.ErrClaimed) {
					assert.NoError(t, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, f.executor.Calls())
	assert.Equal(t, 1, f.audit.Count("evt_000000cc"))
}

func TestLateDecisionExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed("Score: 80"))
	require.NoError(t, f.engine.HandleRequest(ctx, request("evt_000000ff", "request_payment_extension", "extension")))
	f.clock.Advance(72 * time.Hour)
	require.NoError(t, f.engine.HandleDecision(ctx, decision("evt_000000ff", run.DecisionApproved)))

	r := f.get(t, "evt_000000ff")
	assert.Equal(t, run.PhaseExpired, r.Phase)
	assert.Empty(t, r.Approver)
	assert.Equal(t, 0, f.executor.Calls())
	assert.Equal(t, audit.OutcomeExpired, f.audit.Entries()[0].FinalOutcome)
}

func TestUnknownAndInvalidDecisionsAreDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed("Score: 80"))
	assert.NoError(t, f.engine.HandleDecision(ctx, decision("evt_unknown", run.DecisionApproved)))
	assert.NoError(t, f.engine.HandleDecision(ctx, &run.DecisionEvent{Key: "evt_unknown", Decision: "MAYBE"}))
}

func TestActionFailureKeepsOutcome(t *testing.T) {
	f := newFixture(t, fixed("Score: 5"))
	f.executor.err = errors.New("registry offline")
	require.NoError(t, f.engine.HandleRequest(context.Background(), request("evt_000000a1", "check_payment_status", "lookup")))

	r := f.get(t, "evt_000000a1")
	assert.Equal(t, run.OutcomeApproved, r.Outcome)
	assert.Equal(t, "Action failed: registry offline", r.Result)
	assert.Equal(t, audit.OutcomeExecuted, f.audit.Entries()[0].FinalOutcome)
}

func TestRecover_ResumesFromMemoizedStep(t *testing.T) {
	ctx := context.Background()
	scorer := &countingScorer{fn: func(string) (string, error) {
		return "", errors.New("scorer must not be called")
	}}
	f := newFixture(t, scorer)

	_, err := f.store.Create(ctx, request("evt_000000b1", "check_payment_status", "lookup"))
	require.NoError(t, err)
	r := f.get(t, "evt_000000b1")
	r.Transition(run.PhaseAssessing, epoch)
	require.NoError(t, f.store.Save(ctx, r))
	output, err := json.Marshal(&run.Assessment{Score: 20, Label: run.LabelRoutine, Rationale: "routine"})
	require.NoError(t, err)
	_, err = f.store.RecordStep(ctx, "evt_000000b1", &run.StepResult{Name: run.StepAssessRisk, Output: output, Attempts: 1})
	require.NoError(t, err)

	require.NoError(t, f.newEngine(t).Recover(ctx))
	r = f.get(t, "evt_000000b1")
	assert.Equal(t, run.PhaseResolved, r.Phase)
	assert.True(t, r.Completed())
	assert.Equal(t, 0, scorer.Calls())
	assert.Equal(t, 1, f.audit.Count("evt_000000b1"))
}

func TestRecover_RestoresBookmarkAndExpiresOverdue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed("Score: 5"))

	_, err := f.store.Create(ctx, request("evt_000000b2", "modify_welfare_record", "modify"))
	require.NoError(t, err)
	r := f.get(t, "evt_000000b2")
	deadline := epoch.Add(time.Hour)
	r.Assessment = &run.Assessment{Score: 88, Label: run.LabelEscalate}
	r.CorrelationKey = r.ID
	r.Deadline = &deadline
	r.Transition(run.PhaseWaiting, epoch)
	require.NoError(t, f.store.Save(ctx, r))

	engine := f.newEngine(t)
	require.NoError(t, engine.Recover(ctx))
	bookmark, err := f.store.Lookup(ctx, "evt_000000b2")
	require.NoError(t, err)
	assert.Equal(t, "evt_000000b2", bookmark.RunID)

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, engine.Recover(ctx))
	r = f.get(t, "evt_000000b2")
	assert.Equal(t, run.PhaseExpired, r.Phase)
	assert.Equal(t, 1, f.audit.Count("evt_000000b2"))
}

func TestRecover_AuditAlreadyWritten(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed("Score: 5"))
	_, err := f.store.Create(ctx, request("evt_000000b3", "check_payment_status", "lookup"))
	require.NoError(t, err)
	r := f.get(t, "evt_000000b3")
	r.Assessment = &run.Assessment{Score: 5, Label: run.LabelRoutine}
	r.Outcome = run.OutcomeRejected
	r.Transition(run.PhaseResolved, epoch)
	require.NoError(t, f.store.Save(ctx, r))
	require.NoError(t, f.audit.Append(ctx, audit.NewEntry(r, epoch)))

	require.NoError(t, f.newEngine(t).Recover(ctx))
	assert.True(t, f.get(t, "evt_000000b3").Completed())
	assert.Equal(t, 1, f.audit.Count("evt_000000b3"))
}

func TestRedriveStalled(t *testing.T) {
	var testCases = []struct {
		description string
		prepare     func(t *testing.T, f *fixture, id string)
	}{
		{
			description: "received",
			prepare:     func(t *testing.T, f *fixture, id string) {},
		},
		{
			description: "assessing with memoized step",
			prepare: func(t *testing.T, f *fixture, id string) {
				ctx := context.Background()
				r := f.get(t, id)
				r.Transition(run.PhaseAssessing, epoch)
				require.NoError(t, f.store.Save(ctx, r))
				output, err := json.Marshal(&run.Assessment{Score: 20, Label: run.LabelRoutine, Rationale: "routine"})
				require.NoError(t, err)
				_, err = f.store.RecordStep(ctx, id, &run.StepResult{Name: run.StepAssessRisk, Output: output, Attempts: 1})
				require.NoError(t, err)
			},
		},
		{
			description: "resolved without audit",
			prepare: func(t *testing.T, f *fixture, id string) {
				r := f.get(t, id)
				r.Assessment = &run.Assessment{Score: 20, Label: run.LabelRoutine}
				r.Outcome = run.OutcomeApproved
				r.Transition(run.PhaseResolved, epoch)
				require.NoError(t, f.store.Save(context.Background(), r))
			},
		},
		{
			description: "waiting without bookmark",
			prepare: func(t *testing.T, f *fixture, id string) {
				r := f.get(t, id)
				deadline := epoch.Add(time.Hour)
				r.Assessment = &run.Assessment{Score: 88, Label: run.LabelEscalate}
				r.CorrelationKey = r.ID
				r.Deadline = &deadline
				r.Transition(run.PhaseWaiting, epoch)
				require.NoError(t, f.store.Save(context.Background(), r))
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, fixed("Score: 20"))
			id := "evt_000000c1"
			_, err := f.store.Create(ctx, request(id, "check_payment_status", "lookup"))
			require.NoError(t, err)
			tc.prepare(t, f, id)

			driven, err := f.engine.RedriveStalled(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, driven)

			f.clock.Advance(2 * time.Minute)
			driven, err = f.engine.RedriveStalled(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, driven)

			r := f.get(t, id)
			if r.Phase == run.PhaseWaiting {
				bookmark, err := f.store.Lookup(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, id, bookmark.RunID)
				return
			}
			assert.True(t, r.Completed())
			assert.Equal(t, 1, f.audit.Count(id))
			assert.LessOrEqual(t, f.scorer.Calls(), 1)

			driven, err = f.engine.RedriveStalled(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, driven)
		})
	}
}

func startEngine(t *testing.T, f *fixture) (*event.Service, chan error) {
	t.Helper()
	bus, err := event.New(messaging.VendorMemory)
	require.NoError(t, err)
	f.engine.bus = bus
	done := make(chan error, 1)
	go func() { done <- f.engine.Start(context.Background()) }()
	t.Cleanup(func() {
		f.engine.Shutdown()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return bus, done
}

func TestStart_DrivesRunLeftBehindByCrashedOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed("Score: 20"), WithConfig(Config{Workers: 1, ReaperInterval: 5 * time.Millisecond, ClaimTTL: time.Minute}))
	_, err := f.store.Create(ctx, request("evt_crash001", "check_payment_status", "lookup"))
	require.NoError(t, err)
	// a lease that is never released
	_, err = f.store.Claim(ctx, "evt_crash001", time.Minute)
	require.NoError(t, err)

	startEngine(t, f)
	time.Sleep(50 * time.Millisecond)
	r := f.get(t, "evt_crash001")
	assert.Equal(t, run.PhaseReceived, r.Phase)
	assert.False(t, r.Completed())

	f.clock.Advance(10 * time.Minute)
	assert.Eventually(t, func() bool {
		r, err := f.store.Get(ctx, "evt_crash001")
		return err == nil && r.Completed()
	}, 2*time.Second, 5*time.Millisecond)
	r = f.get(t, "evt_crash001")
	assert.Equal(t, run.PhaseResolved, r.Phase)
	assert.Equal(t, run.OutcomeApproved, r.Outcome)
	assert.Equal(t, 1, f.scorer.Calls())
	assert.Equal(t, 1, f.audit.Count("evt_crash001"))
}

func TestStart_DecisionWaitsForStaleClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed("Score: 95"))
	require.NoError(t, f.engine.HandleRequest(ctx, request("evt_000000d5", "modify_welfare_record", "modify welfare record")))
	_, err := f.store.Claim(ctx, "evt_000000d5", time.Minute)
	require.NoError(t, err)

	bus, _ := startEngine(t, f)
	approval := decision("evt_000000d5", run.DecisionApproved)
	approval.Approver = "Sarah"
	_, err = bus.Decisions().Publish(ctx, *approval)
	require.NoError(t, err)

	// longer than the memory queue needs to exhaust its redeliveries
	time.Sleep(800 * time.Millisecond)
	assert.Equal(t, run.PhaseWaiting, f.get(t, "evt_000000d5").Phase)

	f.clock.Advance(10 * time.Minute)
	assert.Eventually(t, func() bool {
		r, err := f.store.Get(ctx, "evt_000000d5")
		return err == nil && r.Completed()
	}, 3*time.Second, 5*time.Millisecond)
	r := f.get(t, "evt_000000d5")
	assert.Equal(t, run.PhaseResolved, r.Phase)
	assert.Equal(t, run.OutcomeApproved, r.Outcome)
	assert.Equal(t, "Sarah", r.Approver)
	assert.Equal(t, 1, f.executor.Calls())
}

type unavailableStore struct {
	runstore.Store
}

func (unavailableStore) Create(context.Context, *run.Request) (string, error) {
	return "", fmt.Errorf("%w: disk full", runstore.ErrUnavailable)
}

func TestStart_EndToEndAndFatalStore(t *testing.T) {
	t.Run("processes bus events", func(t *testing.T) {
		f := newFixture(t, simulated())
		bus, err := event.New(messaging.VendorMemory)
		require.NoError(t, err)
		f.engine.bus = bus
		done := make(chan error, 1)
		go func() { done <- f.engine.Start(context.Background()) }()

		ctx := context.Background()
		_, err = bus.Requests().Publish(ctx, *request("evt_000000e1", "modify_welfare_record", "Modify welfare record for B-1"))
		require.NoError(t, err)
		assert.Eventually(t, func() bool {
			r, err := f.store.Get(ctx, "evt_000000e1")
			return err == nil && r.Phase == run.PhaseWaiting
		}, 2*time.Second, 5*time.Millisecond)

		_, err = bus.Decisions().Publish(ctx, *decision("evt_000000e1", run.DecisionApproved))
		require.NoError(t, err)
		assert.Eventually(t, func() bool {
			r, err := f.store.Get(ctx, "evt_000000e1")
			return err == nil && r.Completed()
		}, 2*time.Second, 5*time.Millisecond)

		f.engine.Shutdown()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("engine did not stop")
		}
	})

	t.Run("store failure stops the engine", func(t *testing.T) {
		f := newFixture(t, simulated())
		f.store = unavailableStore{Store: f.store}
		bus, err := event.New(messaging.VendorMemory)
		require.NoError(t, err)
		engine := f.newEngine(t)
		engine.bus = bus
		done := make(chan error, 1)
		go func() { done <- engine.Start(context.Background()) }()

		_, err = bus.Requests().Publish(context.Background(), *request("evt_000000e2", "check_payment_status", "lookup"))
		require.NoError(t, err)
		select {
		case err := <-done:
			assert.ErrorIs(t, err, runstore.ErrUnavailable)
		case <-time.After(2 * time.Second):
			t.Fatal("engine did not stop on store failure")
		}
	})
}
