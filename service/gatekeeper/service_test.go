package gatekeeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aidant64/atlas/model/run"
	"github.com/aidant64/atlas/service/assessor"
	"github.com/aidant64/atlas/service/audit"
	"github.com/aidant64/atlas/service/engine"
	"github.com/aidant64/atlas/service/event"
	"github.com/aidant64/atlas/service/messaging"
	"github.com/aidant64/atlas/service/runstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	gatekeeper *Service
	engine     *engine.Service
	audit      *audit.MemoryLogger
}

func newHarness(t *testing.T, grace time.Duration) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry, err := NewRegistry(WelfareTools()...)
	require.NoError(t, err)
	store := runstore.NewMemory()
	bus, err := event.New(messaging.VendorMemory)
	require.NoError(t, err)
	auditLogger := audit.NewMemoryLogger()
	eng, err := engine.New(store, bus, assessor.New(assessor.Simulated{}), auditLogger,
		engine.WithExecutor(registry), engine.WithLogger(logger))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{
		gatekeeper: New(registry, bus.Requests(), store, WithGraceWindow(grace), WithPollInterval(5*time.Millisecond), WithLogger(logger)),
		engine:     eng,
		audit:      auditLogger,
	}
}

func TestService_Invoke(t *testing.T) {
	var testCases = []struct {
		description string
		call        *Call
		pending     bool
		expectText  string
	}{
		{
			description: "low risk read returns the tool output",
			call:        &Call{ToolName: "check_payment_status", Arguments: map[string]interface{}{"beneficiary_id": "B-1"}},
			expectText:  "Payment Status for B-1: Active. Last payment: $500 on 2023-10-01.",
		},
		{
			description: "payment extension is held for review",
			call: &Call{ToolName: "request_payment_extension", Arguments: map[string]interface{}{"beneficiary_id": "B-1", "reason": "illness"},
				Context: map[string]interface{}{"user": "Alex"}},
			pending:    true,
			expectText: "PENDING REVIEW (Ref: ",
		},
		{
			description: "explicit intent overrides the tool template",
			call:        &Call{ToolName: "check_payment_status", Intent: "modify the payment schedule", Arguments: map[string]interface{}{"beneficiary_id": "B-2"}},
			pending:     true,
			expectText:  "PENDING REVIEW (Ref: ",
		},
	}
	h := newHarness(t, 300*time.Millisecond)
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			response, err := h.gatekeeper.Invoke(context.Background(), tc.call)
			require.NoError(t, err)
			assert.Equal(t, tc.pending, response.Pending)
			assert.True(t, strings.HasPrefix(response.Text, tc.expectText), response.Text)
			if tc.pending {
				ref, ok := ParseRef(response.Text)
				require.True(t, ok)
				assert.Equal(t, response.Ref, ref)
				assert.Equal(t, run.PhaseWaiting, response.Phase)
				assert.Equal(t, 85, response.RiskScore)
			}
		})
	}
}

func TestService_ReviewRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 300*time.Millisecond)
	response, err := h.gatekeeper.Invoke(ctx, &Call{ToolName: "modify_welfare_record",
		Arguments: map[string]interface{}{"beneficiary_id": "B-9", "changes": map[string]interface{}{"address": "1 Main St"}}})
	require.NoError(t, err)
	require.True(t, response.Pending)

	require.NoError(t, h.engine.HandleDecision(ctx, &run.DecisionEvent{Key: response.Ref, Decision: run.DecisionApproved, Approver: "sarah"}))
	status, err := h.gatekeeper.Status(ctx, response.Ref)
	require.NoError(t, err)
	assert.False(t, status.Pending)
	assert.Equal(t, run.OutcomeApproved, status.Outcome)
	assert.Equal(t, "Welfare record for B-9 updated.", status.Text)
	assert.Equal(t, 1, h.audit.Count(response.Ref))
}

func TestService_Rejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 300*time.Millisecond)
	response, err := h.gatekeeper.Invoke(ctx, &Call{ToolName: "request_payment_extension", Arguments: map[string]interface{}{"beneficiary_id": "B-3"}})
	require.NoError(t, err)
	require.NoError(t, h.engine.HandleDecision(ctx, &run.DecisionEvent{Key: response.Ref, Decision: run.DecisionRejected, Approver: "sarah"}))

	status, err := h.gatekeeper.Status(ctx, response.Ref)
	require.NoError(t, err)
	assert.Equal(t, run.OutcomeRejected, status.Outcome)
	assert.Contains(t, status.Text, "REJECTED (Ref: "+response.Ref+")")
	assert.Contains(t, status.Text, "Risk Score: 85")
}

func TestService_Errors(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	_, err := h.gatekeeper.Invoke(context.Background(), &Call{ToolName: "delete_everything"})
	assert.True(t, errors.Is(err, ErrUnknownTool))

	_, err = h.gatekeeper.Status(context.Background(), "evt_missing")
	assert.True(t, errors.Is(err, runstore.ErrNotFound))
}

func TestParseRef(t *testing.T) {
	var testCases = []struct {
		text   string
		ref    string
		expect bool
	}{
		{text: PendingToken("evt_0a1b2c3d"), ref: "evt_0a1b2c3d", expect: true},
		{text: "PENDING REVIEW (Ref: evt_12345678)", ref: "evt_12345678", expect: true},
		{text: "Payment Status for B-1: Active.", expect: false},
		{text: "PENDING REVIEW (Ref: )", expect: false},
	}
	for _, tc := range testCases {
		ref, ok := ParseRef(tc.text)
		assert.Equal(t, tc.expect, ok, tc.text)
		assert.Equal(t, tc.ref, ref, tc.text)
	}
}

func TestRegistry(t *testing.T) {
	registry, err := NewRegistry(WelfareTools()...)
	require.NoError(t, err)
	assert.Len(t, registry.Tools(), 3)
	assert.Equal(t, "check_payment_status", registry.Tools()[0].Name)

	assert.Error(t, registry.Register(WelfareTools()[0]))
	assert.Error(t, registry.Register(&Tool{Name: "no_handler"}))

	output, err := registry.Execute(context.Background(), &run.Request{ToolName: "check_payment_status", Arguments: map[string]interface{}{"beneficiary_id": "B-7"}})
	require.NoError(t, err)
	assert.Contains(t, output, "B-7")

	_, err = registry.Execute(context.Background(), &run.Request{ToolName: "unknown"})
	assert.True(t, errors.Is(err, ErrUnknownTool))

	tool := &Tool{Name: "plain", Handler: func(context.Context, map[string]interface{}) (string, error) { return "", nil }}
	assert.Equal(t, "plain", tool.IntentOf(nil))
}
