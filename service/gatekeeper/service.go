package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/aidant64/atlas/internal/idgen"
	"github.com/aidant64/atlas/model/run"
	"github.com/aidant64/atlas/service/event"
	"github.com/aidant64/atlas/service/runstore"
	"github.com/aidant64/atlas/tracing"
)

var refExpr = regexp.MustCompile(`PENDING REVIEW \(Ref: ([^)\s]+)\)`)

// PendingToken is returned to the agent while a run awaits review.
func PendingToken(ref string) string {
	return fmt.Sprintf("PENDING REVIEW (Ref: %s). This action has been queued for execution subject to governance checks.", ref)
}

// ParseRef extracts the review reference from a pending token.
func ParseRef(text string) (string, bool) {
	match := refExpr.FindStringSubmatch(text)
	if len(match) != 2 {
		return "", false
	}
	return match[1], true
}

// RunReader reads persisted runs.
type RunReader interface {
	Get(ctx context.Context, runID string) (*run.Run, error)
}

// Call is a governed tool invocation.
type Call struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	// Intent overrides the intent derived from the tool.
	Intent string `json:"intent,omitempty"`
}

// Response is what the calling agent sees.
type Response struct {
	Ref       string      `json:"ref"`
	Phase     run.Phase   `json:"phase"`
	Outcome   run.Outcome `json:"outcome,omitempty"`
	Pending   bool        `json:"pending"`
	RiskScore int         `json:"risk_score"`
	Rationale string      `json:"rationale,omitempty"`
	Text      string      `json:"text"`
}

// Service is the gatekeeper facade.
type Service struct {
	registry  *Registry
	publisher *event.Publisher[run.Request]
	runs      RunReader
	grace     time.Duration
	poll      time.Duration
	logger    *slog.Logger
}

// New creates a facade publishing requests through publisher.
func New(registry *Registry, publisher *event.Publisher[run.Request], runs RunReader, opts ...Option) *Service {
	ret := &Service{
		registry:  registry,
		publisher: publisher,
		runs:      runs,
		grace:     DefaultGraceWindow,
		poll:      DefaultPollInterval,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Registry returns the tool registry.
func (s *Service) Registry() *Registry { return s.registry }

// Invoke submits call for governance and waits up to the grace window for
// the outcome.
func (s *Service) Invoke(ctx context.Context, call *Call) (response *Response, err error) {
	ctx, span := tracing.StartSpan(ctx, "gatekeeper.Invoke", tracing.KindServer)
	defer func() { tracing.EndSpan(span, err) }()

	tool, err := s.registry.Lookup(call.ToolName)
	if err != nil {
		return nil, err
	}
	intent := call.Intent
	if intent == "" {
		intent = tool.IntentOf(call.Arguments)
	}
	request := run.Request{
		EventID:   idgen.EventID(),
		Intent:    intent,
		Context:   call.Context,
		ToolName:  tool.Name,
		Arguments: call.Arguments,
	}
	span.WithAttributes(map[string]string{"run_id": request.EventID, "tool_name": tool.Name})
	if _, err = s.publisher.Publish(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to submit %s: %w", tool.Name, err)
	}
	s.logger.InfoContext(ctx, "tool call submitted for governance", "run_id", request.EventID, "tool_name", tool.Name)
	return s.await(ctx, request.EventID)
}

// Status reports the current state of the run referenced by ref.
func (s *Service) Status(ctx context.Context, ref string) (*Response, error) {
	r, err := s.runs.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	return respond(r), nil
}

func (s *Service) await(ctx context.Context, ref string) (*Response, error) {
	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		r, err := s.runs.Get(ctx, ref)
		switch {
		case err == nil:
			if r.Completed() {
				return respond(r), nil
			}
		case errors.Is(err, runstore.ErrNotFound):
		default:
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			if r == nil {
				return &Response{Ref: ref, Phase: run.PhaseReceived, Pending: true, RiskScore: -1, Text: PendingToken(ref)}, nil
			}
			return respond(r), nil
		case <-ticker.C:
		}
	}
}

func respond(r *run.Run) *Response {
	ret := &Response{Ref: r.ID, Phase: r.Phase, Outcome: r.Outcome, RiskScore: r.RiskScore()}
	if r.Assessment != nil {
		ret.Rationale = r.Assessment.Rationale
	}
	if !r.Completed() {
		ret.Pending = true
		ret.Text = PendingToken(r.ID)
		return ret
	}
	switch r.Outcome {
	case run.OutcomeApproved:
		ret.Text = r.Result
	case run.OutcomeRejected:
		ret.Text = fmt.Sprintf("REJECTED (Ref: %s) by reviewer %s. Risk Score: %d. Rationale: %s", r.ID, r.Approver, ret.RiskScore, ret.Rationale)
	case run.OutcomeExpired:
		ret.Text = fmt.Sprintf("EXPIRED (Ref: %s): no reviewer decision before the deadline. Risk Score: %d. Rationale: %s", r.ID, ret.RiskScore, ret.Rationale)
	default:
		ret.Text = fmt.Sprintf("BLOCKED (Ref: %s): risk assessment unavailable. Risk Score: %d. Rationale: %s", r.ID, ret.RiskScore, ret.Rationale)
	}
	return ret
}
