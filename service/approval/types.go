package approval

import (
	"time"

	"github.com/aidant64/atlas/model/run"
)

// Request is a reviewer's view of a run waiting for a decision.
type Request struct {
	Ref       string                 `json:"ref"` // run id and decision correlation key
	ToolName  string                 `json:"tool_name"`
	Intent    string                 `json:"intent"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RiskScore int                    `json:"risk_score"`
	RiskLabel run.Label              `json:"risk_label"`
	Rationale string                 `json:"rationale"`
	CreatedAt time.Time              `json:"created_at"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty"`
}

// NewRequest projects a waiting run.
func NewRequest(r *run.Run) *Request {
	ret := &Request{
		Ref:       r.CorrelationKey,
		RiskScore: r.RiskScore(),
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.Deadline,
	}
	if ret.Ref == "" {
		ret.Ref = r.ID
	}
	if r.Request != nil {
		ret.ToolName = r.Request.ToolName
		ret.Intent = r.Request.Intent
		ret.Arguments = r.Request.Arguments
		ret.Context = r.Request.Context
	}
	if r.Assessment != nil {
		ret.RiskLabel = r.Assessment.Label
		ret.Rationale = r.Assessment.Rationale
	}
	return ret
}

// PendingFilter narrows ListPending results.
type PendingFilter func(r *Request) bool

// WithToolName keeps requests for the named tool.
func WithToolName(name string) PendingFilter {
	return func(r *Request) bool { return r.ToolName == name }
}

// WithMinScore keeps requests scored at or above score.
func WithMinScore(score int) PendingFilter {
	return func(r *Request) bool { return r.RiskScore >= score }
}

// WithExpiringBefore keeps requests whose review deadline is before t.
func WithExpiringBefore(t time.Time) PendingFilter {
	return func(r *Request) bool { return r.ExpiresAt != nil && r.ExpiresAt.Before(t) }
}
