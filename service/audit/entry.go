package audit

import (
	"time"

	"github.com/aidant64/atlas/model/run"
)

// FinalOutcome classifies how a governed action ended.
type FinalOutcome string

const (
	OutcomeExecuted FinalOutcome = "EXECUTED"
	OutcomeRejected FinalOutcome = "REJECTED"
	OutcomeExpired  FinalOutcome = "EXPIRED"
	OutcomeError    FinalOutcome = "ERROR"

	// StatusPausedForReview is reported for waiting runs. It is never written
	// to the audit log.
	StatusPausedForReview = "PAUSED_FOR_REVIEW"
)

// Entry is one line of the audit trail.
type Entry struct {
	Timestamp    time.Time              `json:"timestamp"`
	RunID        string                 `json:"run_id"`
	Intent       string                 `json:"intent"`
	Context      map[string]interface{} `json:"context,omitempty"`
	ToolName     string                 `json:"tool_name"`
	Arguments    map[string]interface{} `json:"arguments,omitempty"`
	RiskScore    int                    `json:"risk_score"`
	RiskLabel    run.Label              `json:"risk_label"`
	Rationale    string                 `json:"rationale"`
	FinalOutcome FinalOutcome           `json:"final_outcome"`
	Approver     string                 `json:"approver,omitempty"`
	Note         string                 `json:"note,omitempty"`
}

// OutcomeOf maps a run outcome onto the audit classification.
func OutcomeOf(outcome run.Outcome) FinalOutcome {
	switch outcome {
	case run.OutcomeApproved:
		return OutcomeExecuted
	case run.OutcomeRejected:
		return OutcomeRejected
	case run.OutcomeExpired:
		return OutcomeExpired
	}
	return OutcomeError
}

// NewEntry builds the audit entry of a terminal run.
func NewEntry(r *run.Run, at time.Time) *Entry {
	ret := &Entry{
		Timestamp:    at,
		RunID:        r.ID,
		FinalOutcome: OutcomeOf(r.Outcome),
		Approver:     r.Approver,
		Note:         r.Note,
	}
	if r.Request != nil {
		ret.Intent = r.Request.Intent
		ret.Context = r.Request.Context
		ret.ToolName = r.Request.ToolName
		ret.Arguments = r.Request.Arguments
	}
	if r.Assessment != nil {
		ret.RiskScore = r.Assessment.Score
		ret.RiskLabel = r.Assessment.Label
		ret.Rationale = r.Assessment.Rationale
	}
	return ret
}
