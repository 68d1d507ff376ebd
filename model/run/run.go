package run

import (
	"encoding/json"
	"time"
)

// Step names memoized by the engine.
const (
	StepAssessRisk    = "assess_risk"
	StepExecuteAction = "execute_action"
	StepAuditLog      = "audit_log"
)

// StepResult is the memoized outcome of a named unit of work.
type StepResult struct {
	Name        string          `json:"name"`
	Output      json.RawMessage `json:"output,omitempty"`
	Attempts    int             `json:"attempts,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
}

// Decode unmarshals the memoized output into v.
func (s *StepResult) Decode(v interface{}) error {
	if s == nil || len(s.Output) == 0 || v == nil {
		return nil
	}
	return json.Unmarshal(s.Output, v)
}

// Transition records when a run entered a phase.
type Transition struct {
	Phase Phase     `json:"phase"`
	At    time.Time `json:"at"`
}

// Run represents the durable state of one governance workflow execution.
type Run struct {
	ID             string                 `json:"id"`
	Request        *Request               `json:"request"`
	Phase          Phase                  `json:"phase"`
	Assessment     *Assessment            `json:"assessment,omitempty"`
	Steps          map[string]*StepResult `json:"steps,omitempty"`
	CorrelationKey string                 `json:"correlationKey,omitempty"`
	Deadline       *time.Time             `json:"deadline,omitempty"`
	Approver       string                 `json:"approver,omitempty"`
	Note           string                 `json:"note,omitempty"`
	DecidedAt      *time.Time             `json:"decidedAt,omitempty"`
	Outcome        Outcome                `json:"outcome,omitempty"`
	Result         string                 `json:"result,omitempty"`
	Transitions    []Transition           `json:"transitions,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
}

// New creates a run for the supplied request in the RECEIVED phase.
func New(request *Request, now time.Time) *Run {
	ret := &Run{
		ID:        request.EventID,
		Request:   request,
		Steps:     make(map[string]*StepResult),
		CreatedAt: now,
	}
	ret.Transition(PhaseReceived, now)
	return ret
}

// Transition moves the run to phase p.
func (r *Run) Transition(p Phase, at time.Time) {
	r.Phase = p
	r.UpdatedAt = at
	r.Transitions = append(r.Transitions, Transition{Phase: p, At: at})
}

// Visited reports whether the run ever entered phase p.
func (r *Run) Visited(p Phase) bool {
	for _, t := range r.Transitions {
		if t.Phase == p {
			return true
		}
	}
	return false
}

// Step returns the memoized result for name or nil.
func (r *Run) Step(name string) *StepResult {
	if r.Steps == nil {
		return nil
	}
	return r.Steps[name]
}

// Completed reports whether the run reached a terminal phase and its audit
// entry was written.
func (r *Run) Completed() bool {
	return r.CompletedAt != nil
}

// RiskScore returns the assessed score, or -1 before assessment.
func (r *Run) RiskScore() int {
	if r.Assessment == nil {
		return -1
	}
	return r.Assessment.Score
}

// Clone returns a deep copy so that stores can hand out values callers may
// mutate freely.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		cp := *r
		return &cp
	}
	ret := &Run{}
	if err = json.Unmarshal(data, ret); err != nil {
		cp := *r
		return &cp
	}
	return ret
}
