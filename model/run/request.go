package run

import "time"

// Request represents a tool invocation an agent asked to execute. It is created
// once when the call arrives and never mutated afterwards.
type Request struct {
	EventID    string                 `json:"event_id"`
	Intent     string                 `json:"intent"`
	Context    map[string]interface{} `json:"context,omitempty"`
	ToolName   string                 `json:"tool_name"`
	Arguments  map[string]interface{} `json:"arguments,omitempty"`
	ReceivedAt time.Time              `json:"received_at"`
}

// DecisionEvent carries a reviewer verdict for the run suspended under Key.
type DecisionEvent struct {
	Key       string    `json:"event_id"`
	Decision  Decision  `json:"decision"`
	Approver  string    `json:"approver"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Assessment is the outcome of the risk assessment step
type Assessment struct {
	Score     int    `json:"risk_score"`
	Label     Label  `json:"risk_label"`
	Rationale string `json:"rationale"`
	// FailSafe marks an assessment synthesised after a scorer failure.
	FailSafe bool `json:"fail_safe,omitempty"`
}
