package run

// Phase represents the current state of a governance run
type Phase string

const (
	PhaseReceived     Phase = "RECEIVED"
	PhaseAssessing    Phase = "ASSESSING"
	PhaseAutoApproved Phase = "AUTO_APPROVED"
	// PhaseWaiting indicates the run is suspended until a reviewer decides or
	// the review deadline passes. Nothing executes on behalf of a waiting run.
	PhaseWaiting  Phase = "WAITING"
	PhaseResolved Phase = "RESOLVED"
	PhaseExpired  Phase = "EXPIRED"
	PhaseError    Phase = "ERROR"
)

// IsTerminal reports whether no further transition is possible.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseResolved, PhaseExpired, PhaseError:
		return true
	}
	return false
}

// Outcome is the terminal result of a run
type Outcome string

const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeExpired  Outcome = "EXPIRED"
	OutcomeError    Outcome = "ERROR"
)

// Label classifies a risk score
type Label string

const (
	LabelRoutine  Label = "ROUTINE"
	LabelEscalate Label = "ESCALATE"
	LabelBlock    Label = "BLOCK"
)

// Decision is a reviewer verdict
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// Valid reports whether d is one of the accepted verdicts.
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// Outcome maps the verdict onto the run outcome.
func (d Decision) Outcome() Outcome {
	if d == DecisionApproved {
		return OutcomeApproved
	}
	return OutcomeRejected
}
