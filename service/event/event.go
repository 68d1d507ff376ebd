package event

import (
	"time"

	"github.com/aidant64/atlas/internal/clock"
	"github.com/aidant64/atlas/internal/idgen"
)

const (
	// ExecutionRequested carries a run.Request for a tool call awaiting governance.
	ExecutionRequested = "tool.execution_requested"
	// HumanDecision carries a reviewer run.DecisionEvent.
	HumanDecision = "human.decision"
)

type Event[T any] struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Data      T                      `json:"data"`
}

func NewEvent[T any](name string, data T) *Event[T] {
	return &Event[T]{
		ID:        idgen.New(),
		Name:      name,
		CreatedAt: clock.Now(),
		Metadata:  make(map[string]interface{}),
		Data:      data,
	}
}
