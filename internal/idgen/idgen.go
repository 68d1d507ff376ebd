package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a new globally unique identifier as string. It is implemented
// as a thin wrapper so tests can stub it.

var NewFunc = func() string { return uuid.New().String() }

func New() string { return NewFunc() }

// EventID returns a short execution-request identifier ("evt_" followed by
// eight hex characters). It doubles as the run id and the review reference
// handed back to the calling agent.
func EventID() string {
	return "evt_" + strings.ReplaceAll(New(), "-", "")[:8]
}
