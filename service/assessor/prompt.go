package assessor

import (
	"encoding/json"
	"fmt"
	"time"
)

const promptTemplate = `Below is an instruction that describes a task, paired with an input that provides further context. Write a response that appropriately completes the request.

### Instruction:
Evaluate the risk for the following action: %s

### Input:
%s

### Response:
`

type decisionContext struct {
	CaseID    string `json:"case_id"`
	Timestamp string `json:"timestamp"`
}

type promptInput struct {
	StructuredInputs map[string]interface{} `json:"structured_inputs"`
	DecisionContext  decisionContext        `json:"decision_context"`
}

// FormatPrompt renders the instruction prompt sent to the scorer. The case id
// is taken from the "user" context entry.
func FormatPrompt(intent string, inputs map[string]interface{}, now time.Time) string {
	caseID := "UNKNOWN"
	if user, ok := inputs["user"]; ok && user != nil {
		caseID = fmt.Sprint(user)
	}
	input := promptInput{
		StructuredInputs: inputs,
		DecisionContext:  decisionContext{CaseID: caseID, Timestamp: now.Format(time.RFC3339)},
	}
	data, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		data = []byte("{}")
	}
	return fmt.Sprintf(promptTemplate, intent, data)
}
