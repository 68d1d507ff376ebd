package assessor

import (
	"context"
	"strings"
)

// Simulated is an offline Scorer for development: intents asking to extend or
// modify something are high risk, everything else is low risk.
type Simulated struct{}

func (Simulated) Score(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	lower := strings.ToLower(instruction(prompt))
	if strings.Contains(lower, "extension") || strings.Contains(lower, "modify") {
		return "Risk Score: 85\nHigh-risk financial modification requested.", nil
	}
	return "Risk Score: 10\nLow-risk informational query.", nil
}

// instruction extracts the instruction section so context values do not
// influence the simulated verdict.
func instruction(prompt string) string {
	const marker = "### Instruction:"
	start := strings.Index(prompt, marker)
	if start < 0 {
		return prompt
	}
	rest := prompt[start+len(marker):]
	if end := strings.Index(rest, "### Input:"); end >= 0 {
		return rest[:end]
	}
	return rest
}
