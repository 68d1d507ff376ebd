package assessor

import (
	"testing"

	"github.com/aidant64/atlas/model/run"
	"github.com/stretchr/testify/assert"
)

func TestParseScore(t *testing.T) {
	var testCases = []struct {
		description string
		text        string
		expected    int
	}{
		{description: "explicit marker", text: "Score: 42", expected: 42},
		{description: "risk score marker", text: "Assessment done. Risk Score: 73. Escalate.", expected: 73},
		{description: "case insensitive", text: "RISK SCORE:9", expected: 9},
		{description: "clamped high", text: "Score: 250", expected: 100},
		{description: "clamped low", text: "Score: -5", expected: 0},
		{description: "marker wins over keywords", text: "Score: 10 but consider block", expected: 10},
		{description: "block", text: "Recommend we BLOCK this request", expected: 95},
		{description: "critical risk", text: "critical risk to beneficiary funds", expected: 95},
		{description: "block beats high risk", text: "high risk, deny", expected: 95},
		{description: "escalate", text: "Please escalate", expected: 85},
		{description: "manual review", text: "needs manual review", expected: 85},
		{description: "medium", text: "medium exposure", expected: 55},
		{description: "moderate beats low", text: "moderate, not low risk", expected: 55},
		{description: "approve", text: "approve", expected: 20},
		{description: "routine", text: "routine lookup", expected: 20},
		{description: "no signal", text: "The weather is nice", expected: 0},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseScore(tc.text))
		})
	}
}

func TestLabelFor(t *testing.T) {
	var testCases = []struct {
		score    int
		expected run.Label
	}{
		{0, run.LabelRoutine},
		{69, run.LabelRoutine},
		{70, run.LabelEscalate},
		{89, run.LabelEscalate},
		{90, run.LabelBlock},
		{100, run.LabelBlock},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, LabelFor(tc.score), "score %d", tc.score)
	}
}
