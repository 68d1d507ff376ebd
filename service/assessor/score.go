package assessor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aidant64/atlas/model/run"
)

var scoreMarker = regexp.MustCompile(`(?i)score\s*:\s*(-?\d+)`)

type keywordTier struct {
	score    int
	keywords []string
}

// keywordLadder is evaluated top down; the first tier with a hit wins.
var keywordLadder = []keywordTier{
	{score: 95, keywords: []string{"block", "deny", "critical risk"}},
	{score: 85, keywords: []string{"high risk", "escalate", "manual review", "flag"}},
	{score: 55, keywords: []string{"medium", "moderate"}},
	{score: 20, keywords: []string{"low risk", "approve", "routine"}},
}

// ParseScore derives a risk score from scorer text. An explicit "Score: N"
// marker wins and is clamped to [0,100]; otherwise the keyword ladder applies;
// text with neither yields 0.
func ParseScore(text string) int {
	if match := scoreMarker.FindStringSubmatch(text); match != nil {
		if value, err := strconv.Atoi(match[1]); err == nil {
			return clamp(value)
		}
		return 100
	}
	lower := strings.ToLower(text)
	for _, tier := range keywordLadder {
		for _, keyword := range tier.keywords {
			if strings.Contains(lower, keyword) {
				return tier.score
			}
		}
	}
	return 0
}

// LabelFor classifies a score.
func LabelFor(score int) run.Label {
	switch {
	case score >= 90:
		return run.LabelBlock
	case score >= 70:
		return run.LabelEscalate
	default:
		return run.LabelRoutine
	}
}

func clamp(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
