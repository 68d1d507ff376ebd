package policy

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Retry types recognised by the engine.
const (
	RetryExponential = "exponential"
	RetryFixed       = "fixed"
	RetryNone        = "none"
)

const (
	// DefaultThreshold escalates scores of 70 and above.
	DefaultThreshold     = 70
	DefaultReviewTimeout = 72 * time.Hour
)

// Policy represents the escalation and retry settings of the engine.
//
//   - Threshold is a closed boundary: a score equal to Threshold escalates.
//   - ReviewTimeout bounds how long an escalated run waits for a reviewer.
//   - AlwaysReview lists tool names that are escalated regardless of score.
type Policy struct {
	Threshold     int
	ReviewTimeout time.Duration
	AlwaysReview  []string
	Retry         Retry
}

// Retry describes a bounded backoff applied to a single step invocation.
type Retry struct {
	Type       string
	MaxRetries int
	Delay      time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// Default returns the policy used when nothing is configured.
func Default() *Policy {
	return &Policy{
		Threshold:     DefaultThreshold,
		ReviewTimeout: DefaultReviewTimeout,
		Retry: Retry{
			Type:       RetryExponential,
			MaxRetries: 3,
			Delay:      500 * time.Millisecond,
			Multiplier: 2,
			MaxDelay:   10 * time.Second,
		},
	}
}

// Escalates reports whether an action on tool with the given score requires a
// human decision.
func (p *Policy) Escalates(tool string, score int) bool {
	if p == nil {
		p = Default()
	}
	for _, name := range p.AlwaysReview {
		if strings.EqualFold(name, tool) {
			return true
		}
	}
	return score >= p.Threshold
}

// Next returns (retry?, delay) after the given number of failed attempts.
func (r Retry) Next(attempts int) (bool, time.Duration) {
	if strings.ToLower(r.Type) == RetryNone {
		return false, 0
	}
	if attempts > r.MaxRetries {
		return false, 0
	}
	baseDelay := r.Delay
	switch strings.ToLower(r.Type) {
	case RetryFixed:
		return true, baseDelay
	default:
		mult := r.Multiplier
		if mult <= 1 {
			mult = 2
		}
		delay := float64(baseDelay) * math.Pow(mult, float64(attempts-1))
		if r.MaxDelay > 0 && time.Duration(delay) > r.MaxDelay {
			delay = float64(r.MaxDelay)
		}
		return true, time.Duration(delay)
	}
}

// ---------------------------------------------------------------------------
// Config <-> Policy converters (Config is the serialisable form, durations are
// expressed as strings such as "72h" or "500ms").
// ---------------------------------------------------------------------------

// Config represents the declarative, serialisable part of a Policy.
type Config struct {
	// Threshold is a pointer so that 0 (escalate everything) differs from unset.
	Threshold     *int        `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	ReviewTimeout string      `json:"reviewTimeout,omitempty" yaml:"review_timeout,omitempty"`
	AlwaysReview  []string    `json:"alwaysReview,omitempty" yaml:"always_review,omitempty"`
	Retry         RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// RetryConfig is the serialisable form of Retry.
type RetryConfig struct {
	Type       string  `json:"type,omitempty" yaml:"type,omitempty"`
	MaxRetries int     `json:"maxRetries,omitempty" yaml:"max_retries,omitempty"`
	Delay      string  `json:"delay,omitempty" yaml:"delay,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	MaxDelay   string  `json:"maxDelay,omitempty" yaml:"max_delay,omitempty"`
}

// ToConfig converts a runtime Policy into a persistable Config.
func ToConfig(p *Policy) *Config {
	if p == nil {
		return nil
	}
	threshold := p.Threshold
	return &Config{
		Threshold:     &threshold,
		ReviewTimeout: p.ReviewTimeout.String(),
		AlwaysReview:  append([]string(nil), p.AlwaysReview...),
		Retry: RetryConfig{
			Type:       p.Retry.Type,
			MaxRetries: p.Retry.MaxRetries,
			Delay:      p.Retry.Delay.String(),
			Multiplier: p.Retry.Multiplier,
			MaxDelay:   p.Retry.MaxDelay.String(),
		},
	}
}

// FromConfig converts a stored Config into a Policy. Unset fields inherit
// Default values.
func FromConfig(c *Config) (*Policy, error) {
	ret := Default()
	if c == nil {
		return ret, nil
	}
	if c.Threshold != nil {
		ret.Threshold = *c.Threshold
	}
	if ret.Threshold < 0 || ret.Threshold > 100 {
		return nil, fmt.Errorf("policy.threshold must be within 0..100, got %d", ret.Threshold)
	}
	var err error
	if ret.ReviewTimeout, err = parseDuration("policy.review_timeout", c.ReviewTimeout, ret.ReviewTimeout); err != nil {
		return nil, err
	}
	ret.AlwaysReview = append([]string(nil), c.AlwaysReview...)
	if c.Retry.Type != "" {
		switch strings.ToLower(c.Retry.Type) {
		case RetryExponential, RetryFixed, RetryNone:
			ret.Retry.Type = strings.ToLower(c.Retry.Type)
		default:
			return nil, fmt.Errorf("unsupported policy.retry.type: %s", c.Retry.Type)
		}
	}
	if c.Retry.MaxRetries != 0 {
		ret.Retry.MaxRetries = c.Retry.MaxRetries
	}
	if c.Retry.Multiplier != 0 {
		ret.Retry.Multiplier = c.Retry.Multiplier
	}
	if ret.Retry.Delay, err = parseDuration("policy.retry.delay", c.Retry.Delay, ret.Retry.Delay); err != nil {
		return nil, err
	}
	if ret.Retry.MaxDelay, err = parseDuration("policy.retry.max_delay", c.Retry.MaxDelay, ret.Retry.MaxDelay); err != nil {
		return nil, err
	}
	return ret, nil
}

func parseDuration(name, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be > 0", name)
	}
	return d, nil
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
