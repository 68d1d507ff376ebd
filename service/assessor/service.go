package assessor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aidant64/atlas/internal/clock"
	"github.com/aidant64/atlas/model/run"
)

// DefaultTimeout bounds a single scorer call; remote models may cold start.
const DefaultTimeout = 10 * time.Second

// Scorer sends a prompt to a risk model and returns its free text reply.
type Scorer interface {
	Score(ctx context.Context, prompt string) (string, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, prompt string) (string, error)

func (f ScorerFunc) Score(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Service adapts a Scorer into run assessments.
type Service struct {
	scorer  Scorer
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(s *Service)

// WithTimeout sets the per attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates an assessor service.
func New(scorer Scorer, opts ...Option) *Service {
	ret := &Service{scorer: scorer, timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(ret)
	}
	ret.now = clock.Func(ret.now)
	return ret
}

// Attempt performs one scoring call. Transport failures and timeouts return
// an error wrapping ErrTransientAssessment; an empty or malformed reply yields
// the fail-safe assessment with no error.
func (s *Service) Attempt(ctx context.Context, intent string, inputs map[string]interface{}) (*run.Assessment, error) {
	prompt := FormatPrompt(intent, inputs, s.now())
	callCtx, cancel := contextWithTimeout(ctx, s.timeout)
	defer cancel()
	text, err := s.scorer.Score(callCtx, prompt)
	if err != nil {
		if errors.Is(err, ErrMalformedResponse) {
			s.logger.WarnContext(ctx, "malformed assessor response", "error", err)
			return FailSafe(err.Error()), nil
		}
		return nil, fmt.Errorf("%w: %w", ErrTransientAssessment, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.logger.WarnContext(ctx, "empty assessor response")
		return FailSafe("empty assessor response"), nil
	}
	score := ParseScore(text)
	return &run.Assessment{Score: score, Label: LabelFor(score), Rationale: text}, nil
}

// Assess never fails: any error is converted into the fail-safe assessment.
func (s *Service) Assess(ctx context.Context, intent string, inputs map[string]interface{}) *run.Assessment {
	assessment, err := s.Attempt(ctx, intent, inputs)
	if err != nil {
		s.logger.ErrorContext(ctx, "risk assessment failed", "error", err)
		return FailSafe(err.Error())
	}
	return assessment
}

// FailSafe returns the blocking assessment used whenever scoring fails.
func FailSafe(reason string) *run.Assessment {
	return &run.Assessment{
		Score:     100,
		Label:     run.LabelBlock,
		Rationale: "System Error: " + reason,
		FailSafe:  true,
	}
}

func contextWithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
