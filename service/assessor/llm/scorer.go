// Package llm scores prompts with a chat model through litellm.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aidant64/atlas/service/assessor"
	"github.com/voocel/litellm"
)

// Config selects the model provider.
type Config struct {
	Provider    string  `json:"provider" yaml:"provider"`
	Model       string  `json:"model" yaml:"model"`
	APIKey      string  `json:"apiKey" yaml:"api_key"`
	BaseURL     string  `json:"baseURL" yaml:"base_url"`
	MaxTokens   int     `json:"maxTokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

const systemPrompt = "You are a public-sector risk officer. Answer with a line 'Risk Score: N' (0-100) followed by a one sentence rationale."

// Scorer implements assessor.Scorer on top of a litellm client.
type Scorer struct {
	client *litellm.Client
	config Config
}

// New creates a scorer for config.
func New(config Config) (*Scorer, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("llm scorer requires a model")
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 256
	}
	client := newClient(ProviderOf(config), config)
	return &Scorer{client: client, config: config}, nil
}

func newClient(provider string, config Config) *litellm.Client {
	defaults := litellm.WithDefaults(config.MaxTokens, config.Temperature)
	// retries belong to the engine step policy; provider options read this at apply time
	retries := litellm.WithRetries(0, 0)
	switch provider {
	case "anthropic":
		return litellm.New(retries, litellm.WithAnthropic(config.APIKey, config.BaseURL), defaults)
	case "gemini":
		return litellm.New(retries, litellm.WithGemini(config.APIKey, config.BaseURL), defaults)
	}
	return litellm.New(retries, litellm.WithOpenAI(config.APIKey, config.BaseURL), defaults)
}

// Score asks the model for a verdict.
func (s *Scorer) Score(ctx context.Context, prompt string) (string, error) {
	req := &litellm.Request{
		Model: s.config.Model,
		Messages: []litellm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens: litellm.IntPtr(s.config.MaxTokens),
	}
	if s.config.Temperature != 0 {
		req.Temperature = litellm.Float64Ptr(s.config.Temperature)
	}
	resp, err := s.client.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("litellm completion failed: %w", err)
	}
	return resp.Content, nil
}

// ProviderOf returns the explicit provider or infers it from the model name.
func ProviderOf(config Config) string {
	if config.Provider != "" {
		return strings.ToLower(config.Provider)
	}
	model := strings.ToLower(config.Model)
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini"):
		return "gemini"
	}
	return "openai"
}

var _ assessor.Scorer = (*Scorer)(nil)
