// Package inference scores prompts against a hosted text-generation endpoint
// that accepts {"prompt","max_tokens","temperature"} and answers with either a
// JSON string or {"generated_text": "..."}.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aidant64/atlas/service/assessor"
)

const (
	DefaultMaxTokens   = 256
	DefaultTemperature = 0.1
)

type request struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type response struct {
	GeneratedText *string `json:"generated_text"`
}

// Client is an assessor.Scorer backed by an HTTP inference endpoint.
type Client struct {
	url         string
	apiKey      string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

type Option func(c *Client)

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// New creates an inference client for url.
func New(url string, opts ...Option) *Client {
	ret := &Client{
		url:         url,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Score posts the prompt and returns the generated text.
func (c *Client) Score(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(request{Prompt: prompt, MaxTokens: c.maxTokens, Temperature: c.temperature})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("inference call failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read inference response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("inference endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return decode(data)
}

// decode accepts a JSON string, an object with generated_text, or plain text.
func decode(data []byte) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", nil
	}
	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return "", fmt.Errorf("%w: %v", assessor.ErrMalformedResponse, err)
		}
		return text, nil
	case '{':
		var out response
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return "", fmt.Errorf("%w: %v", assessor.ErrMalformedResponse, err)
		}
		if out.GeneratedText == nil {
			return "", fmt.Errorf("%w: missing generated_text", assessor.ErrMalformedResponse)
		}
		return *out.GeneratedText, nil
	case '[':
		return "", fmt.Errorf("%w: unexpected array", assessor.ErrMalformedResponse)
	}
	return string(trimmed), nil
}

var _ assessor.Scorer = (*Client)(nil)
