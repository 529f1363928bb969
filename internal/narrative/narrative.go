// Package narrative asks an OpenAI-compatible chat completion endpoint for a
// short human-readable overview of detected anomalies.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/crimson-sun/sentinel/internal/httpclient"
	"github.com/crimson-sun/sentinel/internal/model"
)

const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-3.5-turbo"
	DefaultMaxTokens   = 256
	DefaultTemperature = 0.7
	defaultTimeout     = 30 * time.Second
)

// ExternalServiceError reports a failed narrative request. It is carried in
// Result and never aborts detection.
type ExternalServiceError struct {
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("narrative service: %v", e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// Result is either a narrative text or the reason there is none.
type Result struct {
	Text string
	Err  *ExternalServiceError
}

// OK reports whether Text holds a generated narrative.
func (r Result) OK() bool {
	return r.Err == nil && r.Text != ""
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Prompt      PromptConfig
}

// Client generates narratives. It is safe for concurrent use.
type Client struct {
	http   *httpclient.Client
	cfg    Config
	apiKey bool
}

// New creates a Client, filling zero fields of cfg with defaults.
func New(cfg Config, opts ...httpclient.Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Prompt == (PromptConfig{}) {
		cfg.Prompt = DefaultPromptConfig
	}
	opts = append([]httpclient.Option{httpclient.WithTimeout(cfg.Timeout)}, opts...)
	return &Client{
		http:   httpclient.New(strings.TrimRight(cfg.BaseURL, "/"), cfg.APIKey, opts...),
		cfg:    cfg,
		apiKey: cfg.APIKey != "",
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

var (
	errNoAPIKey    = errors.New("no API key configured")
	errNoChoices   = errors.New("response has no choices")
	errEmptyAnswer = errors.New("response message is empty")
)

// Describe returns a narrative for anomalies. An empty list yields an empty
// Result without contacting the service. Failures are returned in Result.Err.
func (c *Client) Describe(ctx context.Context, anomalies []model.ScoredRecord) Result {
	if len(anomalies) == 0 {
		return Result{}
	}
	if !c.apiKey {
		return Result{Err: &ExternalServiceError{Err: errNoAPIKey}}
	}

	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: BuildPrompt(anomalies, c.cfg.Prompt)}},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	var resp chatResponse
	if err := c.http.PostJSON(ctx, "/chat/completions", req, &resp); err != nil {
		slog.Warn("narrative request failed", "error", err, "anomalies", len(anomalies))
		return Result{Err: &ExternalServiceError{Err: err}}
	}
	if len(resp.Choices) == 0 {
		return Result{Err: &ExternalServiceError{Err: errNoChoices}}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Result{Err: &ExternalServiceError{Err: errEmptyAnswer}}
	}
	return Result{Text: text}
}
