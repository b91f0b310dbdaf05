// Package llm provides chat-completion clients and the retrying, rate
// limited caller that every model invocation goes through.
package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dgallion1/pageindex/internal/errs"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
// Every request runs at temperature 0.
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// UserPrompt builds a single-turn request.
func UserPrompt(prompt string) Request {
	return Request{Messages: []Message{{Role: "user", Content: prompt}}}
}

// Client sends one completion request and returns the reply text.
// Transient failures are reported as *RetryableError.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Model() string
}

// StreamClient is a Client that can also deliver the reply as it is
// generated. Stream passes each text delta to emit in order.
type StreamClient interface {
	Client
	Stream(ctx context.Context, req Request, emit func(delta string) error) error
}

// Options selects and configures a provider client.
type Options struct {
	Provider  string
	APIKey    string
	Model     string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
}

// NewClient returns the client for opts.Provider.
func NewClient(opts Options) (Client, error) {
	if opts.APIKey == "" {
		return nil, &errs.ConfigurationError{Field: "llm.api_key", Msg: "is required"}
	}
	switch strings.ToLower(opts.Provider) {
	case "", "openai":
		return NewOpenAIClient(opts), nil
	case "anthropic", "claude":
		return NewAnthropicClient(opts), nil
	default:
		return nil, &errs.ConfigurationError{Field: "llm.provider", Msg: fmt.Sprintf("unknown provider %q", opts.Provider)}
	}
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// InvalidResponseError means the reply did not have the expected JSON shape.
type InvalidResponseError struct {
	Op  string
	Raw string
	Err error
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid %s response: %v (raw: %s)", e.Op, e.Err, truncate(e.Raw, 200))
}

func (e *InvalidResponseError) Unwrap() error { return e.Err }

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
