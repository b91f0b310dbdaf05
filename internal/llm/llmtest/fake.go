// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgallion1/pageindex/internal/llm"
)

// Fake answers requests from Handler when set, otherwise from Replies in
// order, repeating the last reply. It is safe for concurrent use.
type Fake struct {
	Handler func(req llm.Request) (string, error)
	Replies []string

	mu       sync.Mutex
	requests []llm.Request
}

func (f *Fake) Model() string { return "fake-model" }

func (f *Fake) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	idx := len(f.requests)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.Handler != nil {
		return f.Handler(req)
	}
	if len(f.Replies) == 0 {
		return "", &llm.RetryableError{StatusCode: 503, Message: "no scripted reply"}
	}
	if idx >= len(f.Replies) {
		idx = len(f.Replies) - 1
	}
	return f.Replies[idx], nil
}

// StreamFake is a Fake that also implements llm.StreamClient, emitting
// each reply one word at a time.
type StreamFake struct {
	Fake
}

func (f *StreamFake) Stream(ctx context.Context, req llm.Request, emit func(delta string) error) error {
	text, err := f.Complete(ctx, req)
	if err != nil {
		return err
	}
	for _, word := range strings.SplitAfter(text, " ") {
		if word == "" {
			continue
		}
		if err := emit(word); err != nil {
			return err
		}
	}
	return nil
}

// Calls returns the number of requests received.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Prompts returns the user content of every request received.
func (f *Fake) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, Prompt(r))
	}
	return out
}

// Prompt returns the concatenated message content of req.
func Prompt(req llm.Request) string {
	var sb strings.Builder
	for _, m := range req.Messages {
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// Caller wraps client in a Caller that never sleeps and logs nowhere.
func Caller(client llm.Client) *llm.Caller {
	return llm.NewCaller(client, llm.DefaultRetryPolicy(),
		llm.WithLogger(Logger()),
		llm.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
