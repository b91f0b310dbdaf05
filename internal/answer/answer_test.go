package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dgallion1/pageindex/internal/errs"
	"github.com/dgallion1/pageindex/internal/llm"
	"github.com/dgallion1/pageindex/internal/llm/llmtest"
)

func TestGenerate(t *testing.T) {
	fake := &llmtest.Fake{Replies: []string{"  Revenue grew 12% [Source: report.pdf].\n"}}
	g := New(llmtest.Caller(fake), 0, llmtest.Logger())
	got, err := g.Generate(context.Background(), "How did revenue change?", "[Source: report.pdf]\n\nContent:\nRevenue grew 12%.")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Revenue grew 12% [Source: report.pdf]." {
		t.Errorf("answer = %q", got)
	}
	p := fake.Prompts()[0]
	if !strings.Contains(p, "How did revenue change?") || !strings.Contains(p, "Revenue grew 12%.") {
		t.Errorf("prompt missing question or context:\n%s", p)
	}
}

func TestGenerateNoContext(t *testing.T) {
	fake := &llmtest.Fake{}
	g := New(llmtest.Caller(fake), 0, llmtest.Logger())
	got, err := g.Generate(context.Background(), "q", " \n ")
	if err != nil || got != NoAnswer {
		t.Errorf("got %q, %v", got, err)
	}
	if fake.Calls() != 0 {
		t.Errorf("calls = %d", fake.Calls())
	}
}

func TestGenerateTruncatesContext(t *testing.T) {
	fake := &llmtest.Fake{Replies: []string{"ok"}}
	g := New(llmtest.Caller(fake), 50, llmtest.Logger())
	if _, err := g.Generate(context.Background(), "q", strings.Repeat("lorem ", 1000)); err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(fake.Prompts()[0], "lorem"); n >= 1000 {
		t.Errorf("context not truncated: %d words", n)
	}
}

func TestGenerateError(t *testing.T) {
	fake := &llmtest.Fake{Handler: func(llm.Request) (string, error) { return "", errors.New("status 403") }}
	g := New(llmtest.Caller(fake), 0, llmtest.Logger())
	if _, err := g.Generate(context.Background(), "q", "ctx"); !errors.As(err, new(*errs.LLMAPIError)) {
		t.Errorf("expected LLMAPIError, got %v", err)
	}
}

func TestStream(t *testing.T) {
	tests := []struct {
		name    string
		sources string
		want    string
		deltas  int
		calls   int
	}{
		{"streams words", "[Source: report.pdf]\n\nContent:\nRevenue grew 12%.", "Revenue grew 12% (report.pdf).", 4, 1},
		{"no context", "  ", NoAnswer, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &llmtest.StreamFake{Fake: llmtest.Fake{Replies: []string{"Revenue grew 12% (report.pdf)."}}}
			g := New(llmtest.Caller(fake), 0, llmtest.Logger())
			var deltas []string
			got, err := g.Stream(context.Background(), "How did revenue change?", tt.sources, func(d string) error {
				deltas = append(deltas, d)
				return nil
			})
			if err != nil {
				t.Fatalf("Stream: %v", err)
			}
			if got != tt.want || strings.Join(deltas, "") != tt.want {
				t.Errorf("Stream = %q, emitted %q, want %q", got, strings.Join(deltas, ""), tt.want)
			}
			if len(deltas) != tt.deltas {
				t.Errorf("deltas = %d, want %d", len(deltas), tt.deltas)
			}
			if fake.Calls() != tt.calls {
				t.Errorf("calls = %d, want %d", fake.Calls(), tt.calls)
			}
		})
	}
}

func TestStreamStopsOnWriterError(t *testing.T) {
	fake := &llmtest.StreamFake{Fake: llmtest.Fake{Replies: []string{"one two three"}}}
	g := New(llmtest.Caller(fake), 0, llmtest.Logger())
	broken := errors.New("broken pipe")
	n := 0
	_, err := g.Stream(context.Background(), "q", "context", func(string) error {
		n++
		return broken
	})
	if !errors.Is(err, broken) {
		t.Errorf("expected writer error, got %v", err)
	}
	if n != 1 || fake.Calls() != 1 {
		t.Errorf("emits = %d, calls = %d", n, fake.Calls())
	}
}
