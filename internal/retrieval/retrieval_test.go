package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dgallion1/pageindex/internal/answer"
	"github.com/dgallion1/pageindex/internal/directory"
	"github.com/dgallion1/pageindex/internal/doctree"
	"github.com/dgallion1/pageindex/internal/errs"
	"github.com/dgallion1/pageindex/internal/llm"
	"github.com/dgallion1/pageindex/internal/llm/llmtest"
	"github.com/dgallion1/pageindex/internal/search"
	"github.com/dgallion1/pageindex/internal/selector"
)

type memTrees map[string]*doctree.Tree

func (m memTrees) Load(_ context.Context, id string) (*doctree.Tree, error) {
	if t, ok := m[id]; ok {
		return t, nil
	}
	return nil, &errs.IndexLoadError{Path: id, Err: errs.ErrNotFound}
}

type staticDir []directory.Entry

func (d staticDir) Entries() []directory.Entry { return d }

// script routes each request to the reply for its pipeline stage.
func script(sel, tree, ans string) *llmtest.Fake {
	return &llmtest.Fake{Handler: stages(sel, tree, ans)}
}

func stages(sel, tree, ans string) func(llm.Request) (string, error) {
	return func(req llm.Request) (string, error) {
		p := llmtest.Prompt(req)
		switch {
		case strings.Contains(p, "Current date:"):
			return sel, nil
		case strings.Contains(p, "Document tree structure:"):
			return tree, nil
		case strings.Contains(p, "question answering assistant"):
			return ans, nil
		}
		return "", errors.New("status 400: unexpected prompt")
	}
}

func newEngine(fake llm.Client) *Engine {
	caller := llmtest.Caller(fake)
	log := llmtest.Logger()
	dir := staticDir{{DocID: "fin", DocName: "report.pdf", DocDescription: "Annual financial report"}}
	trees := memTrees{"fin": {DocID: "fin", DocName: "report.pdf", Structure: []*doctree.Node{
		{Title: "Revenue", NodeID: "0001", StartIndex: 1, EndIndex: 3, Text: "Revenue grew 12%."},
	}}}
	return New(
		selector.New(caller, dir, log),
		search.New(caller, trees, search.Options{}, log),
		answer.New(caller, 0, log),
		3, log,
	)
}

func TestAnswer(t *testing.T) {
	fake := script(
		`{"thinking":"","rewritten_query":"revenue growth 2025","answer":["fin"]}`,
		`{"thinking":"","node_list":["0001"]}`,
		"Revenue grew 12% (report.pdf).",
	)
	resp, err := newEngine(fake).Answer(context.Background(), "how much did revenue grow?", 0)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.RewrittenQuery != "revenue growth 2025" || len(resp.DocIDs) != 1 {
		t.Errorf("selection = %+v", resp)
	}
	if !resp.Found() || !strings.Contains(resp.Context, "[Source: report.pdf]") {
		t.Errorf("context = %q", resp.Context)
	}
	if resp.Answer != "Revenue grew 12% (report.pdf)." {
		t.Errorf("answer = %q", resp.Answer)
	}
	prompts := fake.Prompts()
	if len(prompts) != 3 {
		t.Fatalf("calls = %d", len(prompts))
	}
	if !strings.Contains(prompts[1], "revenue growth 2025") {
		t.Error("tree search should use the rewritten query")
	}
	if !strings.Contains(prompts[2], "how much did revenue grow?") {
		t.Error("answer should use the original question")
	}
}

func TestAnswerNothingSelected(t *testing.T) {
	fake := script(`{"rewritten_query":"q","answer":["unknown"]}`, "", "")
	resp, err := newEngine(fake).Answer(context.Background(), "q", 2)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != answer.NoAnswer || resp.Found() {
		t.Errorf("resp = %+v", resp)
	}
	if fake.Calls() != 1 {
		t.Errorf("calls = %d, want only the selection call", fake.Calls())
	}
}

func TestAnswerNoHits(t *testing.T) {
	fake := script(`{"rewritten_query":"q","answer":["fin"]}`, `{"node_list":[]}`, "unused")
	resp, err := newEngine(fake).Answer(context.Background(), "q", 0)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != answer.NoAnswer || fake.Calls() != 2 {
		t.Errorf("answer = %q after %d calls", resp.Answer, fake.Calls())
	}
}

func TestRetrieveSelectionFailure(t *testing.T) {
	fake := &llmtest.Fake{Handler: func(llm.Request) (string, error) {
		return "", errors.New("status 401: bad key")
	}}
	_, err := newEngine(fake).Retrieve(context.Background(), "q", 0)
	var apiErr *errs.LLMAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected LLMAPIError, got %v", err)
	}
}

func TestAnswerWithoutRewrite(t *testing.T) {
	fake := script(
		`{"thinking":"","rewritten_query":"revenue growth 2025","answer":["fin"]}`,
		`{"thinking":"","node_list":["0001"]}`,
		"Revenue grew 12%.",
	)
	resp, err := newEngine(fake).Answer(context.Background(), "how much did revenue grow?", 0, WithoutRewrite())
	if err != nil {
		t.Fatal(err)
	}
	if resp.RewrittenQuery != "how much did revenue grow?" {
		t.Errorf("search query = %q", resp.RewrittenQuery)
	}
	if p := fake.Prompts()[1]; strings.Contains(p, "revenue growth 2025") || !strings.Contains(p, "how much did revenue grow?") {
		t.Errorf("tree search prompt should carry the question as asked:\n%s", p)
	}
}

func TestAnswerStream(t *testing.T) {
	tests := []struct {
		name string
		sel  string
		want string
	}{
		{"found", `{"rewritten_query":"revenue","answer":["fin"]}`, "Revenue grew 12% (report.pdf)."},
		{"nothing selected", `{"rewritten_query":"q","answer":[]}`, answer.NoAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &llmtest.StreamFake{Fake: llmtest.Fake{Handler: stages(
				tt.sel, `{"thinking":"","node_list":["0001"]}`, "Revenue grew 12% (report.pdf).",
			)}}
			var out strings.Builder
			resp, err := newEngine(fake).AnswerStream(context.Background(), "q", 0, func(d string) error {
				out.WriteString(d)
				return nil
			})
			if err != nil {
				t.Fatalf("AnswerStream: %v", err)
			}
			if resp.Answer != tt.want || out.String() != tt.want {
				t.Errorf("answer = %q, streamed %q, want %q", resp.Answer, out.String(), tt.want)
			}
		})
	}
}
