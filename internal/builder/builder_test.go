package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dgallion1/pageindex/internal/doctree"
	"github.com/dgallion1/pageindex/internal/errs"
	"github.com/dgallion1/pageindex/internal/llm"
	"github.com/dgallion1/pageindex/internal/llm/llmtest"
	"github.com/dgallion1/pageindex/internal/parser"
	"github.com/dgallion1/pageindex/internal/toc"
)

func quietOptions() Options {
	o := DefaultOptions()
	o.AddNodeSummary = false
	o.AddDocDescription = false
	return o
}

func markdownDoc(t *testing.T, src string) *parser.Document {
	t.Helper()
	doc, err := (&parser.MarkdownExtractor{}).Extract(strings.NewReader(src), "guide.md")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return doc
}

func pagedDoc(n int, text func(i int) string) *parser.Document {
	pages := make([]parser.Page, n)
	for i := range pages {
		pages[i] = parser.Page{Number: i + 1, Text: text(i + 1)}
	}
	return &parser.Document{Name: "report.pdf", Title: "report", Format: parser.FormatPDF, Pages: pages}
}

type flat struct {
	id, title  string
	start, end int
	depth      int
}

func flatten(nodes []*doctree.Node) []flat {
	var out []flat
	doctree.Walk(nodes, func(n *doctree.Node, depth int) bool {
		out = append(out, flat{n.NodeID, n.Title, n.StartIndex, n.EndIndex, depth})
		return true
	})
	return out
}

func assertFlat(t *testing.T, got []*doctree.Node, want []flat) {
	t.Helper()
	f := flatten(got)
	if len(f) != len(want) {
		t.Fatalf("got %d nodes %+v, want %d %+v", len(f), f, len(want), want)
	}
	for i := range want {
		if f[i] != want[i] {
			t.Errorf("node %d = %+v, want %+v", i, f[i], want[i])
		}
	}
}

func TestBuildMarkdownHeadings(t *testing.T) {
	fake := &llmtest.Fake{}
	b := New(llmtest.Caller(fake), quietOptions(), llmtest.Logger())
	tree, err := b.Build(context.Background(), markdownDoc(t, "# A\n## A1\n## A2\n# B\n"), "doc1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	assertFlat(t, tree.Structure, []flat{
		{"0001", "A", 1, 3, 0},
		{"0002", "A1", 2, 2, 1},
		{"0003", "A2", 3, 3, 1},
		{"0004", "B", 4, 4, 0},
	})
	if tree.DocID != "doc1" || tree.DocName != "guide.md" {
		t.Errorf("unexpected metadata %q %q", tree.DocID, tree.DocName)
	}
	if fake.Calls() != 0 {
		t.Errorf("expected no llm calls, got %d", fake.Calls())
	}
}

func TestBuildMarkdownPrefaceAndText(t *testing.T) {
	src := "Front matter.\n\n# Intro\nHello.\n## Detail\nDeep.\n# End\nBye.\n"
	b := New(llmtest.Caller(&llmtest.Fake{}), quietOptions(), llmtest.Logger())
	tree, err := b.Build(context.Background(), markdownDoc(t, src), "d")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	assertFlat(t, tree.Structure, []flat{
		{"0001", "Preface", 1, 2, 0},
		{"0002", "Intro", 3, 6, 0},
		{"0003", "Detail", 5, 6, 1},
		{"0004", "End", 7, 8, 0},
	})
	intro := tree.Structure[1]
	if intro.Text != "# Intro\nHello." {
		t.Errorf("intro text = %q", intro.Text)
	}
	if tree.Structure[0].Text != "Front matter." {
		t.Errorf("preface text = %q", tree.Structure[0].Text)
	}
}

func TestBuildMarkdownWithoutHeadings(t *testing.T) {
	b := New(llmtest.Caller(&llmtest.Fake{}), quietOptions(), llmtest.Logger())
	tree, err := b.Build(context.Background(), markdownDoc(t, "just\ntext\nhere\n"), "d")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	assertFlat(t, tree.Structure, []flat{{"0001", "guide", 1, 3, 0}})
}

func TestBuildPagedFallsBackWithoutTOC(t *testing.T) {
	replies := map[string]string{
		"no toc":        `{"thinking":"","toc_detected":"no","entries":[]}`,
		"empty entries": `{"thinking":"","toc_detected":"yes","entries":[]}`,
	}
	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			fake := &llmtest.Fake{Replies: []string{reply}}
			b := New(llmtest.Caller(fake), quietOptions(), llmtest.Logger())
			tree, err := b.Build(context.Background(), pagedDoc(25, func(i int) string { return fmt.Sprintf("page %d body", i) }), "d")
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			assertFlat(t, tree.Structure, []flat{
				{"0001", "Pages 1-10", 1, 10, 0},
				{"0002", "Pages 11-20", 11, 20, 0},
				{"0003", "Pages 21-25", 21, 25, 0},
			})
			if !strings.Contains(tree.Structure[2].Text, "page 25 body") {
				t.Errorf("missing page text: %q", tree.Structure[2].Text)
			}
		})
	}
}

func TestBuildPagedWithTOC(t *testing.T) {
	texts := map[int]string{
		1: "Contents\nIntro ... 1\nBackground ... 2\nMethods ... 5",
		3: "Intro\nWhy we did this.",
		4: "Background\nPrior work.",
		7: "Methods\nHow we did it.",
	}
	doc := pagedDoc(20, func(i int) string {
		if t, ok := texts[i]; ok {
			return t
		}
		return fmt.Sprintf("filler %d", i)
	})
	fake := &llmtest.Fake{Handler: func(req llm.Request) (string, error) {
		p := llmtest.Prompt(req)
		switch {
		case strings.Contains(p, "Table of Contents"):
			return `{"thinking":"","toc_detected":"yes","entries":[
				{"structure":"1","title":"Intro","page":1},
				{"structure":"1.1","title":"Background","page":2},
				{"structure":"2","title":"Methods","page":5}]}`, nil
		case strings.Contains(p, "descriptions for a document"):
			return "A study report.", nil
		}
		return "", errors.New("unexpected prompt")
	}}
	opts := DefaultOptions()
	b := New(llmtest.Caller(fake), opts, llmtest.Logger())

	tree, err := b.Build(context.Background(), doc, "d")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	assertFlat(t, tree.Structure, []flat{
		{"0001", "Preface", 1, 2, 0},
		{"0002", "Intro", 3, 6, 0},
		{"0003", "Background", 4, 6, 1},
		{"0004", "Methods", 7, 20, 0},
		{"0005", "Methods (Part 1)", 7, 16, 1},
		{"0006", "Methods (Part 2)", 17, 20, 1},
	})
	if tree.DocDescription != "A study report." {
		t.Errorf("description = %q", tree.DocDescription)
	}
	if s := tree.Structure[1].Nodes[0].Summary; !strings.Contains(s, "Prior work.") {
		t.Errorf("short text should be its own summary, got %q", s)
	}
	if fake.Calls() != 2 {
		t.Errorf("calls = %d, want detect + describe", fake.Calls())
	}
}

func TestBuildDetectFailureIsDocumentError(t *testing.T) {
	fake := &llmtest.Fake{Handler: func(llm.Request) (string, error) {
		return "", errors.New("openai api status 401: invalid api key")
	}}
	b := New(llmtest.Caller(fake), quietOptions(), llmtest.Logger())
	_, err := b.Build(context.Background(), pagedDoc(3, func(int) string { return "x" }), "d")
	var docErr *errs.DocumentProcessingError
	if !errors.As(err, &docErr) {
		t.Fatalf("expected DocumentProcessingError, got %v", err)
	}
	if !errors.As(err, new(*errs.LLMAPIError)) {
		t.Errorf("expected wrapped LLMAPIError, got %v", err)
	}
}

func TestSummaries(t *testing.T) {
	long := strings.Repeat("word ", 300)
	src := "# Short\nbrief\n# Long\n" + long + "\n# Broken\n" + long + "\n"
	fake := &llmtest.Fake{Handler: func(req llm.Request) (string, error) {
		p := llmtest.Prompt(req)
		if strings.Contains(p, "Section Title: Broken") {
			return "", errors.New("model overloaded, status 400")
		}
		return "  A long section.  ", nil
	}}
	opts := quietOptions()
	opts.AddNodeSummary = true
	b := New(llmtest.Caller(fake), opts, llmtest.Logger())
	tree, err := b.Build(context.Background(), markdownDoc(t, src), "d")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := tree.Structure[0].Summary; got != "# Short\nbrief" {
		t.Errorf("short summary = %q", got)
	}
	if got := tree.Structure[1].Summary; got != "A long section." {
		t.Errorf("long summary = %q", got)
	}
	if got := tree.Structure[2].Summary; got != "" {
		t.Errorf("failed summary should be empty, got %q", got)
	}
}

func TestThinningMergesSmallLeaves(t *testing.T) {
	long := strings.Repeat("content ", 300)
	src := "# Root\n" + long + "\n## Small\ntiny\n## Big\n" + long + "\n"
	opts := quietOptions()
	opts.Thinning = true
	b := New(llmtest.Caller(&llmtest.Fake{}), opts, llmtest.Logger())
	tree, err := b.Build(context.Background(), markdownDoc(t, src), "d")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	assertFlat(t, tree.Structure, []flat{
		{"0001", "Root", 1, 6, 0},
		{"0002", "Big", 5, 6, 1},
	})
	if !strings.Contains(tree.Structure[0].Text, "tiny") {
		t.Error("merged child text missing from parent")
	}
}

func TestBuildDropsTextWhenDisabled(t *testing.T) {
	opts := quietOptions()
	opts.AddNodeText = false
	b := New(llmtest.Caller(&llmtest.Fake{}), opts, llmtest.Logger())
	tree, err := b.Build(context.Background(), markdownDoc(t, "# A\nbody\n"), "d")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tree.Structure[0].Text != "" {
		t.Errorf("text kept: %q", tree.Structure[0].Text)
	}
}

func TestTOCTreeSharedStartPage(t *testing.T) {
	matched := []toc.Matched{
		{Entry: toc.Entry{Title: "P"}, Level: 1, StartPage: 5},
		{Entry: toc.Entry{Title: "C"}, Level: 2, StartPage: 7},
		{Entry: toc.Entry{Title: "Q"}, Level: 1, StartPage: 7},
	}
	nodes := tocTree(matched, 9)
	assertFlat(t, nodes, []flat{
		{"", "Preface", 1, 4, 0},
		{"", "P", 5, 7, 0},
		{"", "C", 7, 7, 1},
		{"", "Q", 7, 9, 0},
	})
	if err := doctree.Validate(nodes); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestGroupsRespectTokenCeiling(t *testing.T) {
	s := splitter{maxPages: 10, maxTokens: 100, pageTokens: []int{60, 30, 20, 70, 150, 5}}
	got := s.groups(1, 6, "")
	want := []string{"Pages 1-2", "Pages 3-4", "Page 5", "Page 6"}
	if len(got) != len(want) {
		t.Fatalf("groups = %+v", flatten(got))
	}
	for i, w := range want {
		if got[i].Title != w {
			t.Errorf("group %d = %q, want %q", i, got[i].Title, w)
		}
	}
}

func TestSubdivideSplitsParentOwnPages(t *testing.T) {
	pageTokens := make([]int, 30)
	for i := range pageTokens {
		pageTokens[i] = 10
	}
	s := splitter{maxPages: 10, maxTokens: 1000, pageTokens: pageTokens}
	nodes := []*doctree.Node{{Title: "Part I", StartIndex: 1, EndIndex: 30, Nodes: []*doctree.Node{
		{Title: "Chapter 1", StartIndex: 25, EndIndex: 30},
	}}}
	s.subdivide(nodes)
	assertFlat(t, nodes, []flat{
		{"", "Part I", 1, 30, 0},
		{"", "Part I (Part 1)", 1, 10, 1},
		{"", "Part I (Part 2)", 11, 20, 1},
		{"", "Part I (Part 3)", 21, 24, 1},
		{"", "Chapter 1", 25, 30, 1},
	})
	if err := doctree.Validate(nodes); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestGroupsSplitCJKPages(t *testing.T) {
	page := strings.Repeat("本章介绍文档树的构建方法和检索流程。", 500)
	doc := pagedDoc(4, func(int) string { return page })
	fake := &llmtest.Fake{Replies: []string{`{"thinking":"","toc_detected":"no","entries":[]}`}}
	opts := quietOptions()
	opts.MaxTokensPerNode = 20000
	b := New(llmtest.Caller(fake), opts, llmtest.Logger())
	tree, err := b.Build(context.Background(), doc, "d")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	assertFlat(t, tree.Structure, []flat{
		{"0001", "Pages 1-2", 1, 2, 0},
		{"0002", "Pages 3-4", 3, 4, 0},
	})
}
