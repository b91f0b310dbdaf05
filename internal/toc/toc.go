// Package toc detects a PDF's printed table of contents and maps its
// entries onto physical pages.
package toc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/pageindex/internal/llm"
	"github.com/dgallion1/pageindex/internal/parser"
)

const maxTitleLen = 200

// PageNum is a page number that a model may send as a number, a numeric
// string or null.
type PageNum struct {
	Value int
	Set   bool
}

func (p *PageNum) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*p = PageNum{}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		return p.parse(n.String())
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("page number: %s", b)
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
		return nil
	}
	return p.parse(s)
}

func (p *PageNum) parse(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Unparseable page numbers count as missing.
		return nil
	}
	p.Value, p.Set = int(f), true
	return nil
}

func (p PageNum) MarshalJSON() ([]byte, error) {
	if !p.Set {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(p.Value)), nil
}

// Entry is one line of a printed table of contents.
type Entry struct {
	Structure string  `json:"structure"`
	Title     string  `json:"title"`
	Page      PageNum `json:"page"`
}

// Level is the depth of the dotted structure number, 1 when absent.
func (e Entry) Level() int {
	s := strings.Trim(strings.TrimSpace(e.Structure), ".")
	if s == "" {
		return 1
	}
	return strings.Count(s, ".") + 1
}

// Result is the outcome of detection. When Found is false the builder
// splits pages without a TOC.
type Result struct {
	Found   bool
	Entries []Entry
}

type detectResponse struct {
	Thinking    string  `json:"thinking"`
	TOCDetected string  `json:"toc_detected"`
	Entries     []Entry `json:"entries"`
}

func (r *detectResponse) Validate() error {
	switch strings.ToLower(strings.TrimSpace(r.TOCDetected)) {
	case "yes", "no":
		return nil
	}
	return errors.New(`toc_detected must be "yes" or "no"`)
}

// Detector finds a table of contents in the leading pages with one call.
type Detector struct {
	caller     *llm.Caller
	checkPages int
	log        *slog.Logger
}

func NewDetector(caller *llm.Caller, checkPages int, log *slog.Logger) *Detector {
	if checkPages <= 0 {
		checkPages = 20
	}
	return &Detector{caller: caller, checkPages: checkPages, log: log}
}

// Detect examines the first pages of the document. A reply that never
// takes the expected shape means no TOC; transport failures are returned.
func (d *Detector) Detect(ctx context.Context, pages []parser.Page) (*Result, error) {
	limit := min(d.checkPages, len(pages))
	if limit == 0 {
		return &Result{}, nil
	}

	resp, err := llm.CallJSON[detectResponse](ctx, d.caller, "toc_detect", llm.UserPrompt(buildDetectPrompt(pages[:limit])))
	if err != nil {
		if llm.IsInvalidResponse(err) {
			d.log.Warn("toc detection reply unusable, splitting without toc", "error", err)
			return &Result{}, nil
		}
		return nil, err
	}
	if !strings.EqualFold(strings.TrimSpace(resp.TOCDetected), "yes") {
		return &Result{}, nil
	}

	entries := sanitizeEntries(resp.Entries, d.log)
	if len(entries) == 0 {
		return &Result{}, nil
	}
	withPage := 0
	for _, e := range entries {
		if e.Page.Set {
			withPage++
		}
	}
	if withPage*2 < len(entries) {
		d.log.Info("toc lacks page numbers, splitting without toc", "entries", len(entries), "with_page", withPage)
		return &Result{}, nil
	}
	return &Result{Found: true, Entries: entries}, nil
}

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+|pretend\s+|forget\s+(everything|all)|` +
		`new\s+instructions)`,
)

// sanitizeEntries trims titles and drops empty or instruction-like ones.
func sanitizeEntries(in []Entry, log *slog.Logger) []Entry {
	out := make([]Entry, 0, len(in))
	for _, e := range in {
		e.Title = strings.Join(strings.Fields(e.Title), " ")
		if e.Title == "" {
			continue
		}
		if injectionPattern.MatchString(e.Title) {
			log.Warn("dropping suspicious toc title", "title", e.Title)
			continue
		}
		if utf8.RuneCountInString(e.Title) > maxTitleLen {
			e.Title = string([]rune(e.Title)[:maxTitleLen])
		}
		e.Structure = strings.TrimSpace(e.Structure)
		if e.Page.Set && e.Page.Value < 1 {
			e.Page = PageNum{}
		}
		out = append(out, e)
	}
	return out
}
