package toc

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/dgallion1/pageindex/internal/llm"
	"github.com/dgallion1/pageindex/internal/parser"
)

// Matched is a TOC entry placed on its physical start page.
type Matched struct {
	Entry
	Level     int
	StartPage int
}

type locateResponse struct {
	Thinking  string  `json:"thinking"`
	StartPage PageNum `json:"start_page"`
}

// Matcher verifies TOC entries against page text.
type Matcher struct {
	caller      *llm.Caller
	window      int
	concurrency int
	log         *slog.Logger
}

func NewMatcher(caller *llm.Caller, window, concurrency int, log *slog.Logger) *Matcher {
	if window <= 0 {
		window = 3
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Matcher{caller: caller, window: window, concurrency: concurrency, log: log}
}

// Match places entries on physical pages. Entries that cannot be placed
// are dropped with a warning; an empty result means the caller should split
// without a TOC.
func (m *Matcher) Match(ctx context.Context, entries []Entry, pages []parser.Page) []Matched {
	if len(entries) == 0 || len(pages) == 0 {
		return nil
	}
	norm := make([]string, len(pages))
	for i, p := range pages {
		norm[i] = normalize(p.Text)
	}
	offset := estimateOffset(entries, norm)
	expected := expectedPages(entries, offset, len(pages))

	found := make([]int, len(entries))
	sem := make(chan struct{}, m.concurrency)
	var wg sync.WaitGroup
	for i := range entries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			found[i] = m.locate(ctx, entries[i], expected[i], pages, norm)
		}(i)
	}
	wg.Wait()

	out := make([]Matched, 0, len(entries))
	last := 0
	for i, e := range entries {
		page := found[i]
		switch {
		case page == 0:
			continue
		case page > len(pages):
			m.log.Warn("dropping toc entry past document end", "title", e.Title, "page", page, "pages", len(pages))
			continue
		case page < last:
			m.log.Warn("dropping out-of-order toc entry", "title", e.Title, "page", page, "previous_page", last)
			continue
		}
		last = page
		out = append(out, Matched{Entry: e, Level: e.Level(), StartPage: page})
	}
	m.log.Info("toc matched", "entries", len(entries), "kept", len(out), "offset", offset)
	return out
}

// locate returns the physical start page of e, or 0 when it cannot be placed.
func (m *Matcher) locate(ctx context.Context, e Entry, expected int, pages []parser.Page, norm []string) int {
	if containsTitle(norm[expected-1], e.Title) {
		return expected
	}

	lo := max(1, expected-m.window)
	hi := min(len(pages), expected+m.window)
	resp, err := llm.CallJSON[locateResponse](ctx, m.caller, "toc_match",
		llm.UserPrompt(buildLocatePrompt(e.Title, pages[lo-1:hi])))
	if err != nil {
		m.log.Warn("dropping toc entry, verification failed", "title", e.Title, "error", err)
		return 0
	}
	if !resp.StartPage.Set {
		m.log.Warn("dropping toc entry, not found in window", "title", e.Title, "expected", expected)
		return 0
	}
	if p := resp.StartPage.Value; p < lo || p > hi {
		m.log.Warn("dropping toc entry, reported page outside window",
			"title", e.Title, "page", p, "window_start", lo, "window_end", hi)
		return 0
	}
	return resp.StartPage.Value
}

// estimateOffset returns the most frequent physical-minus-listed difference
// among entries whose title appears on exactly one body page. norm holds
// normalized page text indexed by page number minus one.
func estimateOffset(entries []Entry, norm []string) int {
	body := bodyPages(entries, norm)
	counts := make(map[int]int)
	best, bestCount := 0, 0
	for _, e := range entries {
		if !e.Page.Set {
			continue
		}
		hit := 0
		hits := 0
		for _, p := range body {
			if containsTitle(norm[p-1], e.Title) {
				hit = p
				hits++
				if hits > 1 {
					break
				}
			}
		}
		if hits != 1 {
			continue
		}
		d := hit - e.Page.Value
		counts[d]++
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

// bodyPages excludes pages that look like the TOC itself, i.e. pages
// listing several entry titles. It returns 1-based page numbers.
func bodyPages(entries []Entry, norm []string) []int {
	threshold := max(2, min(3, (len(entries)+1)/2))
	body := make([]int, 0, len(norm))
	for i, text := range norm {
		n := 0
		for _, e := range entries {
			if containsTitle(text, e.Title) {
				n++
				if n >= threshold {
					break
				}
			}
		}
		if n < threshold {
			body = append(body, i+1)
		}
	}
	return body
}

// expectedPages applies offset to listed pages. Entries without a listed
// page interpolate between their listed neighbours.
func expectedPages(entries []Entry, offset, numPages int) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		listed := 1
		if e.Page.Set {
			listed = e.Page.Value
		} else {
			prev, next := -1, -1
			for j := i - 1; j >= 0; j-- {
				if entries[j].Page.Set {
					prev = j
					break
				}
			}
			for j := i + 1; j < len(entries); j++ {
				if entries[j].Page.Set {
					next = j
					break
				}
			}
			switch {
			case prev >= 0 && next >= 0:
				a, b := entries[prev].Page.Value, entries[next].Page.Value
				frac := float64(i-prev) / float64(next-prev)
				listed = a + int(math.Round(float64(b-a)*frac))
			case prev >= 0:
				listed = entries[prev].Page.Value
			case next >= 0:
				listed = entries[next].Page.Value
			}
		}
		out[i] = min(max(listed+offset, 1), numPages)
	}
	return out
}

// containsTitle checks if normalized page text contains the title, ignoring
// case and whitespace differences.
func containsTitle(normPage, title string) bool {
	t := normalize(title)
	if t == "" {
		return false
	}
	return strings.Contains(normPage, t)
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
