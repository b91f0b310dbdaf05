// Package tokens estimates token counts for node sizing and prompt budgets.
package tokens

import (
	"strings"
	"unicode"
)

// wide reports whether r is a CJK character, which tokenizers encode as
// roughly one token per rune.
func wide(r rune) bool {
	switch {
	case r >= 0x3000 && r <= 0x303f, r >= 0xff00 && r <= 0xffef:
		return true
	}
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

func inWord(r rune) bool {
	return !unicode.IsSpace(r) && !wide(r)
}

// Estimate gives a rough token count. CJK runes count one token each; other
// text counts the larger of 1.33 tokens per word and one token per four
// characters, so unspaced scripts still grow with their length.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	var cjk, chars, words int
	prev := false
	for _, r := range text {
		w := inWord(r)
		switch {
		case wide(r):
			cjk++
		case w:
			chars++
			if !prev {
				words++
			}
		}
		prev = w
	}
	n := cjk + max(int(float64(words)*1.33), chars/4)
	if n < 1 {
		n = 1
	}
	return n
}

// Truncate cuts text to about maxTokens. The cut backs up to the previous
// word boundary when it would land inside a word.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || Estimate(text) <= maxTokens {
		return text
	}
	runes := []rune(text)
	// Estimate(runes[:lo]) fits, Estimate(runes[:hi]) does not.
	lo, hi := 0, len(runes)
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if Estimate(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid
		}
	}
	cut := lo
	if inWord(runes[cut]) {
		for i := cut; i > 0; i-- {
			if !inWord(runes[i-1]) {
				cut = i
				break
			}
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + " ..."
}
