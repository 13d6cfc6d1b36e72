package search

import (
	"strings"
	"unicode"
)

// SnippetLength is the approximate snippet size in characters.
const SnippetLength = 300

// Snippet returns about SnippetLength characters of text centred on the first
// occurrence of any term, cut at word boundaries and marked with ellipses.
func Snippet(text string, terms []string) string {
	runes := []rune(strings.Join(strings.Fields(text), " "))
	if len(runes) <= SnippetLength {
		return string(runes)
	}
	lower := []rune(strings.ToLower(string(runes)))

	hit := -1
	for _, term := range terms {
		if i := indexRunes(lower, []rune(term)); i >= 0 && (hit < 0 || i < hit) {
			hit = i
		}
	}

	start := 0
	if hit > SnippetLength/2 {
		start = hit - SnippetLength/2
	}
	end := start + SnippetLength
	if end > len(runes) {
		end = len(runes)
		start = max(0, end-SnippetLength)
	}
	for start > 0 && start < end && !unicode.IsSpace(runes[start-1]) {
		start++
	}
	for end < len(runes) && end > start && !unicode.IsSpace(runes[end]) {
		end--
	}

	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if haystack[i+j] != r {
				continue outer
			}
		}
		return i
	}
	return -1
}
