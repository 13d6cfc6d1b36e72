package index

import (
	"math"
	"sort"

	"github.com/JakeFAU/webscout/internal/crawler"
)

// MaxPositions caps the positions kept per entry.
const MaxPositions = 64

// TextFields are the indexed fields of a page.
type TextFields struct {
	Title   string
	Content string
}

// Entry is one inverted-index row: a term's occurrences in one field of one page.
type Entry struct {
	Term      string        `json:"-"`
	URL       string        `json:"-"`
	Field     crawler.Field `json:"-"`
	Frequency int           `json:"tf"`
	Positions []int         `json:"pos,omitempty"`
}

// BuildEntries produces the full set of entries for a page, sorted by term then field.
func BuildEntries(pageURL string, fields TextFields) []Entry {
	var entries []Entry
	entries = appendFieldEntries(entries, pageURL, crawler.FieldTitle, fields.Title)
	entries = appendFieldEntries(entries, pageURL, crawler.FieldContent, fields.Content)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Term != entries[j].Term {
			return entries[i].Term < entries[j].Term
		}
		return entries[i].Field < entries[j].Field
	})
	return entries
}

func appendFieldEntries(entries []Entry, pageURL string, field crawler.Field, text string) []Entry {
	byTerm := make(map[string]*Entry)
	var order []string
	for pos, term := range Tokenize(text) {
		e, ok := byTerm[term]
		if !ok {
			e = &Entry{Term: term, URL: pageURL, Field: field}
			byTerm[term] = e
			order = append(order, term)
		}
		e.Frequency++
		if len(e.Positions) < MaxPositions {
			e.Positions = append(e.Positions, pos)
		}
	}
	for _, term := range order {
		entries = append(entries, *byTerm[term])
	}
	return entries
}

// TermNorm is the euclidean norm of the page's combined term-frequency vector.
func TermNorm(entries []Entry) float64 {
	tf := make(map[string]int, len(entries))
	for _, e := range entries {
		tf[e.Term] += e.Frequency
	}
	var sum float64
	for _, n := range tf {
		sum += float64(n * n)
	}
	return math.Sqrt(sum)
}
