// Package quality scores processed pages on a 0..1 scale from content and markup signals.
package quality

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/webscout/internal/crawler"
)

// Sub-score weights. They sum to 1.0.
const (
	WeightLength     = 0.25
	WeightReadable   = 0.15
	WeightStructure  = 0.20
	WeightExternal   = 0.10
	WeightDuplicates = 0.10
	WeightMedia      = 0.10
	WeightMetadata   = 0.10
)

// Breakdown holds each normalized sub-score and the weighted total.
type Breakdown struct {
	Length     float64
	Readable   float64
	Structure  float64
	External   float64
	Duplicates float64
	Media      float64
	Metadata   float64
	Total      float64
}

// Score returns the weighted quality of page, clamped to [0,1].
func Score(page crawler.ProcessedPage) float64 {
	return Explain(page).Total
}

// Explain returns every sub-score alongside the total.
func Explain(page crawler.ProcessedPage) Breakdown {
	b := Breakdown{
		Length:     lengthScore(page.Text),
		Readable:   readabilityScore(page.Text),
		Structure:  structureScore(page.Signals),
		External:   externalLinkScore(page.ExternalLinks()),
		Duplicates: uniquenessScore(page.Text),
		Media:      mediaScore(len(page.Images)),
		Metadata:   metadataScore(page),
	}
	total := b.Length*WeightLength +
		b.Readable*WeightReadable +
		b.Structure*WeightStructure +
		b.External*WeightExternal +
		b.Duplicates*WeightDuplicates +
		b.Media*WeightMedia +
		b.Metadata*WeightMetadata
	b.Total = clamp(total)
	return b
}

// lengthScore favours 500..5000 characters of text.
func lengthScore(text string) float64 {
	n := utf8.RuneCountInString(text)
	switch {
	case n == 0:
		return 0
	case n < 500:
		return float64(n) / 500
	case n <= 5000:
		return 1
	default:
		// Very long pages are usually listings or dumps.
		return math.Max(0.6, 1-float64(n-5000)/25000)
	}
}

// readabilityScore peaks when sentences average 10..25 words.
func readabilityScore(text string) float64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	sentences := strings.Count(text, ".") + strings.Count(text, "!") + strings.Count(text, "?")
	if sentences == 0 {
		sentences = 1
	}
	avg := float64(words) / float64(sentences)
	switch {
	case avg < 5:
		return avg / 10
	case avg < 10:
		return 0.5 + (avg-5)/10
	case avg <= 25:
		return 1
	case avg <= 50:
		return 1 - (avg-25)/50
	default:
		return 0.3
	}
}

func structureScore(s crawler.Signals) float64 {
	score := 0.0
	score += 0.4 * math.Min(float64(s.Headings), 4) / 4
	if s.HasMain {
		score += 0.3
	}
	blocks := s.Paragraphs + s.Lists
	score += 0.3 * math.Min(float64(blocks), 5) / 5
	return score
}

// externalLinkScore rewards citing at least three other sites; link farms are penalized.
func externalLinkScore(n int) float64 {
	switch {
	case n == 0:
		return 0
	case n < 3:
		return float64(n) / 3
	case n <= 50:
		return 1
	default:
		return 0.5
	}
}

// uniquenessScore is the share of distinct sentences, penalizing repeated boilerplate.
func uniquenessScore(text string) float64 {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	seen := make(map[string]struct{}, len(parts))
	total := 0
	for _, p := range parts {
		norm := strings.ToLower(strings.Join(strings.FieldsFunc(p, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}), " "))
		if norm == "" {
			continue
		}
		total++
		seen[norm] = struct{}{}
	}
	if total == 0 {
		return 0
	}
	return float64(len(seen)) / float64(total)
}

func mediaScore(images int) float64 {
	return math.Min(float64(images), 3) / 3
}

func metadataScore(page crawler.ProcessedPage) float64 {
	score := 0.0
	if n := utf8.RuneCountInString(page.Title); n >= 10 && n <= 100 {
		score += 0.4
	} else if n > 0 {
		score += 0.2
	}
	if page.Description != "" {
		score += 0.3
	}
	if page.Signals.DeclaredLanguage != "" {
		score += 0.3
	}
	return score
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
