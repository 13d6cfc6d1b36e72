package quality

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscout/internal/crawler"
)

func TestWeightsSumToOne(t *testing.T) {
	t.Parallel()

	sum := WeightLength + WeightReadable + WeightStructure + WeightExternal +
		WeightDuplicates + WeightMedia + WeightMetadata
	require.InDelta(t, 1.0, sum, 1e-9)
}

func TestScoreEmptyPage(t *testing.T) {
	t.Parallel()

	require.Zero(t, Score(crawler.ProcessedPage{}))
}

func TestScoreRichPageBeatsSparsePage(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for i := range 40 {
		fmt.Fprintf(&sb, "Sentence number %d explains one more detail about the topic at hand. ", i)
	}
	links := make([]crawler.Link, 0, 4)
	for i := range 4 {
		links = append(links, crawler.Link{To: fmt.Sprintf("https://other%d.example/", i), External: true})
	}
	rich := crawler.ProcessedPage{
		Title:       "A thorough guide to kettles",
		Description: "Everything about kettles.",
		Text:        sb.String(),
		Links:       links,
		Images:      []crawler.Image{{URL: "a"}, {URL: "b"}, {URL: "c"}},
		Signals: crawler.Signals{
			Headings:         4,
			Paragraphs:       8,
			HasMain:          true,
			DeclaredLanguage: "en",
		},
	}
	sparse := crawler.ProcessedPage{Title: "Hi", Text: "Buy. Buy. Buy."}

	richScore := Score(rich)
	require.Greater(t, richScore, Score(sparse))
	require.LessOrEqual(t, richScore, 1.0)
	require.GreaterOrEqual(t, richScore, 0.9)
	require.Equal(t, richScore, Score(rich))
}

func TestSubScores(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 0.5, lengthScore(strings.Repeat("a", 250)), 1e-9)
	require.Equal(t, 1.0, lengthScore(strings.Repeat("a", 1000)))
	require.Equal(t, 0.6, lengthScore(strings.Repeat("a", 100000)))

	require.Equal(t, 0.5, externalLinkScore(60))
	require.Equal(t, 1.0, externalLinkScore(3))

	require.InDelta(t, 2.0/3.0, uniquenessScore("A b. a b! C d."), 1e-9)
	require.Equal(t, 1.0, mediaScore(10))

	b := Explain(crawler.ProcessedPage{Title: "Exactly ten", Signals: crawler.Signals{DeclaredLanguage: "en"}})
	require.InDelta(t, 0.7, b.Metadata, 1e-9)
}
