package crawler

import "time"

// Signals are structural facts about a page's markup, recorded during extraction
// so classification and quality scoring never re-parse HTML.
type Signals struct {
	Headings          int
	Paragraphs        int
	Lists             int
	HasMain           bool
	HasTime           bool
	HasByline         bool
	HasProductSchema  bool
	HasPriceMarkup    bool
	HasTableOfContent bool
	HasInfobox        bool
	Citations         int
	DeclaredLanguage  string
}

// ProcessedPage is the extraction result for one fetched page.
type ProcessedPage struct {
	URL           string
	Domain        string
	Title         string
	Text          string
	Description   string
	Byline        string
	Language      string
	ContentHash   string
	StatusCode    int
	ContentLength int
	LastModified  *time.Time
	Links         []Link
	Images        []Image
	Signals       Signals
	Markup        []byte
}

// ExternalLinks counts outbound links that leave the page's domain.
func (p ProcessedPage) ExternalLinks() int {
	n := 0
	for _, l := range p.Links {
		if l.External {
			n++
		}
	}
	return n
}
