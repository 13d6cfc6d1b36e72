// Package classify assigns a content type to processed pages with fixed indicator rules.
//
// Each category owns an ordered list of boolean indicators and a threshold. Categories
// are evaluated news, academic, shopping, reference; the first whose indicator count
// reaches its threshold wins, and pages matching none are labelled web.
package classify

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/webscout/internal/crawler"
)

// Indicator is one pure check over a processed page.
type Indicator struct {
	Name  string
	Check func(crawler.ProcessedPage) bool
}

// Rule is a category, its indicators and the number of them that must hold.
type Rule struct {
	Type       crawler.ContentType
	Threshold  int
	Indicators []Indicator
}

// Result explains a classification.
type Result struct {
	Type    crawler.ContentType
	Matched []string
}

// Classifier evaluates rules in order.
type Classifier struct {
	rules []Rule
}

// New returns a classifier with the default rule set.
func New() *Classifier {
	return &Classifier{rules: DefaultRules()}
}

// NewWithRules builds a classifier over a custom ordered rule set.
func NewWithRules(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the first qualifying content type, or web.
func (c *Classifier) Classify(page crawler.ProcessedPage) crawler.ContentType {
	return c.Explain(page).Type
}

// Explain classifies page and names the indicators that fired for the winning rule.
func (c *Classifier) Explain(page crawler.ProcessedPage) Result {
	for _, rule := range c.rules {
		var matched []string
		for _, ind := range rule.Indicators {
			if ind.Check(page) {
				matched = append(matched, ind.Name)
			}
		}
		if len(matched) >= rule.Threshold {
			return Result{Type: rule.Type, Matched: matched}
		}
	}
	return Result{Type: crawler.ContentWeb}
}

var (
	newsDomains = newKeywords("news", "bbc.", "reuters.", "theguardian.", "guardian.co", "cnn.", "nytimes.",
		"apnews.", "npr.org", "washingtonpost.", "aljazeera.", "bloomberg.")
	newsTitle = newKeywords("news", "breaking", "report", "update", "exclusive", "live:")
	newsBody  = newKeywords("published", "reporter", "breaking news", "correspondent", "told reporters",
		"press release", "updated on")
	newsPath = regexp.MustCompile(`/(news|article|articles|story|stories)/|/(19|20)\d{2}/\d{1,2}/`)

	academicDomains = newKeywords("arxiv.org", "jstor.org", "scholar.google", "researchgate.", "ncbi.nlm.nih.gov",
		"sciencedirect.", "springer.", "acm.org", "ieee.org", "nature.com")
	academicTitle    = newKeywords("research", "study", "journal", "paper", "proceedings", "thesis", "analysis of")
	academicSections = newKeywords("abstract", "methodology", "conclusion", "references", "literature review",
		"hypothesis", "findings")
	citationPattern = regexp.MustCompile(`\[\d{1,3}\]|\bet al\.|\bdoi:\s*10\.|\(\w+,\s*(19|20)\d{2}\)`)

	shoppingDomains = newKeywords("amazon.", "ebay.", "etsy.", "walmart.", "bestbuy.", "aliexpress.", "shop",
		"store")
	shoppingBody = newKeywords("add to cart", "add to basket", "buy now", "checkout", "in stock", "free shipping",
		"out of stock")
	pricePattern = regexp.MustCompile(`[$€£¥]\s?\d{1,6}(?:[.,]\d{2})?|\d{1,6}[.,]\d{2}\s?(?:usd|eur|gbp)\b`)
	shoppingPath = regexp.MustCompile(`/(product|products|item|items|dp|shop|p)/`)

	referenceDomains = newKeywords("wikipedia.org", "wiktionary.org", "dictionary", "encyclopedia", "britannica.",
		"merriam-webster.", "thesaurus.")
	referenceTitle = newKeywords("definition", "meaning", "what is", "glossary", "encyclopedia", "dictionary")
	referenceBody  = newKeywords("may refer to", "see also", "is defined as", "refers to", "definition of",
		"also known as")
)

// DefaultRules returns the built-in rule set in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Type:      crawler.ContentNews,
			Threshold: 2,
			Indicators: []Indicator{
				{Name: "news_domain", Check: func(p crawler.ProcessedPage) bool { return newsDomains.in(p.Domain) }},
				{Name: "news_title", Check: func(p crawler.ProcessedPage) bool { return newsTitle.in(p.Title) }},
				{Name: "time_element", Check: func(p crawler.ProcessedPage) bool { return p.Signals.HasTime }},
				{Name: "byline", Check: func(p crawler.ProcessedPage) bool {
					return p.Signals.HasByline || p.Byline != "" || newsBody.in(p.Text)
				}},
				{Name: "news_path", Check: func(p crawler.ProcessedPage) bool { return newsPath.MatchString(urlPath(p.URL)) }},
			},
		},
		{
			Type:      crawler.ContentAcademic,
			Threshold: 2,
			Indicators: []Indicator{
				{Name: "academic_domain", Check: func(p crawler.ProcessedPage) bool {
					return isAcademicHost(p.Domain) || academicDomains.in(p.Domain)
				}},
				{Name: "research_title", Check: func(p crawler.ProcessedPage) bool { return academicTitle.in(p.Title) }},
				{Name: "academic_sections", Check: func(p crawler.ProcessedPage) bool { return academicSections.count(p.Text) >= 2 }},
				{Name: "citations", Check: func(p crawler.ProcessedPage) bool {
					return p.Signals.Citations >= 3 || len(citationPattern.FindAllStringIndex(p.Text, 3)) >= 3
				}},
			},
		},
		{
			Type:      crawler.ContentShopping,
			Threshold: 3,
			Indicators: []Indicator{
				{Name: "shop_domain", Check: func(p crawler.ProcessedPage) bool { return shoppingDomains.in(p.Domain) }},
				{Name: "price", Check: func(p crawler.ProcessedPage) bool {
					return p.Signals.HasPriceMarkup || pricePattern.MatchString(strings.ToLower(p.Text))
				}},
				{Name: "product_schema", Check: func(p crawler.ProcessedPage) bool { return p.Signals.HasProductSchema }},
				{Name: "cart", Check: func(p crawler.ProcessedPage) bool { return shoppingBody.in(p.Text) }},
				{Name: "product_path", Check: func(p crawler.ProcessedPage) bool { return shoppingPath.MatchString(urlPath(p.URL)) }},
			},
		},
		{
			Type:      crawler.ContentReference,
			Threshold: 2,
			Indicators: []Indicator{
				{Name: "reference_domain", Check: func(p crawler.ProcessedPage) bool { return referenceDomains.in(p.Domain) }},
				{Name: "definition_title", Check: func(p crawler.ProcessedPage) bool { return referenceTitle.in(p.Title) }},
				{Name: "reference_phrases", Check: func(p crawler.ProcessedPage) bool { return referenceBody.in(p.Text) }},
				{Name: "toc_or_infobox", Check: func(p crawler.ProcessedPage) bool {
					return p.Signals.HasTableOfContent || p.Signals.HasInfobox
				}},
			},
		},
	}
}

func isAcademicHost(host string) bool {
	host = strings.ToLower(host)
	return strings.HasSuffix(host, ".edu") || strings.Contains(host, ".edu.") || strings.Contains(host, ".ac.")
}

func urlPath(rawURL string) string {
	rest := rawURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return strings.ToLower(rest[i:])
	}
	return "/"
}
