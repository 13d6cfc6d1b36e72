package processor

import (
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webscout/internal/crawler"
)

// nonContentSelectors are stripped before falling back to DOM text extraction.
const nonContentSelectors = "script, style, noscript, template, nav, header, footer, aside, form, iframe"

// mainSelectors are tried in order for the primary content block.
var mainSelectors = []string{"main", "article", "div.content", "#content", "[role=main]"}

const maxAnchorChars = 200

func extractTitle(doc *goquery.Document) string {
	if title := collapseSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if h1 := collapseSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok {
		return collapseSpace(og)
	}
	return ""
}

func extractDescription(doc *goquery.Document) string {
	if desc, ok := doc.Find("meta[name='description']").Attr("content"); ok {
		if desc = collapseSpace(desc); desc != "" {
			return desc
		}
	}
	if og, ok := doc.Find("meta[property='og:description']").Attr("content"); ok {
		return collapseSpace(og)
	}
	return ""
}

func extractAuthor(doc *goquery.Document) string {
	if author, ok := doc.Find("meta[name='author']").Attr("content"); ok {
		return collapseSpace(author)
	}
	return ""
}

func extractSignals(doc *goquery.Document) crawler.Signals {
	s := crawler.Signals{
		Headings:          doc.Find("h1, h2, h3, h4, h5, h6").Length(),
		Paragraphs:        doc.Find("p").Length(),
		Lists:             doc.Find("ul, ol").Length(),
		HasMain:           doc.Find("main, article").Length() > 0,
		HasTime:           doc.Find("time").Length() > 0,
		HasByline:         doc.Find("[rel=author], .byline, .author, [itemprop=author], meta[name='author']").Length() > 0,
		HasPriceMarkup:    doc.Find("[itemprop=price], meta[property='product:price:amount'], .price").Length() > 0,
		HasTableOfContent: doc.Find("#toc, .toc, [role=doc-toc]").Length() > 0,
		HasInfobox:        doc.Find(".infobox").Length() > 0,
		Citations:         doc.Find("cite, sup.reference, .citation").Length(),
		DeclaredLanguage:  primaryLanguage(doc.Find("html").AttrOr("lang", "")),
	}
	s.HasProductSchema = doc.Find("[itemtype*='schema.org/Product'], meta[property='og:type'][content='product']").Length() > 0
	if !s.HasProductSchema {
		doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			compact := strings.Join(strings.Fields(sel.Text()), "")
			if strings.Contains(compact, `"@type":"Product"`) {
				s.HasProductSchema = true
				return false
			}
			return true
		})
	}
	return s
}

// baseURL honours a <base href> element when present.
func baseURL(doc *goquery.Document, page *url.URL) *url.URL {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok {
		return page
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return page
	}
	return page.ResolveReference(ref)
}

func extractLinks(doc *goquery.Document, base *url.URL, pageURL, domain string, limit int, now time.Time) []crawler.Link {
	seen := make(map[string]struct{})
	var links []crawler.Link
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if limit > 0 && len(links) >= limit {
			return false
		}
		to, err := crawler.ResolveURL(base, sel.AttrOr("href", ""))
		if err != nil || to == pageURL {
			return true
		}
		if _, dup := seen[to]; dup {
			return true
		}
		seen[to] = struct{}{}
		links = append(links, crawler.Link{
			From:         pageURL,
			To:           to,
			AnchorText:   truncateRunes(collapseSpace(sel.Text()), maxAnchorChars),
			External:     !strings.EqualFold(crawler.Domain(to), domain),
			DiscoveredAt: now,
		})
		return true
	})
	return links
}

func extractImages(doc *goquery.Document, base *url.URL, pageURL string, limit int, now time.Time) []crawler.Image {
	seen := make(map[string]struct{})
	var images []crawler.Image
	doc.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if limit > 0 && len(images) >= limit {
			return false
		}
		src := sel.AttrOr("src", "")
		if strings.TrimSpace(src) == "" {
			src = sel.AttrOr("data-src", "")
		}
		abs, err := crawler.ResolveURL(base, src)
		if err != nil {
			return true
		}
		if _, dup := seen[abs]; dup {
			return true
		}
		seen[abs] = struct{}{}
		images = append(images, crawler.Image{
			PageURL:      pageURL,
			URL:          abs,
			AltText:      collapseSpace(sel.AttrOr("alt", "")),
			Title:        collapseSpace(sel.AttrOr("title", "")),
			Width:        atoi(sel.AttrOr("width", "")),
			Height:       atoi(sel.AttrOr("height", "")),
			DiscoveredAt: now,
		})
		return true
	})
	return images
}

// domText extracts text from the first main-content block, or the whole body.
// It mutates doc by removing non-content elements.
func domText(doc *goquery.Document, preferMain bool) string {
	doc.Find(nonContentSelectors).Remove()
	if preferMain {
		for _, sel := range mainSelectors {
			if block := doc.Find(sel).First(); block.Length() > 0 {
				if text := normalizeText(block.Text()); text != "" {
					return text
				}
			}
		}
	}
	return normalizeText(doc.Find("body").First().Text())
}

func hasMainBlock(doc *goquery.Document) bool {
	for _, sel := range mainSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// normalizeText trims every line, collapses inner whitespace and drops blank lines.
func normalizeText(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = collapseSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}

func primaryLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return tag
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
