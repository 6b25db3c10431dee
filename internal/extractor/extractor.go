// Package extractor turns raw HTML into normalized text with a content
// fingerprint. Extraction is pure: no I/O and no shared state mutation, so
// failures are data-quality signals rather than crawl-fatal errors.
package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/scrapai/scrapai/internal/crawl"
)

// Elements removed before any text extraction.
const strippedElements = "script, style, nav, header, footer, aside, form"

// Content roots tried in priority order before falling back to body.
var contentSelectors = []string{
	"article",
	"main",
	"[role=\"main\"]",
	".content",
	".post-content",
	".entry-content",
	".article-content",
	".post-body",
	".story-content",
	".page-content",
}

// Noise stripped from the body fallback only.
const noiseSelectors = ".sidebar, .menu, .comments, .advertisement"

// Block-level elements that introduce structural line breaks.
var blockElements = map[string]struct{}{
	"p": {}, "div": {}, "li": {}, "ul": {}, "ol": {}, "table": {}, "tr": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"section": {}, "article": {}, "blockquote": {}, "pre": {}, "br": {},
}

// Config tunes the noise filter.
type Config struct {
	// MinLineLength drops shorter lines as UI chrome rather than content.
	MinLineLength int
}

// Extractor implements crawl.Extractor on top of goquery.
type Extractor struct {
	hasher crawl.Hasher
	cfg    Config
}

// New builds an Extractor.
func New(hasher crawl.Hasher, cfg Config) *Extractor {
	if cfg.MinLineLength <= 0 {
		cfg.MinLineLength = 20
	}
	return &Extractor{hasher: hasher, cfg: cfg}
}

// Extract produces the title/content/hash triple for a page. Parse failures
// and empty input return a sentinel result instead of an error.
func (e *Extractor) Extract(rawHTML, rawURL string) crawl.Extraction {
	if strings.TrimSpace(rawHTML) == "" {
		return crawl.Extraction{Title: "Failed to fetch"}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return crawl.Extraction{Title: "Error"}
	}

	doc.Find(strippedElements).Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = rawURL
	}

	description := strings.TrimSpace(doc.Find("meta[name=\"description\"]").AttrOr("content", ""))

	root := e.selectContentRoot(doc)
	var body string
	if root != nil {
		body = e.cleanText(renderText(root))
	}

	parts := make([]string, 0, 3)
	parts = append(parts, title)
	if description != "" {
		parts = append(parts, description)
	}
	if body != "" {
		parts = append(parts, body)
	}
	content := strings.Join(parts, "\n")
	if body == "" && description == "" {
		// Title alone is not content.
		content = ""
	}

	hash := ""
	if content != "" {
		if digest, hashErr := e.hasher.Hash([]byte(content)); hashErr == nil {
			hash = digest
		}
	}

	return crawl.Extraction{
		Title:       title,
		Content:     content,
		ContentHash: hash,
		WordCount:   len(strings.Fields(content)),
	}
}

func (e *Extractor) selectContentRoot(doc *goquery.Document) *goquery.Selection {
	for _, selector := range contentSelectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			return sel
		}
	}
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return nil
	}
	body.Find(noiseSelectors).Remove()
	return body
}

// renderText flattens a selection to text, inserting line breaks at
// block-element boundaries so the noise filter can work per line.
func renderText(sel *goquery.Selection) string {
	var sb strings.Builder
	for _, node := range sel.Nodes {
		renderNode(&sb, node)
	}
	return sb.String()
}

func renderNode(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		// Newlines inside a text node are plain whitespace; only block
		// boundaries produce structural line breaks.
		sb.WriteString(collapseSpace(n.Data))
	case html.ElementNode:
		_, block := blockElements[n.Data]
		if block {
			sb.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			renderNode(sb, c)
		}
		if block {
			sb.WriteString("\n")
		}
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			renderNode(sb, c)
		}
	}
}

// collapseSpace squeezes whitespace runs to single spaces while keeping
// boundary spaces so words split across inline elements do not join.
func collapseSpace(s string) string {
	joined := strings.Join(strings.Fields(s), " ")
	if joined == "" {
		if s != "" {
			return " "
		}
		return ""
	}
	if s != strings.TrimLeft(s, " \t\n\r") {
		joined = " " + joined
	}
	if s != strings.TrimRight(s, " \t\n\r") {
		joined += " "
	}
	return joined
}

// cleanText collapses whitespace runs within lines and drops lines below
// the minimum length threshold.
func (e *Extractor) cleanText(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if len(line) > e.cfg.MinLineLength {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
