// Package extract turns raw markup into plain text for chunking.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DefaultDenyTags lists the structural elements stripped before text
// serialization. The list is data, not behavior: callers may substitute
// their own.
var DefaultDenyTags = []string{
	"script", "style", "noscript",
	"nav", "header", "footer",
	"form", "aside",
}

var blankRuns = regexp.MustCompile(`\n{2,}`)

// Extractor strips non-content elements and serializes what remains.
type Extractor struct {
	deny []string
}

// New builds an Extractor with the given deny-list, or DefaultDenyTags when
// nil.
func New(denyTags []string) *Extractor {
	if denyTags == nil {
		denyTags = DefaultDenyTags
	}
	return &Extractor{deny: denyTags}
}

// Extract parses markup and returns the visible text: remaining text nodes
// in document order joined by newlines, blank-line runs collapsed.
// Extraction is best-effort; a parse failure yields an empty string plus a
// diagnostic, never a hard error, and an empty result means "nothing to
// chunk" downstream.
func (e *Extractor) Extract(markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse markup: %w", err)
	}

	for _, tag := range e.deny {
		doc.Find(tag).Remove()
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var lines []string
	for _, node := range root.Nodes {
		collectText(node, &lines)
	}
	text := strings.Join(lines, "\n")
	text = blankRuns.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text), nil
}

// collectText appends trimmed text nodes in document order.
func collectText(n *html.Node, lines *[]string) {
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			*lines = append(*lines, t)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, lines)
	}
}
