package infer

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// NormalizeText reduces patient text to what a reader would see: markup
// pasted from portals and e-mail is parsed and only visible text kept,
// control characters are dropped and whitespace is collapsed.
func NormalizeText(raw string) string {
	text := raw
	if strings.ContainsRune(raw, '<') && strings.ContainsRune(raw, '>') {
		if doc, err := html.Parse(strings.NewReader(raw)); err == nil {
			text = extractVisibleText(doc)
		}
	}

	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(text), " ")
}

// extractVisibleText extracts text nodes from HTML, skipping scripts/styles
func extractVisibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "template", "head":
				return
			}
		}

		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return buf.String()
}
