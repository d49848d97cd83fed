package tools

import (
	"strings"

	"golang.org/x/net/html"
)

// HTMLToText flattens an HTML statement (for example a copied problem page) into plain
// text. Superscripts and subscripts keep a ^ or _ marker so formulas stay readable.
func HTMLToText(src string) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	node, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	extractText(node, &b, false)
	return strings.TrimSpace(compactWhitespace(b.String())), nil
}

func extractText(n *html.Node, b *strings.Builder, hidden bool) {
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "head", "template":
			hidden = true
		case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "pre", "blockquote":
			b.WriteString("\n")
		case "sup":
			b.WriteString("^")
		case "sub":
			b.WriteString("_")
		}
	}
	if !hidden && n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, b, hidden)
	}
}

// compactWhitespace collapses runs of blanks within lines and drops empty lines.
func compactWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, ln := range lines {
		if ln = strings.Join(strings.Fields(ln), " "); ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}
