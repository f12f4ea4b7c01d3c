package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"realestate-crawler/models"
)

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"header": true, "footer": true, "ul": true, "ol": true, "table": true,
	"tr": true, "br": true, "dl": true, "dt": true, "dd": true, "form": true,
}

// RenderText converts listing HTML to compact markdown-like text: headings
// become "#" lines, list items "- " lines and table rows "a | b" lines.
// Scripts, styles and hidden elements are dropped.
func RenderText(rawHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, svg, iframe, template, [hidden], [aria-hidden='true']").Remove()

	var b strings.Builder
	for _, n := range doc.Nodes {
		renderNode(&b, n)
	}
	return models.NormaliseContent(b.String()), nil
}

func renderNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		text := strings.Join(strings.Fields(n.Data), " ")
		if text == "" {
			return
		}
		if b.Len() > 0 {
			last := b.String()[b.Len()-1]
			if last != '\n' && last != ' ' {
				b.WriteByte(' ')
			}
		}
		b.WriteString(text)
		return
	case html.ElementNode:
	case html.DocumentNode:
		renderChildren(b, n)
		return
	default:
		return
	}

	tag := n.Data
	switch {
	case len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6':
		b.WriteString("\n\n" + strings.Repeat("#", int(tag[1]-'0')) + " ")
		renderChildren(b, n)
		b.WriteString("\n")
	case tag == "li":
		b.WriteString("\n- ")
		renderChildren(b, n)
	case tag == "td" || tag == "th":
		if s := b.String(); len(s) > 0 && s[len(s)-1] != '\n' {
			b.WriteString(" | ")
		}
		renderChildren(b, n)
	case blockTags[tag]:
		b.WriteString("\n")
		renderChildren(b, n)
		b.WriteString("\n")
	default:
		renderChildren(b, n)
	}
}

func renderChildren(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(b, c)
	}
}
