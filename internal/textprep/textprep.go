// Package textprep cleans article text before it is embedded.
package textprep

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/thebtf/newscluster/pkg/models"
)

// blockElements get a separating space so adjacent paragraphs don't fuse.
var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "figcaption": true, "footer": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "ol": true, "p": true, "pre": true,
	"section": true, "table": true, "td": true, "th": true, "tr": true, "ul": true,
}

// StripMarkup removes HTML tags, scripts and styles, and decodes entities.
// Text without markup is returned unchanged.
func StripMarkup(text string) string {
	if !strings.ContainsAny(text, "<&") {
		return text
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return text
	}
	var b strings.Builder
	collectText(doc.Selection, &b)
	return b.String()
}

func collectText(s *goquery.Selection, b *strings.Builder) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		name := goquery.NodeName(c)
		switch name {
		case "#text":
			b.WriteString(c.Text())
		case "#comment", "script", "style", "noscript", "template":
		default:
			block := blockElements[name]
			if block {
				b.WriteByte(' ')
			}
			collectText(c, b)
			if block {
				b.WriteByte(' ')
			}
		}
	})
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims the ends.
func CollapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Clean strips markup and normalizes whitespace.
// This is the main function to use before embedding any article text.
func Clean(text string) string {
	return CollapseWhitespace(StripMarkup(text))
}

// EmbeddingText returns the text embedded for an article: the cleaned
// localized summary, or the cleaned title when the summary is blank.
func EmbeddingText(a models.Article) string {
	if s := Clean(a.Summary); s != "" {
		return s
	}
	return Clean(a.Title)
}
