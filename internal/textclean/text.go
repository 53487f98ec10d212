// Package textclean turns posting descriptions, which boards deliver as plain
// text, HTML fragments or whole pages, into normalized plain text.
package textclean

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
)

const blockSelectors = "p, div, li, ul, ol, h1, h2, h3, h4, h5, h6, tr, section, article, blockquote, pre"

// CleanText normalizes line endings and collapses extra in-line whitespace.
// Non-empty lines become paragraphs separated by a blank line.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(strings.TrimSpace(line)), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}

	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}

// TruncateText clips text to maxChars runes and appends a single ellipsis rune when truncated.
func TruncateText(raw string, maxChars int) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if maxChars <= 0 {
		return trimmed, false
	}

	runes := []rune(trimmed)
	if len(runes) <= maxChars {
		return trimmed, false
	}
	if maxChars == 1 {
		return "…", true
	}

	clipped := strings.TrimSpace(string(runes[:maxChars-1]))
	if clipped == "" {
		return "…", true
	}
	return clipped + "…", true
}

// LooksLikeHTML reports whether text carries markup worth stripping.
func LooksLikeHTML(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range []string{"<p", "<br", "<div", "<li", "<ul", "<b>", "<strong", "<span", "<html", "<body", "&nbsp;", "&amp;"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// FromHTML extracts readable text from a description. Whole documents go
// through readability first; fragments, and documents readability cannot
// handle, are flattened with goquery.
func FromHTML(html string, pageURL string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}

	if isDocument(html) {
		if text := readableText(html, pageURL); text != "" {
			return text, nil
		}
	}
	return fragmentText(html)
}

func isDocument(html string) bool {
	lower := strings.ToLower(html)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<body")
}

func readableText(html string, pageURL string) string {
	var base *url.URL
	if strings.TrimSpace(pageURL) != "" {
		if parsed, err := url.Parse(pageURL); err == nil {
			base = parsed
		}
	}

	article, err := readability.FromReader(strings.NewReader(html), base)
	if err != nil {
		return ""
	}

	var rendered bytes.Buffer
	if err := article.RenderText(&rendered); err != nil {
		return ""
	}
	text := CleanText(rendered.String())
	if text == "" {
		text = CleanText(article.Excerpt())
	}
	return text
}

func fragmentText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse description html: %w", err)
	}

	doc.Find("script, style, noscript, iframe, svg").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(blockSelectors).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return CleanText(doc.Text()), nil
}
