package extract

import (
	"bytes"
	"errors"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// PlainText passes text through unchanged.
type PlainText struct{}

func (PlainText) Formats() []string { return []string{"text", "txt", "plain", "text/plain"} }

func (PlainText) ExtractText(data []byte) (string, error) {
	return string(data), nil
}

// Markdown strips inline markup and keeps the readable text.
type Markdown struct{}

var (
	mdImage    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdHeading  = regexp.MustCompile(`(?m)^#{1,6}[ \t]+`)
	mdFence    = regexp.MustCompile("(?m)^```[^\n]*\n?")
	mdEmphasis = regexp.MustCompile(`(\*\*|__|\*|_|~~|` + "`" + `)([^*_~` + "`" + `\n]+)(\*\*|__|\*|_|~~|` + "`" + `)`)
	mdRule     = regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`)
	mdQuote    = regexp.MustCompile(`(?m)^>[ \t]?`)
)

func (Markdown) Formats() []string { return []string{"markdown", "md", "text/markdown"} }

func (Markdown) ExtractText(data []byte) (string, error) {
	text := string(data)
	text = mdFence.ReplaceAllString(text, "")
	text = mdImage.ReplaceAllString(text, "$1")
	text = mdLink.ReplaceAllString(text, "$1")
	text = mdHeading.ReplaceAllString(text, "")
	text = mdRule.ReplaceAllString(text, "")
	text = mdQuote.ReplaceAllString(text, "")
	text = mdEmphasis.ReplaceAllString(text, "$2")
	return text, nil
}

// HTML extracts visible text, dropping scripts and styles and separating
// block elements with blank lines.
type HTML struct{}

func (HTML) Formats() []string { return []string{"html", "htm", "text/html"} }

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "tr": true, "section": true, "article": true, "header": true,
	"footer": true, "blockquote": true, "pre": true, "title": true,
}

func (HTML) ExtractText(data []byte) (string, error) {
	z := html.NewTokenizer(bytes.NewReader(data))
	var sb strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", err
			}
			return sb.String(), nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" || tag == "noscript" {
				skip++
			}
			if blockElements[tag] {
				sb.WriteString("\n\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style" || tag == "noscript") && skip > 0 {
				skip--
			}
			if blockElements[tag] {
				sb.WriteString("\n\n")
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text == "" {
				continue
			}
			if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
				sb.WriteString(" ")
			}
			sb.WriteString(text)
		}
	}
}
