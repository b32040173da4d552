// Package render turns the summary Markdown into a PDF document.
//
// Markdown is converted to HTML locally and then printed to PDF by a
// headless Chromium service. The printer runs a browser, so the HTML it
// receives must not reference anything it would fetch: only inline data
// URIs are accepted as image sources, and raw HTML in the Markdown is
// never passed through.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// ErrUnsafeResource is returned for Markdown that references an external resource.
var ErrUnsafeResource = errors.New("external resource not allowed")

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// BuildMarkdown normalizes summarizer output into the document source:
// trailing whitespace is removed and exactly one newline ends the text.
func BuildMarkdown(structured string) string {
	return strings.TrimRight(structured, " \t\r\n") + "\n"
}

// CheckResources rejects images whose source is not an inline data URI.
func CheckResources(source string) error {
	src := []byte(source)
	doc := md.Parser().Parse(text.NewReader(src))

	var bad error
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		img, ok := n.(*ast.Image)
		if !ok {
			return ast.WalkContinue, nil
		}
		dest := strings.TrimSpace(string(img.Destination))
		if !strings.HasPrefix(strings.ToLower(dest), "data:") {
			bad = fmt.Errorf("%w: %q", ErrUnsafeResource, truncate(dest, 200))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return err
	}
	return bad
}

// ToHTML converts Markdown into a standalone HTML document.
// Raw HTML blocks in the source are omitted.
func ToHTML(source, title string) (string, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(source), &body); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}

	var doc strings.Builder
	doc.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
	doc.WriteString(html.EscapeString(title))
	doc.WriteString("</title>\n<style>")
	doc.WriteString(stylesheet)
	doc.WriteString("</style>\n</head>\n<body dir=\"auto\">\n")
	doc.Write(body.Bytes())
	doc.WriteString("</body>\n</html>\n")
	return doc.String(), nil
}

const stylesheet = `body{font-family:sans-serif;line-height:1.6;margin:2em;}` +
	`h1,h2,h3{page-break-after:avoid;}` +
	`table{border-collapse:collapse;}td,th{border:1px solid #999;padding:4px 8px;}` +
	`img{max-width:100%;}`

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
