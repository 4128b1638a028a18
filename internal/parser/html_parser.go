// Package parser extracts the outgoing links, title and visible text of HTML pages.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is the link structure of a fetched page
type Document struct {
	Links []string // absolute http(s) URLs without fragment, in document order, unique
}

// invisible elements never contribute text
const invisible = "script, style, noscript, template, iframe, svg, canvas, object"

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "fieldset": true, "figcaption": true,
	"figure": true, "footer": true, "form": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "header": true, "hr": true, "li": true,
	"main": true, "nav": true, "ol": true, "p": true, "pre": true, "section": true,
	"table": true, "td": true, "th": true, "title": true, "tr": true, "ul": true,
}

// Parse collects the links of content fetched from baseURL. Title and
// visible text are extracted on demand by Title and Text.
func Parse(baseURL string, content []byte) (*Document, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	root, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc := &Document{}
	seen := make(map[string]struct{})
	traverse(root, base, doc, seen)

	return doc, nil
}

// Text returns the visible text of an HTML fragment or document
func Text(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}
	return visibleText(doc)
}

// Title returns the document title, or an empty string
func Title(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}

func traverse(n *html.Node, base *url.URL, doc *Document, seen map[string]struct{}) {
	if n.Type == html.ElementNode && n.Data == "a" {
		if link, ok := anchorURL(n, base); ok {
			if _, dup := seen[link]; !dup {
				seen[link] = struct{}{}
				doc.Links = append(doc.Links, link)
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		traverse(c, base, doc, seen)
	}
}

// anchorURL resolves the href of an anchor against base
func anchorURL(n *html.Node, base *url.URL) (string, bool) {
	var href string
	for _, attr := range n.Attr {
		if attr.Key == "href" {
			href = strings.TrimSpace(attr.Val)
			break
		}
	}

	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""

	return resolved.String(), true
}

func visibleText(doc *goquery.Document) string {
	doc.Find(invisible).Remove()

	var sb strings.Builder
	for _, n := range doc.Selection.Nodes {
		collectText(n, &sb)
	}

	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			lines = append(lines, strings.Join(fields, " "))
		}
	}
	return strings.Join(lines, "\n")
}

// source line breaks are layout, not text structure
var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func collectText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(lineBreaks.Replace(n.Data))
		return
	case html.CommentNode:
		return
	}

	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		sb.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
	if block {
		sb.WriteByte('\n')
	}
}
