// Package feed normalizes RSS/Atom documents into articles ready for
// delivery.
package feed

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

type Parser struct {
	fp *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{fp: gofeed.NewParser()}
}

// Parse turns a feed document into a Document. A malformed individual item
// never fails the whole feed; items with no usable id are dropped.
func (p *Parser) Parse(data []byte) (*Document, error) {
	parsed, err := p.fp.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing feed: %w", err)
	}
	if parsed == nil {
		return nil, fmt.Errorf("error parsing feed: empty document")
	}

	doc := &Document{
		Title:       strings.TrimSpace(parsed.Title),
		Description: strings.TrimSpace(parsed.Description),
	}
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		art, ok := normalizeItem(item)
		if !ok {
			continue
		}
		doc.Articles = append(doc.Articles, art)
	}
	return doc, nil
}

func normalizeItem(item *gofeed.Item) (Article, bool) {
	id := strings.TrimSpace(item.GUID)
	if id == "" {
		id = strings.TrimSpace(item.Link)
	}
	if id == "" {
		return Article{}, false
	}

	art := Article{
		ID:          id,
		Title:       strings.TrimSpace(item.Title),
		Link:        validHTTPURL(item.Link),
		Description: strings.TrimSpace(item.Description),
		ImageURL:    itemImage(item),
	}
	if art.Description == "" {
		art.Description = strings.TrimSpace(item.Content)
	}
	if item.PublishedParsed != nil {
		t := *item.PublishedParsed
		art.Published = &t
	} else if item.UpdatedParsed != nil {
		t := *item.UpdatedParsed
		art.Published = &t
	}
	if item.Author != nil {
		art.Author = strings.TrimSpace(item.Author.Name)
	}
	return art, true
}

// itemImage extracts an image URL with the precedence: explicit enclosure,
// structured media metadata, first usable inline image in the HTML content.
func itemImage(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		if strings.HasPrefix(strings.ToLower(enc.Type), "image/") {
			if u := validHTTPURL(enc.URL); u != "" {
				return u
			}
		}
	}

	if media, ok := item.Extensions["media"]; ok {
		for _, tag := range []string{"content", "thumbnail"} {
			for _, ext := range media[tag] {
				attrs := ext.Attrs
				if tag == "content" {
					medium := strings.ToLower(attrs["medium"])
					mime := strings.ToLower(attrs["type"])
					if medium != "image" && !strings.HasPrefix(mime, "image/") {
						continue
					}
				}
				if u := validHTTPURL(attrs["url"]); u != "" {
					return u
				}
			}
		}
	}

	if item.Image != nil {
		if u := validHTTPURL(item.Image.URL); u != "" {
			return u
		}
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}
	return firstInlineImage(content)
}

// firstInlineImage scans HTML for the first img tag that does not look like a
// tracking pixel and does not use a data: URI.
func firstInlineImage(content string) string {
	if !strings.Contains(content, "<img") {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return ""
	}

	var found string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "img" {
			var src, width, height string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "src":
					src = attr.Val
				case "width":
					width = attr.Val
				case "height":
					height = attr.Val
				}
			}
			if u := validHTTPURL(src); u != "" && !looksLikeTrackingPixel(u, width, height) {
				found = u
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

func looksLikeTrackingPixel(src, width, height string) bool {
	if width == "0" || width == "1" || height == "0" || height == "1" {
		return true
	}
	lower := strings.ToLower(src)
	for _, hint := range []string{"pixel", "spacer", "tracker", "1x1"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// validHTTPURL returns the URL if it parses as absolute http(s), else "".
// Everything extracted from feed content goes through this before use.
func validHTTPURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Host == "" {
		return ""
	}
	return raw
}
