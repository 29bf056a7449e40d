package deliver

import (
	"html"
	"strings"

	htmlparser "golang.org/x/net/html"

	"feedrelay/internal/feed"
)

const (
	captionLimit    = 1024 // hard cap for image captions on the chat API
	descriptionCap  = 600  // keep messages readable, the link carries the rest
)

// Message is one formatted article ready for a destination. ThreadID 0 means
// the destination's main stream.
type Message struct {
	Text     string // full text body, HTML formatted
	Caption  string // caption-capped variant for image sends
	ImageURL string // empty when the article carries no image
	LinkURL  string // "open link" button target
	ThreadID int64
}

// BuildMessage formats an article for delivery. The trailing bare link makes
// the chat client render a preview on text sends.
func BuildMessage(feedTitle string, art feed.Article) Message {
	var b strings.Builder
	if art.Title != "" {
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(art.Title))
		b.WriteString("</b>\n")
	}
	if feedTitle != "" {
		b.WriteString("<i>")
		b.WriteString(html.EscapeString(feedTitle))
		b.WriteString("</i>\n")
	}
	if desc := truncateRunes(stripTags(art.Description), descriptionCap); desc != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(desc))
		b.WriteString("\n")
	}
	if art.Author != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(art.Author))
		b.WriteString("\n")
	}
	if art.Link != "" {
		b.WriteString("\n")
		b.WriteString(art.Link)
	}

	text := b.String()
	return Message{
		Text:     text,
		Caption:  truncateRunes(text, captionLimit),
		ImageURL: art.ImageURL,
		LinkURL:  art.Link,
	}
}

// stripTags reduces item HTML to plain text with collapsed whitespace.
func stripTags(s string) string {
	if strings.Contains(s, "<") {
		z := htmlparser.NewTokenizer(strings.NewReader(s))
		var b strings.Builder
		for {
			tt := z.Next()
			if tt == htmlparser.ErrorToken {
				break
			}
			if tt == htmlparser.TextToken {
				b.WriteString(z.Token().Data)
				b.WriteString(" ")
			}
		}
		s = b.String()
	} else {
		s = html.UnescapeString(s)
	}
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
