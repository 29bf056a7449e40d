package feed

import (
	"sort"
	"time"
)

// Article is one normalized feed item. Articles are ephemeral: produced fresh
// on every fetch and compared against the ledger by ID only.
type Article struct {
	ID          string // item guid, falling back to link
	Title       string
	Link        string
	Description string
	ImageURL    string
	Author      string
	Published   *time.Time // nil when the feed gave no usable date
}

// Document is a parsed feed with its normalized items.
type Document struct {
	Title       string
	Description string
	Articles    []Article
}

// SortOldestFirst orders articles by ascending publish time so older content
// is delivered before newer content within one cycle. Undated articles sort
// as earliest. The sort is stable.
func SortOldestFirst(articles []Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		ti, tj := publishedOrZero(articles[i]), publishedOrZero(articles[j])
		return ti.Before(tj)
	})
}

func publishedOrZero(a Article) time.Time {
	if a.Published == nil {
		return time.Time{}
	}
	return *a.Published
}
