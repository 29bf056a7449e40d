package feed

import (
	"testing"
	"time"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
<channel>
	<title>Sample RSS Feed</title>
	<link>http://example.com/rss</link>
	<description>This is a sample RSS feed.</description>
	<item>
		<title>Entry with enclosure</title>
		<link>http://example.com/rss/entry1</link>
		<guid>entry-1</guid>
		<pubDate>Mon, 01 Jan 2024 10:00:00 +0000</pubDate>
		<description>First entry</description>
		<enclosure url="http://example.com/images/one.jpg" type="image/jpeg" length="1000"/>
	</item>
	<item>
		<title>Entry with media content</title>
		<link>http://example.com/rss/entry2</link>
		<guid>entry-2</guid>
		<pubDate>Tue, 02 Jan 2024 11:00:00 +0000</pubDate>
		<media:content url="http://example.com/images/two.jpg" medium="image"/>
	</item>
	<item>
		<title>Entry with inline image</title>
		<link>http://example.com/rss/entry3</link>
		<guid>entry-3</guid>
		<description><![CDATA[<p>Text <img src="http://tracker.example.com/pixel.gif" width="1" height="1"/> more <img src="data:image/gif;base64,R0lGOD"/> and <img src="http://example.com/images/three.jpg"/></p>]]></description>
	</item>
	<item>
		<title>Entry without any id</title>
		<description>No guid, no link; must be dropped</description>
	</item>
	<item>
		<title>Entry with only a link</title>
		<link>http://example.com/rss/entry5</link>
	</item>
</channel>
</rss>`

const sampleAtom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
	<title>Sample Atom Feed</title>
	<link href="http://example.com/atom"/>
	<updated>2024-01-02T11:00:00Z</updated>
	<author><name>Test Author</name></author>
	<id>urn:uuid:60a76c80-d399-11d9-b93C-0003939e0af6</id>
	<entry>
		<title>Atom Entry 1</title>
		<link href="http://example.com/atom/entry1"/>
		<id>urn:uuid:1225c695-cfb8-4ebb-aaaa-80da344efa6a</id>
		<updated>2024-01-01T10:00:00Z</updated>
		<summary>Summary for Atom Entry 1.</summary>
	</entry>
</feed>`

func TestParseRSS(t *testing.T) {
	doc, err := NewParser().Parse([]byte(sampleRSS))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.Title != "Sample RSS Feed" {
		t.Errorf("unexpected feed title: %q", doc.Title)
	}
	// The id-less item is dropped, everything else survives.
	if len(doc.Articles) != 4 {
		t.Fatalf("expected 4 articles, got %d", len(doc.Articles))
	}

	byID := make(map[string]Article)
	for _, a := range doc.Articles {
		byID[a.ID] = a
	}

	if a := byID["entry-1"]; a.ImageURL != "http://example.com/images/one.jpg" {
		t.Errorf("enclosure image not extracted: %q", a.ImageURL)
	}
	if a := byID["entry-1"]; a.Published == nil || !a.Published.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("publish time not parsed: %v", a.Published)
	}
	if a := byID["entry-2"]; a.ImageURL != "http://example.com/images/two.jpg" {
		t.Errorf("media:content image not extracted: %q", a.ImageURL)
	}
	if a := byID["entry-3"]; a.ImageURL != "http://example.com/images/three.jpg" {
		t.Errorf("inline image extraction should skip pixels and data URIs, got %q", a.ImageURL)
	}
	if _, ok := byID["http://example.com/rss/entry5"]; !ok {
		t.Errorf("link should serve as fallback id")
	}
}

func TestParseAtom(t *testing.T) {
	doc, err := NewParser().Parse([]byte(sampleAtom))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.Title != "Sample Atom Feed" {
		t.Errorf("unexpected feed title: %q", doc.Title)
	}
	if len(doc.Articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(doc.Articles))
	}
	a := doc.Articles[0]
	if a.Link != "http://example.com/atom/entry1" {
		t.Errorf("unexpected link: %q", a.Link)
	}
	if a.Published == nil {
		t.Errorf("updated timestamp should back-fill publish time")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := NewParser().Parse([]byte("not a feed at all")); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestSortOldestFirst(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t1.Add(2 * time.Hour)

	articles := []Article{
		{ID: "c", Published: &t3},
		{ID: "a", Published: &t1},
		{ID: "undated"},
		{ID: "b", Published: &t2},
	}
	SortOldestFirst(articles)

	want := []string{"undated", "a", "b", "c"}
	for i, id := range want {
		if articles[i].ID != id {
			t.Fatalf("position %d: expected %q, got %q", i, id, articles[i].ID)
		}
	}
}

func TestValidHTTPURL(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"http://example.com/a", "http://example.com/a"},
		{"https://example.com/a", "https://example.com/a"},
		{"data:image/gif;base64,R0lGOD", ""},
		{"javascript:alert(1)", ""},
		{"/relative/path.jpg", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := validHTTPURL(tc.raw); got != tc.want {
			t.Errorf("validHTTPURL(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
