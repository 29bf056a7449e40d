package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"feedrelay/internal/logging"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>Sample RSS Feed</title>
	<link>http://example.com/rss</link>
	<description>This is a sample RSS feed.</description>
	<item>
		<title>RSS Entry 1</title>
		<link>http://example.com/rss/entry1</link>
		<guid>http://example.com/rss/entry1</guid>
	</item>
</channel>
</rss>`

// newTestFetcher returns a fetcher that can talk to httptest loopback servers
// and records backoff sleeps instead of performing them.
func newTestFetcher(t *testing.T) (*Fetcher, *[]time.Duration) {
	t.Helper()
	f := NewFetcher(logging.Nop())
	f.AllowLoopback = true
	var slept []time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return f, &slept
}

func TestFetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	f, _ := newTestFetcher(t)
	body, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(body) != sampleRSS {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestFetchRejectsNonFeedContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>not a feed</body></html>"))
	}))
	defer server.Close()

	f, _ := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), server.URL)
	if !errors.Is(err, ErrUnsupportedContentType) {
		t.Fatalf("expected ErrUnsupportedContentType, got %v", err)
	}
}

func TestFetchUnsafeTargets(t *testing.T) {
	cases := []struct {
		name string
		url  string
	}{
		{"private IPv4", "http://192.168.1.10/feed.xml"},
		{"link local", "http://169.254.0.5/feed.xml"},
		{"carrier NAT", "http://100.64.0.1/feed.xml"},
		{"non-http scheme", "ftp://example.com/feed.xml"},
	}
	f, _ := newTestFetcher(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.Fetch(context.Background(), tc.url)
			if !errors.Is(err, ErrUnsafeTarget) {
				t.Errorf("expected ErrUnsafeTarget for %s, got %v", tc.url, err)
			}
		})
	}
}

func TestFetchBlocksLoopbackByDefault(t *testing.T) {
	f := NewFetcher(logging.Nop())
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:9/feed.xml")
	if !errors.Is(err, ErrUnsafeTarget) {
		t.Fatalf("expected ErrUnsafeTarget, got %v", err)
	}
}

func TestFetchRetriesOn429HonoringRetryAfter(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	f, slept := newTestFetcher(t)
	body, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(body) != sampleRSS {
		t.Errorf("unexpected body after retry")
	}
	if hits.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", hits.Load())
	}
	if len(*slept) != 1 || (*slept)[0] != 7*time.Second {
		t.Errorf("expected one 7s sleep from Retry-After, got %v", *slept)
	}
}

func TestFetchRetryExhaustionOn503(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f, slept := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), server.URL)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 HTTPError, got %v", err)
	}
	if hits.Load() != maxAttempts {
		t.Errorf("expected %d attempts, got %d", maxAttempts, hits.Load())
	}
	// Exponential backoff between attempts: 5s then 10s.
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), *slept)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("sleep %d: expected %v, got %v", i, d, (*slept)[i])
		}
	}
}

func TestFetchDoesNotRetryOtherStatuses(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusBadGateway} {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(status)
		}))

		f, _ := newTestFetcher(t)
		_, err := f.Fetch(context.Background(), server.URL)
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || httpErr.StatusCode != status {
			t.Errorf("status %d: expected HTTPError, got %v", status, err)
		}
		if hits.Load() != 1 {
			t.Errorf("status %d: expected single attempt, got %d", status, hits.Load())
		}
		server.Close()
	}
}

func TestFetchFollowsBoundedRedirects(t *testing.T) {
	// A chain of n redirects before the feed document.
	newChain := func(n int) *httptest.Server {
		var server *httptest.Server
		hops := 0
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hops < n {
				hops++
				http.Redirect(w, r, server.URL, http.StatusFound)
				return
			}
			w.Header().Set("Content-Type", "application/rss+xml")
			w.Write([]byte(sampleRSS))
		}))
		return server
	}

	okServer := newChain(3)
	defer okServer.Close()
	f, _ := newTestFetcher(t)
	if _, err := f.Fetch(context.Background(), okServer.URL); err != nil {
		t.Errorf("3 redirects should succeed, got %v", err)
	}

	deepServer := newChain(10)
	defer deepServer.Close()
	_, err := f.Fetch(context.Background(), deepServer.URL)
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Errorf("expected ErrTooManyRedirects, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter("30"); d != 30*time.Second {
		t.Errorf("expected 30s, got %v", d)
	}
	if d := parseRetryAfter(""); d != 0 {
		t.Errorf("expected zero for empty header, got %v", d)
	}
	if d := parseRetryAfter("garbage"); d != 0 {
		t.Errorf("expected zero for garbage header, got %v", d)
	}
}

func TestIsFeedContentType(t *testing.T) {
	cases := []struct {
		header string
		want   bool
	}{
		{"application/rss+xml", true},
		{"application/atom+xml; charset=utf-8", true},
		{"text/xml", true},
		{"application/xml", true},
		{"application/feed+json", true},
		{"text/html", false},
		{"image/png", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isFeedContentType(tc.header); got != tc.want {
			t.Errorf("isFeedContentType(%q) = %v, want %v", tc.header, got, tc.want)
		}
	}
}
