// Package fetch retrieves feed documents over HTTP(S) with SSRF protections,
// content-type validation and retry on upstream backpressure.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"feedrelay/internal/security/netutil"
)

const (
	maxRedirects = 5
	maxFeedBytes = 5 << 20 // avoid huge downloads
	userAgent    = "feedrelay/1.0 (+https://github.com/feedrelay)"

	requestTimeout = 10 * time.Second
	maxAttempts    = 3
	retryBaseDelay = 5 * time.Second
	retryMaxDelay  = 60 * time.Second
)

type Fetcher struct {
	client *http.Client
	logger *zap.SugaredLogger

	// AllowLoopback permits targets resolving to 127.0.0.0/8 and ::1.
	// Off in production; local test servers need it.
	AllowLoopback bool

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewFetcher(logger *zap.SugaredLogger) *Fetcher {
	f := &Fetcher{
		logger: logger,
		sleep:  sleepContext,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	f.client = &http.Client{
		Timeout:   requestTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return ErrTooManyRedirects
			}
			// Every hop gets the same safety treatment as the original URL.
			return f.validateTarget(req.URL.Scheme, req.URL.Hostname())
		},
	}
	return f
}

// Fetch retrieves the feed document at rawURL. It retries 429/503 responses
// with exponential backoff, honoring a server-provided Retry-After; all other
// failures surface immediately.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		body, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		httpErr, ok := err.(*HTTPError)
		if !ok || !httpErr.Retryable() || attempt == maxAttempts-1 {
			return nil, err
		}

		delay := backoffDelay(attempt)
		if httpErr.RetryAfter > 0 {
			delay = httpErr.RetryAfter
		}
		f.logger.Warnf("upstream %d for %s, retrying in %s (attempt %d/%d)",
			httpErr.StatusCode, rawURL, delay, attempt+1, maxAttempts)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	if err := f.validateTarget(req.URL.Scheme, req.URL.Hostname()); err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		// CheckRedirect failures come back wrapped in a url.Error; unwrap so
		// callers see the taxonomy error.
		for _, sentinel := range []error{ErrTooManyRedirects, ErrUnsafeTarget} {
			if errors.Is(err, sentinel) {
				return nil, sentinel
			}
		}
		return nil, fmt.Errorf("error fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if !isFeedContentType(resp.Header.Get("Content-Type")) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, resp.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading feed body: %w", err)
	}
	return body, nil
}

// validateTarget resolves host and rejects private/reserved destinations,
// defending against internal network probing via attacker-supplied feed URLs.
func (f *Fetcher) validateTarget(scheme, host string) error {
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrUnsafeTarget, scheme)
	}
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnsafeTarget)
	}

	check := func(ip net.IP) error {
		if netutil.IsPrivateIP(ip) {
			return ErrUnsafeTarget
		}
		if netutil.IsLoopback(ip) && !f.AllowLoopback {
			return ErrUnsafeTarget
		}
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return check(ip)
	}
	addrs, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("error resolving %s: %w", host, err)
	}
	for _, a := range addrs {
		if err := check(a); err != nil {
			return err
		}
	}
	return nil
}

func isFeedContentType(header string) bool {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	mediaType = strings.ToLower(mediaType)
	if strings.Contains(mediaType, "xml") {
		return true
	}
	switch mediaType {
	case "application/json", "application/feed+json":
		return true
	}
	return false
}

func backoffDelay(attempt int) time.Duration {
	d := retryBaseDelay << uint(attempt)
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
