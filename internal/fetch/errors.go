package fetch

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnsafeTarget means the URL (or one of its redirect hops) resolves to
	// a private, link-local or otherwise forbidden address.
	ErrUnsafeTarget = errors.New("feed URL resolves to a forbidden address")
	// ErrTooManyRedirects means the redirect chain exceeded the hop bound.
	ErrTooManyRedirects = errors.New("stopped after too many redirects")
	// ErrUnsupportedContentType means the server answered 2xx with a body
	// that is not feed-like.
	ErrUnsupportedContentType = errors.New("response is not a feed content type")
)

// HTTPError is a non-2xx upstream response. Only 429 and 503 are retryable at
// the fetch layer.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // zero when the server gave no hint
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected response status %d", e.StatusCode)
}

// Retryable reports whether the fetcher may retry this status.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode == 503
}
