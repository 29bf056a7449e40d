package deliver

import (
	"errors"
	"fmt"
	"time"
)

// ErrTopicNotFound means the send targeted a thread that no longer exists on
// the destination. The orchestrator reacts by force-recreating the topic and
// retrying the send exactly once.
var ErrTopicNotFound = errors.New("message thread not found")

// ErrEngineClosed is returned for sends enqueued after shutdown began.
var ErrEngineClosed = errors.New("delivery engine is closed")

// SendError classifies a failed remote send. Retryable covers transient
// transport failures, HTTP 429 and HTTP 5xx; everything else (bad payload,
// permission denied, invalid destination) fails immediately.
type SendError struct {
	Code       int
	Message    string
	Retryable  bool
	RetryAfter time.Duration // server backpressure hint, zero when absent
}

func (e *SendError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("send failed: %s (code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("send failed: %s", e.Message)
}
