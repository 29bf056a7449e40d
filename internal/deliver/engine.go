// Package deliver sends formatted articles to chat destinations with
// per-destination serialization, pacing and retry.
package deliver

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// sendSpacing keeps consecutive sends to one destination apart so we stay
	// under external rate limits proactively.
	sendSpacing = 1250 * time.Millisecond

	maxAttempts    = 5
	retryBaseDelay = 600 * time.Millisecond
	retryMaxDelay  = 10 * time.Second

	queueDepth = 128
)

// ChatSender is the remote send surface the engine drives.
type ChatSender interface {
	SendText(ctx context.Context, chatID int64, text string, threadID int64, linkURL string) error
	SendPhoto(ctx context.Context, chatID int64, photoURL, caption string, threadID int64, linkURL string) error
}

// Engine owns one FIFO queue and worker per destination. Sends to the same
// destination never run concurrently; different destinations are independent.
type Engine struct {
	api    ChatSender
	logger *zap.SugaredLogger

	spacing time.Duration
	sleep   func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	queues map[int64]chan sendJob
	closed bool
	wg     sync.WaitGroup
}

type sendJob struct {
	ctx    context.Context
	msg    Message
	result chan error
}

func NewEngine(api ChatSender, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		api:     api,
		logger:  logger,
		spacing: sendSpacing,
		sleep:   sleepContext,
		queues:  make(map[int64]chan sendJob),
	}
}

// Deliver enqueues one message for the destination and waits for the outcome.
// Queue order is send order.
func (e *Engine) Deliver(ctx context.Context, destinationID int64, msg Message) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	q, ok := e.queues[destinationID]
	if !ok {
		q = make(chan sendJob, queueDepth)
		e.queues[destinationID] = q
		e.wg.Add(1)
		go e.worker(destinationID, q)
	}
	e.mu.Unlock()

	job := sendJob{ctx: ctx, msg: msg, result: make(chan error, 1)}
	select {
	case q <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-job.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new work and waits for in-flight sends to finish
// naturally.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, q := range e.queues {
		close(q)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) worker(destinationID int64, q chan sendJob) {
	defer e.wg.Done()
	var lastSend time.Time
	for job := range q {
		// Pacing applies regardless of the previous send's outcome.
		if wait := e.spacing - time.Since(lastSend); wait > 0 && !lastSend.IsZero() {
			if err := e.sleep(job.ctx, wait); err != nil {
				job.result <- err
				continue
			}
		}
		err := e.sendWithRetry(job.ctx, destinationID, job.msg)
		lastSend = time.Now()
		job.result <- err
	}
}

func (e *Engine) sendWithRetry(ctx context.Context, destinationID int64, msg Message) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := e.sendOnce(ctx, destinationID, msg)
		if err == nil {
			return nil
		}
		lastErr = err

		// The caller recreates the missing topic; retrying here is useless.
		if errors.Is(err, ErrTopicNotFound) {
			return err
		}
		var se *SendError
		if !errors.As(err, &se) || !se.Retryable || attempt == maxAttempts-1 {
			return err
		}

		delay := retryDelay(attempt)
		if se.RetryAfter > 0 {
			delay = se.RetryAfter
		}
		e.logger.Warnf("send to %d failed (attempt %d/%d), retrying in %s: %v",
			destinationID, attempt+1, maxAttempts, delay, err)
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// sendOnce prefers the rich image shape and falls back to plain text when the
// image send fails, rather than failing the whole delivery.
func (e *Engine) sendOnce(ctx context.Context, destinationID int64, msg Message) error {
	if msg.ImageURL != "" {
		err := e.api.SendPhoto(ctx, destinationID, msg.ImageURL, msg.Caption, msg.ThreadID, msg.LinkURL)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrTopicNotFound) {
			return err
		}
		e.logger.Warnf("image send to %d failed, falling back to text: %v", destinationID, err)
	}
	return e.api.SendText(ctx, destinationID, msg.Text, msg.ThreadID, msg.LinkURL)
}

func retryDelay(attempt int) time.Duration {
	d := retryBaseDelay << uint(attempt)
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
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
