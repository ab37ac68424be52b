// Package queue bounds the envelopes a run holds between encoding and
// terminal acknowledgment. A full queue blocks the publishing loop; every
// acknowledgment releases one slot.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rowpump/internal/record"
	"rowpump/internal/telemetry"
)

var (
	ErrQueueFull   = errors.New("publish queue full")
	ErrQueueClosed = errors.New("publish queue closed")
)

// EnqueueTimeoutError is returned when capacity did not free up within the
// configured wait. The run cannot make progress and aborts.
type EnqueueTimeoutError struct {
	Seq         uint64
	Waited      time.Duration
	Outstanding int
	Bytes       int64
}

func (e *EnqueueTimeoutError) Error() string {
	return fmt.Sprintf("enqueue of envelope %d timed out after %s (%d outstanding, %d bytes)",
		e.Seq, e.Waited, e.Outstanding, e.Bytes)
}

func (e *EnqueueTimeoutError) Is(target error) bool { return target == ErrQueueFull }

type Config struct {
	MaxCount       int
	MaxBytes       int64
	EnqueueTimeout time.Duration // 0 = wait until ctx is done
}

type Queue struct {
	maxCount int
	maxBytes int64
	timeout  time.Duration

	mu     sync.Mutex
	cond   *sync.Cond
	count  int
	bytes  int64
	closed bool
}

func New(cfg Config) *Queue {
	q := &Queue{maxCount: cfg.MaxCount, maxBytes: cfg.MaxBytes, timeout: cfg.EnqueueTimeout}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// fitsLocked admits into an empty queue unconditionally so one oversized
// envelope cannot stall the run.
func (q *Queue) fitsLocked(size int64) bool {
	if q.count == 0 {
		return true
	}
	if q.maxCount > 0 && q.count+1 > q.maxCount {
		return false
	}
	if q.maxBytes > 0 && q.bytes+size > q.maxBytes {
		return false
	}
	return true
}

func (q *Queue) wake() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *Queue) admitLocked(size int64) {
	q.count++
	q.bytes += size
	telemetry.QueueMessages.Set(float64(q.count))
	telemetry.QueueBytes.Set(float64(q.bytes))
}

// Enqueue takes a slot for env, blocking while the queue is at either
// ceiling. It gives up with *EnqueueTimeoutError after the configured
// timeout and returns ctx's error if ctx ends first.
func (q *Queue) Enqueue(ctx context.Context, env *record.Envelope) error {
	size := env.Size()
	waitCtx := ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	stop := context.AfterFunc(waitCtx, q.wake)
	defer stop()

	start := time.Now()
	waited := false

	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && !q.fitsLocked(size) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if waitCtx.Err() != nil {
			return &EnqueueTimeoutError{Seq: env.Seq, Waited: time.Since(start), Outstanding: q.count, Bytes: q.bytes}
		}
		if !waited {
			waited = true
			telemetry.EnqueueWaits.Inc()
		}
		q.cond.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}
	q.admitLocked(size)
	return nil
}

// TryEnqueue is the non-blocking variant.
func (q *Queue) TryEnqueue(env *record.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if !q.fitsLocked(env.Size()) {
		return ErrQueueFull
	}
	q.admitLocked(env.Size())
	return nil
}

// Release frees the slot held by env. Safe from completion callbacks.
func (q *Queue) Release(env *record.Envelope) {
	q.mu.Lock()
	if q.count > 0 {
		q.count--
		q.bytes -= env.Size()
		if q.count == 0 {
			q.bytes = 0
		}
	}
	telemetry.QueueMessages.Set(float64(q.count))
	telemetry.QueueBytes.Set(float64(q.bytes))
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Drain blocks until nothing is outstanding or ctx is done, and returns
// the number of envelopes still outstanding.
func (q *Queue) Drain(ctx context.Context) int {
	stop := context.AfterFunc(ctx, q.wake)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count > 0 && ctx.Err() == nil {
		q.cond.Wait()
	}
	return q.count
}

// Close makes later enqueues fail with ErrQueueClosed and wakes any waiter.
// Outstanding envelopes can still be released and drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *Queue) OutstandingBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}
