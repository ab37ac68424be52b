package ack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rowpump/internal/record"
	"rowpump/internal/telemetry"
)

type countingReleaser struct {
	mu       sync.Mutex
	released map[uint64]int
}

func (c *countingReleaser) Release(env *record.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released == nil {
		c.released = map[uint64]int{}
	}
	c.released[env.Seq]++
}

func (c *countingReleaser) count(seq uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released[seq]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func newEnv(seq uint64) *record.Envelope {
	return &record.Envelope{Seq: seq, Offset: int64(seq), Payload: []byte("x"), EncodedAt: time.Now()}
}

func TestTracker_SuccessAndFailureWithoutRetry(t *testing.T) {
	rel := &countingReleaser{}
	tr := NewTracker(Config{Capacity: 8}, rel, func(context.Context, *record.Envelope) error { return nil })
	tr.Start(context.Background())

	for seq := uint64(1); seq <= 3; seq++ {
		tr.Track(newEnv(seq), nil)
	}
	tr.OnAck(record.Success(1, 0, 100))
	tr.OnAck(record.Failure(2, errors.New("broker down")))
	tr.OnAck(record.Success(3, 0, 101))

	waitFor(t, func() bool { return tr.Snapshot().InFlight == 0 })
	tr.Stop()
	s := tr.Finalize(nil, 0)

	assert.Equal(t, int64(3), s.Seen)
	assert.Equal(t, int64(2), s.Succeeded)
	assert.Equal(t, int64(1), s.Failed)
	assert.True(t, s.Accounted())
	assert.False(t, s.OK())
	require.Len(t, s.FailureReasons, 1)
	assert.Equal(t, uint64(2), s.FailureReasons[0].Seq)
	assert.Equal(t, telemetry.KindPublish, s.FailureReasons[0].Kind)
	for seq := uint64(1); seq <= 3; seq++ {
		assert.Equal(t, 1, rel.count(seq), "seq %d released once", seq)
	}
}

func TestTracker_TerminalOnlyAfterRetriesExhausted(t *testing.T) {
	rel := &countingReleaser{}
	var attempts atomic.Int32
	var tr *Tracker
	tr = NewTracker(Config{MaxRetries: 2, Capacity: 8}, rel, func(_ context.Context, env *record.Envelope) error {
		n := attempts.Add(1)
		if n == 1 {
			// second attempt: still failing
			tr.OnAck(record.Failure(env.Seq, errors.New("attempt 2 failed")))
			return nil
		}
		return errors.New("attempt 3 failed")
	})
	tr.Start(context.Background())

	tr.Track(newEnv(1), nil)
	tr.OnAck(record.Failure(1, errors.New("attempt 1 failed")))

	waitFor(t, func() bool { return tr.Snapshot().InFlight == 0 })
	tr.Stop()
	s := tr.Finalize(nil, 0)

	assert.Equal(t, int32(2), attempts.Load(), "two republishes for max_retries=2")
	assert.Equal(t, int64(2), s.Retried)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, int64(0), s.Succeeded)
	require.Len(t, s.FailureReasons, 1)
	assert.Equal(t, "attempt 3 failed", s.FailureReasons[0].Reason)
	assert.Equal(t, 1, rel.count(1))
}

func TestTracker_NotTerminalAfterFirstFailureWhenRetriesRemain(t *testing.T) {
	rel := &countingReleaser{}
	republished := make(chan uint64, 4)
	tr := NewTracker(Config{MaxRetries: 2, Capacity: 8}, rel, func(_ context.Context, env *record.Envelope) error {
		republished <- env.Seq
		return nil
	})
	tr.Start(context.Background())
	defer tr.Stop()

	tr.Track(newEnv(9), nil)
	tr.OnAck(record.Failure(9, errors.New("transient")))
	assert.Equal(t, uint64(9), <-republished)

	c := tr.Snapshot()
	assert.Equal(t, int64(0), c.Failed)
	assert.Equal(t, 1, c.InFlight)
	assert.Equal(t, 0, rel.count(9))

	tr.OnAck(record.Success(9, 1, 5))
	waitFor(t, func() bool { return tr.Snapshot().Succeeded == 1 })
}

func TestTracker_RetryBackoff(t *testing.T) {
	rel := &countingReleaser{}
	at := make(chan time.Time, 1)
	var tr *Tracker
	tr = NewTracker(Config{MaxRetries: 1, RetryBackoff: 40 * time.Millisecond, Capacity: 4}, rel, func(_ context.Context, env *record.Envelope) error {
		at <- time.Now()
		tr.OnAck(record.Success(env.Seq, 0, 1))
		return nil
	})
	tr.Start(context.Background())
	defer tr.Stop()

	tr.Track(newEnv(1), nil)
	failedAt := time.Now()
	tr.OnAck(record.Failure(1, errors.New("x")))
	assert.GreaterOrEqual(t, (<-at).Sub(failedAt), 40*time.Millisecond)
	waitFor(t, func() bool { return tr.Snapshot().Succeeded == 1 })
}

func TestTracker_InputFailureAndReasonCap(t *testing.T) {
	tr := NewTracker(Config{MaxFailureReasons: 2, Capacity: 4}, &countingReleaser{}, nil)
	for i := 0; i < 5; i++ {
		tr.InputFailure(uint64(i+1), int64(i+1), telemetry.KindMalformed, fmt.Errorf("bad row %d", i+1))
	}
	s := tr.Finalize(nil, 0)
	assert.Equal(t, int64(5), s.Seen)
	assert.Equal(t, int64(5), s.Failed)
	assert.Len(t, s.FailureReasons, 2)
	assert.Equal(t, "bad row 1", s.FailureReasons[0].Reason)
}

func TestTracker_ResolveCalledOnTerminalOutcome(t *testing.T) {
	tr := NewTracker(Config{Capacity: 4}, &countingReleaser{}, nil)
	tr.Start(context.Background())
	var resolved atomic.Int32
	tr.Track(newEnv(1), func() { resolved.Add(1) })
	tr.Track(newEnv(2), func() { resolved.Add(1) })
	tr.OnAck(record.Success(1, 0, 0))
	tr.OnAck(record.Failure(2, errors.New("no")))
	waitFor(t, func() bool { return resolved.Load() == 2 })
	tr.Stop()
}

func TestTracker_ConcurrentAcks(t *testing.T) {
	const n = 2000
	rel := &countingReleaser{}
	tr := NewTracker(Config{Capacity: n}, rel, nil)
	tr.Start(context.Background())

	for seq := uint64(1); seq <= n; seq++ {
		tr.Track(newEnv(seq), nil)
	}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := uint64(w + 1); seq <= n; seq += 8 {
				if seq%10 == 0 {
					tr.OnAck(record.Failure(seq, errors.New("x")))
				} else {
					tr.OnAck(record.Success(seq, 0, int64(seq)))
				}
				_ = tr.Snapshot()
			}
		}()
	}
	wg.Wait()
	waitFor(t, func() bool { return tr.Snapshot().InFlight == 0 })
	tr.Stop()

	s := tr.Finalize(nil, 0)
	assert.Equal(t, int64(n), s.Seen)
	assert.Equal(t, int64(n/10), s.Failed)
	assert.Equal(t, int64(n-n/10), s.Succeeded)
}

func TestTracker_FinalizeIsImmutable(t *testing.T) {
	tr := NewTracker(Config{Capacity: 4}, &countingReleaser{}, nil)
	tr.Describe("run-1", "in.csv", "transactions")
	tr.InputFailure(1, 1, telemetry.KindEncoding, errors.New("bad"))
	s := tr.Finalize(errors.New("cancelled"), 12)
	tr.InputFailure(2, 2, telemetry.KindEncoding, errors.New("late"))

	again := tr.Finalize(nil, 99)
	assert.Equal(t, s.Seen, again.Seen)
	assert.True(t, again.Aborted)
	assert.Equal(t, int64(12), again.Checkpoint)
	assert.Equal(t, "run-1", again.RunID)

	s.FailureReasons[0].Reason = "mutated"
	assert.Equal(t, "bad", tr.Finalize(nil, 0).FailureReasons[0].Reason)
}
