// Package ack correlates publish attempts with broker acknowledgments and
// owns the run summary.
package ack

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rowpump/internal/logging"
	"rowpump/internal/record"
	"rowpump/internal/telemetry"
)

// PublishFunc sends env again. A returned error counts as a failed attempt.
type PublishFunc func(ctx context.Context, env *record.Envelope) error

// Releaser frees the queue slot of a terminally acknowledged envelope.
type Releaser interface {
	Release(*record.Envelope)
}

type Config struct {
	MaxRetries        int
	RetryBackoff      time.Duration
	MaxFailureReasons int
	// Capacity sizes the completion channel. It must be at least the queue
	// count ceiling: with one attempt in flight per outstanding envelope,
	// OnAck then never waits.
	Capacity int
}

type inflight struct {
	env      *record.Envelope
	attempts int
	resolve  func()
}

type Tracker struct {
	cfg      Config
	releaser Releaser
	publish  PublishFunc
	log      *slog.Logger

	completions chan record.AckResult
	stop        chan struct{}
	done        chan struct{}
	pubCtx      context.Context

	mu       sync.Mutex
	inflight map[uint64]*inflight
	summary  Summary
	frozen   bool
}

func NewTracker(cfg Config, releaser Releaser, publish PublishFunc) *Tracker {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1024
	}
	if cfg.MaxFailureReasons <= 0 {
		cfg.MaxFailureReasons = 10
	}
	return &Tracker{
		cfg:         cfg,
		releaser:    releaser,
		publish:     publish,
		log:         logging.L(),
		completions: make(chan record.AckResult, cfg.Capacity),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		inflight:    make(map[uint64]*inflight),
		summary:     Summary{StartedAt: time.Now().UTC()},
	}
}

func (t *Tracker) SetLogger(l *slog.Logger) { t.log = l }

// Describe stamps the identity fields of the summary.
func (t *Tracker) Describe(runID, input, topic string) {
	t.mu.Lock()
	t.summary.RunID, t.summary.Input, t.summary.Topic = runID, input, topic
	t.mu.Unlock()
}

// Start launches the tracking routine. Republishing uses ctx's values but
// not its cancellation, so retries still go out during the final drain.
func (t *Tracker) Start(ctx context.Context) {
	t.pubCtx = context.WithoutCancel(ctx)
	go t.run()
}

// Stop ends the tracking routine and waits for it.
func (t *Tracker) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	<-t.done
}

func (t *Tracker) run() {
	defer close(t.done)
	for {
		select {
		case res := <-t.completions:
			t.apply(res)
		case <-t.stop:
			for {
				select {
				case res := <-t.completions:
					t.apply(res)
				default:
					return
				}
			}
		}
	}
}

// Track registers env as in flight and counts it seen. resolve, if set, is
// called once env reaches a terminal outcome.
func (t *Tracker) Track(env *record.Envelope, resolve func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return
	}
	t.inflight[env.Seq] = &inflight{env: env, attempts: 1, resolve: resolve}
	t.summary.Seen++
	telemetry.RecordsSeen.Inc()
}

// InputFailure counts a record that never reached the broker.
func (t *Tracker) InputFailure(seq uint64, offset int64, kind string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return
	}
	t.summary.Seen++
	t.summary.Failed++
	t.addReasonLocked(seq, offset, kind, err)
	telemetry.RecordsSeen.Inc()
	telemetry.RecordsFailed.WithLabelValues(kind).Inc()
	t.log.Warn("record failed", "seq", seq, "offset", offset, "kind", kind, "err", err)
}

// OnAck is the completion callback handed to sinks. It only hands the
// result to the tracking routine.
func (t *Tracker) OnAck(res record.AckResult) {
	t.completions <- res
}

func (t *Tracker) apply(res record.AckResult) {
	t.mu.Lock()
	fl, ok := t.inflight[res.Seq]
	if !ok || t.frozen {
		t.mu.Unlock()
		t.log.Debug("ack for unknown envelope ignored", "seq", res.Seq)
		return
	}

	if res.OK() {
		delete(t.inflight, res.Seq)
		t.summary.Succeeded++
		t.mu.Unlock()
		telemetry.RecordsSucceeded.Inc()
		t.finish(fl)
		return
	}

	if fl.attempts <= t.cfg.MaxRetries {
		fl.attempts++
		t.summary.Retried++
		attempt := fl.attempts
		t.mu.Unlock()
		telemetry.PublishRetries.Inc()
		t.log.Info("retrying publish", "seq", res.Seq, "offset", fl.env.Offset, "attempt", attempt, "err", res.Err)
		t.retry(fl.env)
		return
	}

	delete(t.inflight, res.Seq)
	t.summary.Failed++
	t.addReasonLocked(res.Seq, fl.env.Offset, telemetry.KindPublish, res.Err)
	t.mu.Unlock()
	telemetry.RecordsFailed.WithLabelValues(telemetry.KindPublish).Inc()
	t.log.Warn("publish failed", "seq", res.Seq, "offset", fl.env.Offset, "attempts", fl.attempts, "err", res.Err)
	t.finish(fl)
}

func (t *Tracker) finish(fl *inflight) {
	telemetry.AckLatency.Observe(time.Since(fl.env.EncodedAt).Seconds())
	if fl.resolve != nil {
		fl.resolve()
	}
	t.releaser.Release(fl.env)
}

func (t *Tracker) retry(env *record.Envelope) {
	send := func() {
		if err := t.publish(t.pubCtx, env); err != nil {
			t.OnAck(record.Failure(env.Seq, err))
		}
	}
	if t.cfg.RetryBackoff > 0 {
		time.AfterFunc(t.cfg.RetryBackoff, send)
		return
	}
	send()
}

func (t *Tracker) addReasonLocked(seq uint64, offset int64, kind string, err error) {
	if len(t.summary.FailureReasons) >= t.cfg.MaxFailureReasons {
		return
	}
	reason := "unknown"
	if err != nil {
		reason = err.Error()
	}
	t.summary.FailureReasons = append(t.summary.FailureReasons, FailureReason{Seq: seq, Offset: offset, Kind: kind, Reason: reason})
}

func (t *Tracker) Snapshot() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Counts{
		Seen:      t.summary.Seen,
		Succeeded: t.summary.Succeeded,
		Failed:    t.summary.Failed,
		Retried:   t.summary.Retried,
		InFlight:  len(t.inflight),
	}
}

// Finalize freezes the tracker and returns the summary. Later calls return
// the same totals.
func (t *Tracker) Finalize(abortErr error, checkpoint int64) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.frozen {
		t.frozen = true
		t.summary.FinishedAt = time.Now().UTC()
		t.summary.Checkpoint = checkpoint
		if abortErr != nil {
			t.summary.Aborted = true
			t.summary.AbortReason = abortErr.Error()
		}
	}
	out := t.summary
	out.FailureReasons = append([]FailureReason(nil), t.summary.FailureReasons...)
	return out
}
