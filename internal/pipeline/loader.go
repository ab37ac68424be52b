// Package pipeline runs one load: rows are read, encoded, admitted to the
// bounded queue and published; completions flow back through the tracker
// until the final drain accounts for every envelope.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"rowpump/internal/ack"
	"rowpump/internal/checkpoint"
	"rowpump/internal/encode"
	"rowpump/internal/flush"
	"rowpump/internal/logging"
	"rowpump/internal/queue"
	"rowpump/internal/record"
	"rowpump/internal/telemetry"
	"rowpump/sink"
	"rowpump/source"
)

type Options struct {
	RunID     string // generated when empty
	Topic     string
	KeyColumn string
	Source    source.Config
	Queue     queue.Config
	Flush     flush.Config
	Retry     ack.Config
}

// CheckpointOptions enables watermark commits. Store nil disables them.
type CheckpointOptions struct {
	Store  checkpoint.Store
	Key    string
	Every  time.Duration
	Resume bool
}

type Loader struct {
	opts Options
	cp   CheckpointOptions
	src  source.Adapter
	enc  encode.Encoder
	sink sink.Adapter

	hooks []func(flush.State)
}

// NewLoader takes an unconfigured source; Run configures it so that a
// resumed offset can be applied first.
func NewLoader(opts Options, src source.Adapter, enc encode.Encoder, snk sink.Adapter) *Loader {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Loader{opts: opts, src: src, enc: enc, sink: snk}
}

func (l *Loader) WithCheckpoint(cp CheckpointOptions) *Loader {
	l.cp = cp
	return l
}

func (l *Loader) RunID() string { return l.opts.RunID }

// OnStateChange forwards flush coordinator transitions to fn.
func (l *Loader) OnStateChange(fn func(flush.State)) {
	l.hooks = append(l.hooks, fn)
}

// run holds the per-run collaborators.
type run struct {
	log     *slog.Logger
	q       *queue.Queue
	tracker *ack.Tracker
	coord   *flush.Coordinator
	wm      *checkpoint.Watermark
	commit  *checkpoint.Committer
}

// Run loads the whole input. The summary is always returned; the error is
// the reason the run was aborted, if it was.
func (l *Loader) Run(ctx context.Context) (ack.Summary, error) {
	log := logging.ForRun(l.opts.RunID)
	srcCfg := l.opts.Source
	r := &run{log: log}
	if l.cp.Store != nil {
		defer l.cp.Store.Close()
	}

	if l.cp.Store != nil && l.cp.Resume {
		off, ok, err := l.cp.Store.Load(ctx, l.cp.Key)
		if err != nil {
			log.Warn("checkpoint load failed, starting from configured offset", "key", l.cp.Key, "err", err)
		} else if ok && off > srcCfg.StartOffset {
			log.Info("resuming from checkpoint", "key", l.cp.Key, "offset", off)
			srcCfg.StartOffset = off
		}
	}

	r.q = queue.New(l.opts.Queue)
	retry := l.opts.Retry
	if retry.Capacity < l.opts.Queue.MaxCount {
		retry.Capacity = l.opts.Queue.MaxCount
	}
	r.tracker = ack.NewTracker(retry, r.q, func(ctx context.Context, env *record.Envelope) error {
		return l.sink.Publish(ctx, l.opts.Topic, env, r.tracker.OnAck)
	})
	r.tracker.SetLogger(log)
	r.tracker.Describe(l.opts.RunID, srcCfg.Path, l.opts.Topic)

	r.coord = flush.New(l.opts.Flush, r.q, l.sink)
	r.coord.SetLogger(log)
	for _, fn := range l.hooks {
		r.coord.OnStateChange(fn)
	}

	r.wm = checkpoint.NewWatermark(srcCfg.StartOffset)
	if l.cp.Store != nil {
		r.commit = checkpoint.NewCommitter(l.cp.Store, l.cp.Key, r.wm, l.cp.Every)
		r.coord.SetCheckpointer(r.checkpoint)
	}

	r.tracker.Start(ctx)
	log.Info("run started", "input", srcCfg.Path, "topic", l.opts.Topic, "start_offset", srcCfg.StartOffset)

	abortErr := l.publishAll(ctx, r, srcCfg)

	r.coord.Final(ctx)
	r.tracker.Stop()
	if err := l.sink.Close(); err != nil {
		log.Warn("sink close", "err", err)
	}
	if err := l.src.Close(); err != nil {
		log.Warn("source close", "err", err)
	}

	committed := r.wm.Highest()
	if r.commit != nil {
		committed = r.commit.Committed()
	}
	sum := r.tracker.Finalize(abortErr, committed)
	log.Info("run finished",
		"seen", sum.Seen, "succeeded", sum.Succeeded, "failed", sum.Failed,
		"retried", sum.Retried, "aborted", sum.Aborted, "took", sum.Duration())
	return sum, abortErr
}

// publishAll is the single publishing routine. It returns the fatal error
// that stopped it, or nil at end of stream.
func (l *Loader) publishAll(ctx context.Context, r *run, srcCfg source.Config) error {
	if err := l.src.Configure(srcCfg); err != nil {
		return err
	}
	if err := l.src.Open(ctx); err != nil {
		r.log.Error("source unavailable", "path", srcCfg.Path, "err", err)
		return err
	}

	var seq uint64
	for {
		if err := ctx.Err(); err != nil {
			r.log.Warn("run cancelled", "seq", seq)
			return err
		}
		rec, err := l.src.Next(ctx)
		if errors.Is(err, source.ErrEndOfStream) {
			return nil
		}
		if err != nil {
			var mal *source.MalformedInputError
			if !errors.As(err, &mal) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("read %s: %w", srcCfg.Path, err)
			}
			seq++
			resolve := r.wm.Track(mal.Offset)
			r.tracker.InputFailure(seq, mal.Offset, telemetry.KindMalformed, err)
			resolve()
			continue
		}
		seq++

		env, err := l.envelope(seq, rec)
		if err != nil {
			resolve := r.wm.Track(rec.Offset)
			r.tracker.InputFailure(seq, rec.Offset, telemetry.KindEncoding, err)
			resolve()
			continue
		}

		if err := r.q.Enqueue(ctx, env); err != nil {
			// The blocked envelope never left; it is failed but stays above
			// the watermark so a resumed run retries it.
			r.tracker.InputFailure(seq, rec.Offset, telemetry.KindEnqueue, err)
			r.log.Error("enqueue aborted", "seq", seq, "err", err)
			return err
		}
		r.tracker.Track(env, r.wm.Track(rec.Offset))
		if err := l.sink.Publish(ctx, l.opts.Topic, env, r.tracker.OnAck); err != nil {
			r.tracker.OnAck(record.Failure(seq, err))
		}
		r.coord.OnEnqueued(ctx)
	}
}

func (l *Loader) envelope(seq uint64, rec record.Record) (*record.Envelope, error) {
	payload, err := l.enc.Encode(rec)
	if err != nil {
		return nil, err
	}
	var key []byte
	if l.opts.KeyColumn != "" {
		if key, err = encode.KeyOf(rec, l.opts.KeyColumn); err != nil {
			return nil, err
		}
	}
	return &record.Envelope{Seq: seq, Offset: rec.Offset, Key: key, Payload: payload, EncodedAt: time.Now()}, nil
}

func (r *run) checkpoint(ctx context.Context, final bool) {
	var (
		off   int64
		wrote bool
		err   error
	)
	if final {
		off, err = r.commit.Commit(ctx)
		wrote = err == nil
	} else {
		off, wrote, err = r.commit.Maybe(ctx)
	}
	switch {
	case err != nil:
		r.log.Warn("checkpoint commit failed", "err", err)
	case wrote:
		r.log.Debug("checkpoint committed", "offset", off, "pending", r.wm.Pending())
	}
}
