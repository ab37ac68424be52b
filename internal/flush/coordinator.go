// Package flush drives periodic polling and draining of the publish queue
// and the final drain that closes a run.
package flush

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rowpump/internal/logging"
	"rowpump/internal/telemetry"
)

type State int32

const (
	Running State = iota
	Draining
	Drained
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Drained:
		return "drained"
	default:
		return "unknown"
	}
}

// Drainer is the publish queue as seen by the coordinator.
type Drainer interface {
	Drain(ctx context.Context) int
	Outstanding() int
	Close()
}

// Poller is implemented by sinks that need a nudge to deliver completions.
type Poller interface {
	Poll()
}

// Flusher is implemented by sinks that buffer records client-side.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Checkpointer is called at flush points; final is set on the last call.
type Checkpointer func(ctx context.Context, final bool)

type Config struct {
	PollInterval  int           // envelopes between polls, 0 disables
	FlushInterval int           // envelopes between bounded drains, 0 disables
	FlushTimeout  time.Duration // bound of a periodic drain
}

type Coordinator struct {
	cfg   Config
	queue Drainer
	sink  any
	log   *slog.Logger

	state    atomic.Int32
	enqueued atomic.Int64

	mu         sync.Mutex
	checkpoint Checkpointer
	onState    []func(State)
}

func New(cfg Config, queue Drainer, sink any) *Coordinator {
	return &Coordinator{cfg: cfg, queue: queue, sink: sink, log: logging.L()}
}

func (c *Coordinator) SetLogger(l *slog.Logger) { c.log = l }

func (c *Coordinator) SetCheckpointer(fn Checkpointer) {
	c.mu.Lock()
	c.checkpoint = fn
	c.mu.Unlock()
}

// OnStateChange registers a hook run on every transition.
func (c *Coordinator) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onState = append(c.onState, fn)
	c.mu.Unlock()
}

func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) Enqueued() int64 { return c.enqueued.Load() }

func (c *Coordinator) transition(to State) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	telemetry.FlushState.Set(float64(to))
	c.log.Debug("flush state", "from", from, "to", to)
	c.mu.Lock()
	hooks := append([]func(State){}, c.onState...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(to)
	}
}

// OnEnqueued is called by the publishing loop after every enqueue.
func (c *Coordinator) OnEnqueued(ctx context.Context) {
	n := c.enqueued.Add(1)
	if c.cfg.FlushInterval > 0 && n%int64(c.cfg.FlushInterval) == 0 {
		c.Flush(ctx)
		c.log.Info("progress", "sent", n, "outstanding", c.queue.Outstanding())
		return
	}
	if c.cfg.PollInterval > 0 && n%int64(c.cfg.PollInterval) == 0 {
		c.Poll()
	}
}

// Poll is non-blocking: it nudges the sink and samples the queue.
func (c *Coordinator) Poll() int {
	if p, ok := c.sink.(Poller); ok {
		p.Poll()
	}
	return c.queue.Outstanding()
}

// Flush drains with the configured timeout and returns what is still
// outstanding. The coordinator returns to Running afterwards.
func (c *Coordinator) Flush(ctx context.Context) int {
	if c.State() == Drained {
		return c.queue.Outstanding()
	}
	c.transition(Draining)

	dctx := ctx
	if c.cfg.FlushTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, c.cfg.FlushTimeout)
		defer cancel()
	}
	c.flushSink(dctx)
	left := c.queue.Drain(dctx)
	if left == 0 {
		c.transition(Drained)
	} else {
		c.log.Warn("flush timed out", "outstanding", left, "timeout", c.cfg.FlushTimeout)
	}
	c.runCheckpoint(ctx, false)
	c.transition(Running)
	return left
}

// Final closes the queue and blocks until every envelope is accounted for.
// Cancellation of ctx does not cut the drain short.
func (c *Coordinator) Final(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	c.transition(Draining)
	c.queue.Close()
	c.flushSink(ctx)

	start := time.Now()
	c.queue.Drain(ctx)
	c.log.Info("final drain complete", "took", time.Since(start))

	c.runCheckpoint(ctx, true)
	c.transition(Drained)
}

func (c *Coordinator) flushSink(ctx context.Context) {
	f, ok := c.sink.(Flusher)
	if !ok {
		return
	}
	if err := f.Flush(ctx); err != nil {
		c.log.Warn("sink flush", "err", err)
	}
}

func (c *Coordinator) runCheckpoint(ctx context.Context, final bool) {
	c.mu.Lock()
	fn := c.checkpoint
	c.mu.Unlock()
	if fn != nil {
		fn(ctx, final)
	}
}
