// Package stdout is the dry-run sink: it prints every payload and
// acknowledges in batches, the way a real broker client would.
package stdout

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"rowpump/internal/record"
	"rowpump/sink"
)

/* ────────── public config ────────── */
type Config struct {
	DelayMS      int       // artificial per-envelope delay
	PrintCounter bool      // prepend seq#
	BatchSize    int       // ack after N envelopes, 0 = ack immediately
	FlushMS      int       // ack pending envelopes after this long, 0 = disabled
	Output       io.Writer // defaults to os.Stdout
}

type pending struct {
	seq    uint64
	offset int64
	ack    sink.AckFn
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config

	mu      sync.Mutex // guards out, pending, timer, written
	out     *bufio.Writer
	pending []pending
	timer   *time.Timer // nil → no timer armed
	written int64
	closed  bool
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	d.cfg = c
	w := c.Output
	if w == nil {
		w = os.Stdout
	}
	d.out = bufio.NewWriter(w)
	return nil
}

func (d *driver) Publish(ctx context.Context, topic string, env *record.Envelope, ack sink.AckFn) error {
	if d.cfg.DelayMS > 0 {
		select {
		case <-time.After(time.Duration(d.cfg.DelayMS) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("stdout-sink: closed")
	}
	if d.cfg.PrintCounter {
		fmt.Fprintf(d.out, "[%s %06d] ", topic, env.Seq)
	}
	d.out.Write(env.Payload)
	d.out.WriteByte('\n')

	d.pending = append(d.pending, pending{seq: env.Seq, offset: d.written, ack: ack})
	d.written++

	/* 1. flush on batch size */
	if d.cfg.BatchSize <= 0 || len(d.pending) >= d.cfg.BatchSize {
		d.flushLocked()
		return nil
	}

	/* 2. arm the one-shot timer if needed */
	if d.cfg.FlushMS > 0 && d.timer == nil {
		d.timer = time.AfterFunc(time.Duration(d.cfg.FlushMS)*time.Millisecond, d.timerFlush)
	}
	return nil
}

/* ────────── flush.Flusher ────────── */
func (d *driver) Flush(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
	return nil
}

func (d *driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.flushLocked()
	d.closed = true
	return nil
}

/* ────────── internals ────────── */

// called by the background timer goroutine
func (d *driver) timerFlush() {
	d.mu.Lock()
	d.flushLocked()
	d.mu.Unlock()
}

// must be called with d.mu *held*
func (d *driver) flushLocked() {
	d.stopTimerLocked() // re-arm on next Publish if needed
	if d.out == nil {
		return
	}
	if err := d.out.Flush(); err != nil {
		for _, p := range d.pending {
			p.ack(record.Failure(p.seq, err))
		}
		d.pending = d.pending[:0]
		return
	}
	for _, p := range d.pending {
		p.ack(record.Success(p.seq, 0, p.offset))
	}
	d.pending = d.pending[:0]
}

func (d *driver) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
