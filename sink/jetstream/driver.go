// Package jetstream publishes envelopes to a NATS JetStream subject with
// PublishAsync. Each message carries a Nats-Msg-Id of <prefix>-<seq> so
// redeliveries inside the stream's duplicate window are dropped.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"rowpump/internal/logging"
	"rowpump/internal/record"
	"rowpump/sink"
)

type Config struct {
	URL          string
	Name         string
	MsgIDPrefix  string
	MaxPending   int
	AckTimeout   time.Duration
	DrainTimeout time.Duration
}

// publisher is the slice of jetstream.JetStream used here.
type publisher interface {
	PublishAsync(subject string, payload []byte, opts ...jetstream.PublishOpt) (jetstream.PubAckFuture, error)
	PublishAsyncPending() int
	PublishAsyncComplete() <-chan struct{}
}

type inflight struct {
	seq uint64
	fut jetstream.PubAckFuture
	ack sink.AckFn
}

type driver struct {
	cfg   Config
	js    publisher
	drain func() error

	futures chan inflight
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("jetstream-sink: want Config, got %T", c)
	}
	if cfg.URL == "" {
		return errors.New("jetstream-sink: no url")
	}
	defaults(&cfg)
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("jetstream-sink: connect %s: %w", cfg.URL, err)
	}
	js, err := jetstream.New(nc,
		jetstream.WithPublishAsyncMaxPending(cfg.MaxPending),
		jetstream.WithPublishAsyncTimeout(cfg.AckTimeout),
	)
	if err != nil {
		nc.Close()
		return fmt.Errorf("jetstream-sink: %w", err)
	}
	d.start(cfg, js, nc.Drain)
	logging.L().Info("jetstream-sink: connected", "url", cfg.URL, "max_pending", cfg.MaxPending)
	return nil
}

func defaults(cfg *Config) {
	if cfg.Name == "" {
		cfg.Name = "rowpump"
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 4000
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
}

func (d *driver) start(cfg Config, js publisher, drain func() error) {
	d.cfg = cfg
	d.js = js
	d.drain = drain
	d.futures = make(chan inflight, cfg.MaxPending)
	d.done = make(chan struct{})
	go d.collect()
}

// collect resolves futures in publish order.
func (d *driver) collect() {
	defer close(d.done)
	for f := range d.futures {
		select {
		case pa := <-f.fut.Ok():
			f.ack(record.Success(f.seq, 0, int64(pa.Sequence)))
		case err := <-f.fut.Err():
			f.ack(record.Failure(f.seq, err))
		}
	}
}

func (d *driver) msgID(seq uint64) string {
	return d.cfg.MsgIDPrefix + "-" + strconv.FormatUint(seq, 10)
}

func (d *driver) Publish(ctx context.Context, subject string, env *record.Envelope, ack sink.AckFn) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.New("jetstream-sink: closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fut, err := d.js.PublishAsync(subject, env.Payload, jetstream.WithMsgID(d.msgID(env.Seq)))
	if err != nil {
		return fmt.Errorf("jetstream-sink: publish: %w", err)
	}
	// PublishAsync stalls at MaxPending, so this send never waits long.
	d.futures <- inflight{seq: env.Seq, fut: fut, ack: ack}
	return nil
}

func (d *driver) Poll() {}

// Flush waits until the server has answered every async publish.
func (d *driver) Flush(ctx context.Context) error {
	if d.js.PublishAsyncPending() == 0 {
		return nil
	}
	select {
	case <-d.js.PublishAsyncComplete():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *driver) Close() error {
	d.mu.Lock()
	if d.closed || d.js == nil {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout)
	defer cancel()
	ferr := d.Flush(ctx)
	close(d.futures)
	<-d.done
	if ferr != nil {
		logging.L().Warn("jetstream-sink: pending acks at close", "pending", d.js.PublishAsyncPending(), "err", ferr)
	}
	if d.drain != nil {
		return d.drain()
	}
	return nil
}

func init() { sink.Register("jetstream", func() sink.Adapter { return &driver{} }) }
