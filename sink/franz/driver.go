// Package franz publishes envelopes with the franz-go client. Produce
// promises become acknowledgments.
package franz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"rowpump/internal/logging"
	"rowpump/internal/record"
	"rowpump/sink"
)

// producer is the part of *kgo.Client this driver uses.
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	BufferedProduceRecords() int64
	Close()
}

var _ producer = (*kgo.Client)(nil)

type Config struct {
	Brokers      []string
	ClientID     string
	RequiredAcks int16 // -1 all ISRs, 1 leader, 0 none
	LingerMS     int
	MaxBuffered  int
	Retries      int
}

type driver struct {
	cl producer

	mu     sync.RWMutex
	closed bool
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kgo-sink: want Config, got %T", c)
	}
	if len(cfg.Brokers) == 0 {
		return errors.New("kgo-sink: no brokers")
	}
	cl, err := kgo.NewClient(options(cfg)...)
	if err != nil {
		return fmt.Errorf("kgo-sink: %w", err)
	}
	d.cl = cl
	logging.L().Info("kgo-sink: client ready", "brokers", cfg.Brokers, "acks", cfg.RequiredAcks)
	return nil
}

func options(cfg Config) []kgo.Opt {
	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	switch cfg.RequiredAcks {
	case 0:
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case 1:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}
	if cfg.LingerMS > 0 {
		opts = append(opts, kgo.ProducerLinger(time.Duration(cfg.LingerMS)*time.Millisecond))
	}
	if cfg.MaxBuffered > 0 {
		opts = append(opts, kgo.MaxBufferedRecords(cfg.MaxBuffered))
	}
	if cfg.Retries > 0 {
		opts = append(opts, kgo.RecordRetries(cfg.Retries))
	}
	return opts
}

func (d *driver) Publish(ctx context.Context, topic string, env *record.Envelope, ack sink.AckFn) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.New("kgo-sink: closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r := &kgo.Record{Topic: topic, Key: env.Key, Value: env.Payload}
	seq := env.Seq
	// Produce blocks while MaxBufferedRecords is reached.
	d.cl.Produce(ctx, r, func(r *kgo.Record, err error) {
		if err != nil {
			ack(record.Failure(seq, err))
			return
		}
		ack(record.Success(seq, r.Partition, r.Offset))
	})
	return nil
}

// Poll is a no-op; franz-go runs promises on its own goroutine.
func (d *driver) Poll() {}

func (d *driver) Flush(ctx context.Context) error { return d.cl.Flush(ctx) }

func (d *driver) Buffered() int64 { return d.cl.BufferedProduceRecords() }

func (d *driver) Close() error {
	d.mu.Lock()
	if d.closed || d.cl == nil {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	err := d.cl.Flush(context.Background())
	d.cl.Close()
	return err
}

func init() { sink.Register("kgo", func() sink.Adapter { return &driver{} }) }
