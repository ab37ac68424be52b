// Package kafka publishes envelopes through an IBM/sarama AsyncProducer.
// Successes and errors are read by two dispatcher goroutines that turn
// them into acknowledgments.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"rowpump/internal/logging"
	"rowpump/internal/record"
	"rowpump/sink"
)

type Config struct {
	Brokers       []string
	ClientID      string
	Version       string // "" = sarama default
	RequiredAcks  int16  // 0, 1, -1
	Compression   string // none|gzip|snappy|lz4|zstd
	LingerMS      int    // producer flush frequency
	BatchMessages int    // producer flush message count
	ClientRetries int    // retries inside sarama before an error surfaces
	MaxBufferMsgs int    // channel buffer size
}

// meta rides on ProducerMessage.Metadata back to the dispatchers.
type meta struct {
	seq uint64
	ack sink.AckFn
}

type driver struct {
	cfg Config
	p   sarama.AsyncProducer
	wg  sync.WaitGroup

	mu     sync.RWMutex // guards closed against Publish
	closed bool
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if len(cfg.Brokers) == 0 {
		return errors.New("kafka-sink: no brokers")
	}
	sc, err := saramaConfig(cfg)
	if err != nil {
		return err
	}
	p, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return fmt.Errorf("kafka-sink: %w", err)
	}
	d.cfg = cfg
	d.start(p)
	logging.L().Info("kafka-sink: producer ready", "brokers", cfg.Brokers, "acks", cfg.RequiredAcks)
	return nil
}

func saramaConfig(cfg Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	if cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, err
		}
		sc.Version = ver
	}
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Retry.Max = cfg.ClientRetries
	if cfg.LingerMS > 0 {
		sc.Producer.Flush.Frequency = time.Duration(cfg.LingerMS) * time.Millisecond
	}
	if cfg.BatchMessages > 0 {
		sc.Producer.Flush.Messages = cfg.BatchMessages
	}
	if cfg.MaxBufferMsgs > 0 {
		sc.ChannelBufferSize = cfg.MaxBufferMsgs
	}
	codec, err := compression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	sc.Producer.Compression = codec
	return sc, sc.Validate()
}

func compression(name string) (sarama.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return sarama.CompressionNone, nil
	case "gzip":
		return sarama.CompressionGZIP, nil
	case "snappy":
		return sarama.CompressionSnappy, nil
	case "lz4":
		return sarama.CompressionLZ4, nil
	case "zstd":
		return sarama.CompressionZSTD, nil
	default:
		return sarama.CompressionNone, fmt.Errorf("kafka-sink: unknown compression %q", name)
	}
}

func (d *driver) start(p sarama.AsyncProducer) {
	d.p = p
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		for msg := range p.Successes() {
			if m, ok := msg.Metadata.(meta); ok {
				m.ack(record.Success(m.seq, msg.Partition, msg.Offset))
			}
		}
	}()
	go func() {
		defer d.wg.Done()
		for perr := range p.Errors() {
			if m, ok := perr.Msg.Metadata.(meta); ok {
				m.ack(record.Failure(m.seq, perr.Err))
			}
		}
	}()
}

func (d *driver) Publish(ctx context.Context, topic string, env *record.Envelope, ack sink.AckFn) error {
	msg := &sarama.ProducerMessage{
		Topic:    topic,
		Value:    sarama.ByteEncoder(env.Payload),
		Metadata: meta{seq: env.Seq, ack: ack},
	}
	if len(env.Key) > 0 {
		msg.Key = sarama.ByteEncoder(env.Key)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.New("kafka-sink: closed")
	}
	select {
	case d.p.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits until sarama has reported every buffered message.
func (d *driver) Close() error {
	d.mu.Lock()
	if d.closed || d.p == nil {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.p.AsyncClose()
	d.wg.Wait()
	return nil
}

func init() { sink.Register("sarama", func() sink.Adapter { return &driver{} }) }
