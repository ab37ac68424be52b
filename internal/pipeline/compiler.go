package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"rowpump/internal/ack"
	"rowpump/internal/checkpoint"
	"rowpump/internal/config"
	"rowpump/internal/encode"
	"rowpump/internal/flush"
	"rowpump/internal/queue"
	"rowpump/sink"
	"rowpump/sink/franz"
	"rowpump/sink/jetstream"
	"rowpump/sink/kafka"
	"rowpump/sink/stdout"
	"rowpump/source"

	_ "rowpump/source/csv"
	_ "rowpump/source/ndjson"
)

// Compile turns a validated config into a ready Loader: drivers are looked
// up in the source and sink registries and configured here.
func Compile(ctx context.Context, cfg config.Config) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()

	src, err := source.NewAdapter(cfg.Input.Format)
	if err != nil {
		return nil, err
	}
	enc, err := encode.New(cfg.Input.Encoding)
	if err != nil {
		return nil, err
	}
	snk, err := sink.NewAdapter(cfg.Sink.Driver)
	if err != nil {
		return nil, err
	}
	if err := snk.Configure(sinkConfig(cfg, runID)); err != nil {
		return nil, fmt.Errorf("sink %s: %w", cfg.Sink.Driver, err)
	}

	l := NewLoader(Options{
		RunID:     runID,
		Topic:     cfg.Sink.Topic,
		KeyColumn: cfg.Input.KeyColumn,
		Source: source.Config{
			Path:         cfg.Input.Path,
			Delimiter:    cfg.DelimiterRune(),
			LazyQuotes:   cfg.Input.LazyQuotes,
			InferNumbers: cfg.Input.InferNumbers,
			StartOffset:  cfg.Input.StartOffset,
		},
		Queue: queue.Config{
			MaxCount:       cfg.Queue.MaxCount,
			MaxBytes:       cfg.Queue.MaxBytes,
			EnqueueTimeout: cfg.Queue.EnqueueTimeout,
		},
		Flush: flush.Config{
			PollInterval:  cfg.Flush.PollIntervalMessages,
			FlushInterval: cfg.Flush.FlushIntervalMessages,
			FlushTimeout:  cfg.Flush.FlushTimeout,
		},
		Retry: ack.Config{
			MaxRetries:   cfg.Retry.MaxRetries,
			RetryBackoff: cfg.Retry.Backoff,
		},
	}, src, enc, snk)

	store, err := openStore(ctx, cfg.Checkpoint)
	if err != nil {
		_ = snk.Close()
		return nil, err
	}
	if store != nil {
		key := cfg.Checkpoint.Key
		if key == "" {
			key = cfg.Input.Path + "@" + cfg.Sink.Topic
		}
		l.WithCheckpoint(CheckpointOptions{Store: store, Key: key, Every: cfg.Checkpoint.CommitInterval, Resume: cfg.Checkpoint.Resume})
	}
	return l, nil
}

func sinkConfig(cfg config.Config, runID string) any {
	switch cfg.Sink.Driver {
	case "stdout":
		return stdout.Config{BatchSize: cfg.Sink.BatchSize, FlushMS: cfg.Sink.LingerMS}
	case "jetstream":
		return jetstream.Config{
			URL:         cfg.Sink.BootstrapServers,
			Name:        cfg.Sink.ClientID,
			MsgIDPrefix: runID,
			MaxPending:  cfg.Queue.MaxCount,
		}
	case "kgo":
		return franz.Config{
			Brokers:      cfg.Brokers(),
			ClientID:     cfg.Sink.ClientID,
			RequiredAcks: cfg.Sink.RequiredAcks,
			LingerMS:     cfg.Sink.LingerMS,
			MaxBuffered:  cfg.Queue.MaxCount,
		}
	default:
		return kafka.Config{
			Brokers:       cfg.Brokers(),
			ClientID:      cfg.Sink.ClientID,
			Version:       cfg.Sink.Version,
			RequiredAcks:  cfg.Sink.RequiredAcks,
			Compression:   cfg.Sink.Compression,
			LingerMS:      cfg.Sink.LingerMS,
			BatchMessages: cfg.Sink.BatchMessages,
		}
	}
}

func openStore(ctx context.Context, c config.CheckpointCfg) (checkpoint.Store, error) {
	switch c.Store {
	case "file":
		s, err := checkpoint.NewFileStore(c.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := checkpoint.NewRedisStore(ctx, c.RedisURL, "rowpump:checkpoint:")
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}
