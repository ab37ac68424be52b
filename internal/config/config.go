package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	SupportedSchema = "v1"
	EnvPrefix       = "ROWPUMP__"
)

type InputCfg struct {
	Path         string `koanf:"path"`
	Format       string `koanf:"format"`    // csv|ndjson
	Delimiter    string `koanf:"delimiter"` // single character, csv only
	LazyQuotes   bool   `koanf:"lazy_quotes"`
	InferNumbers bool   `koanf:"infer_numbers"`
	StartOffset  int64  `koanf:"start_offset"`
	Encoding     string `koanf:"encoding"`   // json|proto
	KeyColumn    string `koanf:"key_column"` // "" = unkeyed
}

type SinkCfg struct {
	Driver           string `koanf:"driver"` // sarama|kgo|jetstream|stdout
	BootstrapServers string `koanf:"bootstrap_servers"`
	Topic            string `koanf:"topic"`
	ClientID         string `koanf:"client_id"`
	Version          string `koanf:"version"`
	RequiredAcks     int16  `koanf:"required_acks"`
	Compression      string `koanf:"compression"`
	LingerMS         int    `koanf:"linger_ms"`
	BatchMessages    int    `koanf:"batch_messages"`
	BatchSize        int    `koanf:"batch_size"` // stdout only
}

type QueueCfg struct {
	MaxBytes       int64         `koanf:"max_bytes"`
	MaxCount       int           `koanf:"max_count"`
	EnqueueTimeout time.Duration `koanf:"enqueue_timeout"`
}

type FlushCfg struct {
	PollIntervalMessages  int           `koanf:"poll_interval_messages"`
	FlushIntervalMessages int           `koanf:"flush_interval_messages"`
	FlushTimeout          time.Duration `koanf:"flush_timeout"`
}

type RetryCfg struct {
	MaxRetries int           `koanf:"max_retries"`
	Backoff    time.Duration `koanf:"backoff"`
}

type CheckpointCfg struct {
	Store          string        `koanf:"store"` // none|file|redis
	Path           string        `koanf:"path"`
	RedisURL       string        `koanf:"redis_url"`
	Key            string        `koanf:"key"`
	CommitInterval time.Duration `koanf:"commit_interval"`
	Resume         bool          `koanf:"resume"`
}

type LogCfg struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type Config struct {
	SchemaVersion string        `koanf:"schema_version"`
	Input         InputCfg      `koanf:"input"`
	Sink          SinkCfg       `koanf:"sink"`
	Queue         QueueCfg      `koanf:"queue"`
	Flush         FlushCfg      `koanf:"flush"`
	Retry         RetryCfg      `koanf:"retry"`
	Checkpoint    CheckpointCfg `koanf:"checkpoint"`
	Log           LogCfg        `koanf:"log"`
	Report        string        `koanf:"report"` // .json or .yaml path, "" = none
	MetricsPort   int           `koanf:"metrics_port"`
	HealthPort    int           `koanf:"health_port"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// Load merges YAML (if present) with env-vars
// (prefix `ROWPUMP__`, delimiter `__`), then fills defaults.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return Config{}, fmt.Errorf("config schema_version %q not supported (want %s)", sv, SupportedSchema)
	}

	if err := k.Load(env.Provider(EnvPrefix, "__", envKey), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	ApplyDefaults(&cfg)
	return cfg, nil
}

// ROWPUMP__QUEUE__MAX_BYTES -> queue__max_bytes
func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

// ApplyDefaults fills every unset field; Load calls it after merging.
func ApplyDefaults(c *Config) {
	if c.SchemaVersion == "" {
		c.SchemaVersion = SupportedSchema
	}
	if c.Input.Format == "" {
		c.Input.Format = "csv"
	}
	if c.Input.Delimiter == "" {
		c.Input.Delimiter = ","
	}
	if c.Input.Encoding == "" {
		c.Input.Encoding = "json"
	}
	if c.Sink.Driver == "" {
		c.Sink.Driver = "sarama"
	}
	if c.Sink.BootstrapServers == "" {
		c.Sink.BootstrapServers = getenv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9095")
	}
	if c.Sink.Topic == "" {
		c.Sink.Topic = getenv("KAFKA_TOPIC", "transactions")
	}
	if c.Sink.ClientID == "" {
		c.Sink.ClientID = "rowpump"
	}
	if c.Sink.RequiredAcks == 0 {
		c.Sink.RequiredAcks = -1
	}
	if c.Sink.LingerMS == 0 {
		c.Sink.LingerMS = 50
	}
	if c.Sink.BatchMessages == 0 {
		c.Sink.BatchMessages = 10_000
	}
	if c.Queue.MaxCount == 0 {
		c.Queue.MaxCount = 500_000
	}
	if c.Queue.MaxBytes == 0 {
		c.Queue.MaxBytes = 1 << 30 // 1 GiB
	}
	if c.Queue.EnqueueTimeout == 0 {
		c.Queue.EnqueueTimeout = 30 * time.Second
	}
	if c.Flush.PollIntervalMessages == 0 {
		c.Flush.PollIntervalMessages = 100
	}
	if c.Flush.FlushIntervalMessages == 0 {
		c.Flush.FlushIntervalMessages = 10_000
	}
	if c.Flush.FlushTimeout == 0 {
		c.Flush.FlushTimeout = 30 * time.Second
	}
	if c.Checkpoint.Store == "" {
		c.Checkpoint.Store = "none"
	}
	if c.Checkpoint.Store == "file" && c.Checkpoint.Path == "" {
		c.Checkpoint.Path = "rowpump.checkpoint.json"
	}
	if c.Checkpoint.CommitInterval == 0 {
		c.Checkpoint.CommitInterval = 5 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Validate reports the first setting a run cannot start with.
func (c Config) Validate() error {
	switch {
	case c.Input.Path == "":
		return errors.New("config: input path required")
	case c.Input.Format != "csv" && c.Input.Format != "ndjson":
		return fmt.Errorf("config: input.format %q (want csv|ndjson)", c.Input.Format)
	case len([]rune(c.Input.Delimiter)) != 1:
		return fmt.Errorf("config: input.delimiter %q must be one character", c.Input.Delimiter)
	case c.Input.StartOffset < 0:
		return errors.New("config: input.start_offset must be >= 0")
	case c.Sink.Topic == "":
		return errors.New("config: sink.topic required")
	case c.Sink.Driver != "stdout" && len(c.Brokers()) == 0:
		return errors.New("config: sink.bootstrap_servers required")
	case c.Queue.MaxCount <= 0 || c.Queue.MaxBytes <= 0:
		return errors.New("config: queue limits must be positive")
	case c.Queue.EnqueueTimeout < 0 || c.Flush.FlushTimeout < 0:
		return errors.New("config: timeouts must not be negative")
	case c.Flush.PollIntervalMessages <= 0 || c.Flush.FlushIntervalMessages <= 0:
		return errors.New("config: flush intervals must be positive")
	case c.Retry.MaxRetries < 0:
		return errors.New("config: retry.max_retries must be >= 0")
	}
	switch c.Checkpoint.Store {
	case "none", "file":
	case "redis":
		if c.Checkpoint.RedisURL == "" {
			return errors.New("config: checkpoint.redis_url required for redis store")
		}
	default:
		return fmt.Errorf("config: checkpoint.store %q (want none|file|redis)", c.Checkpoint.Store)
	}
	return nil
}

// Brokers splits the comma-separated bootstrap list.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.Sink.BootstrapServers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// DelimiterRune returns the configured CSV separator.
func (c Config) DelimiterRune() rune {
	r := []rune(c.Input.Delimiter)
	if len(r) == 0 {
		return ','
	}
	return r[0]
}
