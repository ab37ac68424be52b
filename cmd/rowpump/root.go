package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"rowpump/internal/ack"
	"rowpump/internal/config"
	"rowpump/internal/engine"
	"rowpump/internal/logging"
	"rowpump/sink"
)

// errFailed marks a run that finished but did not succeed; the summary has
// already been printed.
var errFailed = errors.New("run failed")

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "rowpump [flags] <input>",
		Short: "Stream a CSV or NDJSON file into a message broker topic",
		Long: `rowpump reads the input one row at a time, encodes each row as a JSON
(or protobuf) message and publishes it with bounded memory. Every row ends
up succeeded or failed in the run summary; the exit code is 0 only when
nothing failed.`,
		Example: `  rowpump data/transactions.csv
  rowpump --bootstrap-servers kafka:9092 --topic payments --key-column id rows.csv
  rowpump --driver jetstream --bootstrap-servers nats://localhost:4222 --topic tx.rows rows.ndjson --format ndjson`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.InitFromEnv()
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			cfg.Input.Path = args[0]
			if err := applyFlags(cmd.Flags(), &cfg); err != nil {
				return err
			}

			e, err := engine.Bootstrap(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			sum, runErr := e.Run(cmd.Context())
			printSummary(cmd.ErrOrStderr(), sum)
			if runErr != nil {
				return runErr
			}
			if !sum.OK() {
				return errFailed
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "YAML config file")
	f.String("bootstrap-servers", "", "broker addresses (default $KAFKA_BOOTSTRAP_SERVERS or localhost:9095)")
	f.String("topic", "", "topic or subject (default $KAFKA_TOPIC or transactions)")
	f.String("driver", "", fmt.Sprintf("sink driver %v", sink.Drivers()))
	f.String("format", "", "input format: csv, ndjson")
	f.String("delimiter", "", "csv field delimiter")
	f.Bool("infer-numbers", false, "publish numeric cells as JSON numbers")
	f.String("encoding", "", "payload encoding: json, proto")
	f.String("key-column", "", "column used as message key")
	f.Int("max-retries", 0, "publish attempts after the first for a failed row")
	f.Int64("start-offset", 0, "data rows to skip before publishing")
	f.Bool("resume", false, "start after the committed checkpoint")
	f.String("report", "", "write the run summary to this .json or .yaml file")
	f.String("log-level", "", "debug, info, warn, error")
	f.Bool("log-json", false, "log as JSON")
	f.Int("metrics-port", 0, "serve Prometheus metrics on this port (0 = off)")
	f.Int("health-port", 0, "serve gRPC health on this port (0 = off)")
	return cmd
}

// applyFlags overlays the flags the user actually set on cfg.
func applyFlags(f *pflag.FlagSet, cfg *config.Config) error {
	var firstErr error
	str := func(name string, dst *string) {
		if f.Changed(name) {
			v, err := f.GetString(name)
			*dst = v
			firstErr = errors.Join(firstErr, err)
		}
	}
	boolean := func(name string, dst *bool) {
		if f.Changed(name) {
			v, err := f.GetBool(name)
			*dst = v
			firstErr = errors.Join(firstErr, err)
		}
	}
	integer := func(name string, dst *int) {
		if f.Changed(name) {
			v, err := f.GetInt(name)
			*dst = v
			firstErr = errors.Join(firstErr, err)
		}
	}

	str("bootstrap-servers", &cfg.Sink.BootstrapServers)
	str("topic", &cfg.Sink.Topic)
	str("driver", &cfg.Sink.Driver)
	str("format", &cfg.Input.Format)
	str("delimiter", &cfg.Input.Delimiter)
	boolean("infer-numbers", &cfg.Input.InferNumbers)
	str("encoding", &cfg.Input.Encoding)
	str("key-column", &cfg.Input.KeyColumn)
	integer("max-retries", &cfg.Retry.MaxRetries)
	if f.Changed("start-offset") {
		v, err := f.GetInt64("start-offset")
		cfg.Input.StartOffset = v
		firstErr = errors.Join(firstErr, err)
	}
	boolean("resume", &cfg.Checkpoint.Resume)
	str("report", &cfg.Report)
	str("log-level", &cfg.Log.Level)
	boolean("log-json", &cfg.Log.JSON)
	integer("metrics-port", &cfg.MetricsPort)
	integer("health-port", &cfg.HealthPort)
	return firstErr
}

func printSummary(w io.Writer, s ack.Summary) {
	fmt.Fprintf(w, "run %s: seen=%d succeeded=%d failed=%d retried=%d took=%s\n",
		s.RunID, s.Seen, s.Succeeded, s.Failed, s.Retried, s.Duration().Round(time.Millisecond))
	for _, r := range s.FailureReasons {
		fmt.Fprintf(w, "  seq=%d offset=%d %s: %s\n", r.Seq, r.Offset, r.Kind, r.Reason)
	}
	if s.Aborted {
		fmt.Fprintf(w, "  aborted: %s\n", s.AbortReason)
	}
}
