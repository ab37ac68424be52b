package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rowpump/internal/logging"
)

// Failure kinds used as the "kind" label of RecordsFailed.
const (
	KindMalformed = "malformed"
	KindEncoding  = "encoding"
	KindEnqueue   = "enqueue"
	KindPublish   = "publish"
)

var (
	RecordsSeen = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rowpump", Name: "records_seen_total",
		Help: "Records read from the input and handed to the pipeline.",
	})
	RecordsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rowpump", Name: "records_succeeded_total",
		Help: "Records acknowledged by the broker.",
	})
	RecordsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rowpump", Name: "records_failed_total",
		Help: "Records that ended in a terminal failure, by kind.",
	}, []string{"kind"})
	PublishRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rowpump", Name: "publish_retries_total",
		Help: "Publish attempts repeated after a broker failure.",
	})
	QueueMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rowpump", Name: "queue_outstanding_messages",
		Help: "Envelopes enqueued but not yet terminally acknowledged.",
	})
	QueueBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rowpump", Name: "queue_outstanding_bytes",
		Help: "Payload bytes held by outstanding envelopes.",
	})
	EnqueueWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rowpump", Name: "enqueue_waits_total",
		Help: "Times the publishing loop blocked on a full queue.",
	})
	FlushState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rowpump", Name: "flush_state",
		Help: "Flush coordinator state: 0 running, 1 draining, 2 drained.",
	})
	AckLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rowpump", Name: "ack_latency_seconds",
		Help:    "Time from encoding an envelope to its terminal acknowledgment.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	})
)

// Server serves /metrics until Stop is called.
type Server struct {
	srv *http.Server
	lis net.Listener
}

// Expose starts the promhttp handler on addr (":9100", "127.0.0.1:0").
func Expose(addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s := &Server{srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}, lis: lis}
	go func() {
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Warn("metrics server stopped", "err", err)
		}
	}()
	return s, nil
}

func (s *Server) Addr() string { return s.lis.Addr().String() }

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
