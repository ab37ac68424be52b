package engine

import (
	"context"
	"time"

	"rowpump/internal/ack"
	"rowpump/internal/config"
	"rowpump/internal/logging"
	"rowpump/internal/pipeline"
	"rowpump/internal/report"
	"rowpump/internal/telemetry"
	"rowpump/internal/transport"
)

type Engine struct {
	cfg       config.Config
	loader    *pipeline.Loader
	transport *transport.Server
	metrics   *telemetry.Server
}

func (e *Engine) RunID() string { return e.loader.RunID() }

// Run performs the load and writes the report. The summary is valid even
// when err is set.
func (e *Engine) Run(ctx context.Context) (ack.Summary, error) {
	defer e.shutdown()

	if e.transport != nil {
		go func() {
			if err := e.transport.Serve(); err != nil {
				logging.L().Warn("health server stopped", "err", err)
			}
		}()
		e.transport.SetServing(true)
	}

	sum, err := e.loader.Run(ctx)

	if e.cfg.Report != "" {
		if werr := report.Write(e.cfg.Report, sum); werr != nil {
			logging.L().Error("writing report", "path", e.cfg.Report, "err", werr)
		} else {
			logging.L().Info("report written", "path", e.cfg.Report)
		}
	}
	return sum, err
}

func (e *Engine) shutdown() {
	if e.transport != nil {
		e.transport.Stop()
	}
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.metrics.Stop(ctx)
	}
}
