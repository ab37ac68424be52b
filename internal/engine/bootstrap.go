package engine

import (
	"context"
	"fmt"

	"rowpump/internal/config"
	"rowpump/internal/flush"
	"rowpump/internal/logging"
	"rowpump/internal/pipeline"
	"rowpump/internal/telemetry"
	"rowpump/internal/transport"
)

// Bootstrap wires one run: health transport, metrics endpoint and the
// compiled loader. Ports of 0 leave the matching server off.
func Bootstrap(ctx context.Context, cfg config.Config) (*Engine, error) {
	logging.Configure(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

	// 1. pipeline loader
	loader, err := pipeline.Compile(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	e := &Engine{cfg: cfg, loader: loader}

	// 2. transport server
	if cfg.HealthPort > 0 {
		srv, err := transport.StartServer(fmt.Sprintf(":%d", cfg.HealthPort))
		if err != nil {
			e.shutdown()
			return nil, fmt.Errorf("transport: %w", err)
		}
		e.transport = srv
		loader.OnStateChange(func(s flush.State) { srv.SetServing(s == flush.Running) })
	}

	// 3. metrics
	if cfg.MetricsPort > 0 {
		m, err := telemetry.Expose(fmt.Sprintf(":%d", cfg.MetricsPort))
		if err != nil {
			e.shutdown()
			return nil, err
		}
		e.metrics = m
	}
	return e, nil
}
