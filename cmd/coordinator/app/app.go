package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/roman-kulish/radio-coordination/internal/coordination"
	"github.com/roman-kulish/radio-coordination/internal/observability"
	"github.com/roman-kulish/radio-coordination/internal/storage"
)

const metricsShutdownTimeout = 5 * time.Second

// Run wires storage, metrics and tracing from config and performs one
// coordination run.
func Run(ctx context.Context, config *Config, logger *slog.Logger) (err error) {
	store := storage.NewSqliteStore(config.Storage.DBPath)
	defer func() {
		if cErr := store.Close(); cErr != nil {
			logger.Error("error closing storage", slog.Any("error", cErr))
		}
	}()

	tp, shutdown, err := observability.InitTracing(ctx, config.Tracing, logger)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdown, logger)

	collector, err := observability.NewPipelineCollector(nil)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	if config.Metrics.Listen != "" {
		stop, err := serveMetrics(config.Metrics.Listen, collector, logger)
		if err != nil {
			return fmt.Errorf("starting metrics listener: %w", err)
		}
		defer stop()
	}

	orchestrator := NewOrchestrator(store, config, logger,
		WithCollector(collector),
		WithTracerProvider(tp),
	)

	summary, err := orchestrator.Run(ctx)
	if err != nil {
		var sinkErr *coordination.SinkError
		if errors.As(err, &sinkErr) && summary != nil {
			return fmt.Errorf("run %s failed after %d stored results: %w", summary.RunID, summary.Committed, err)
		}
		return err
	}
	return nil
}

func serveMetrics(addr string, collector *observability.PipelineCollector, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", slog.Any("error", err))
		}
	}()
	logger.Info("metrics listener started", slog.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics listener shutdown failed", slog.Any("error", err))
		}
	}, nil
}
