package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/roman-kulish/radio-coordination/internal/coordination"
	"github.com/roman-kulish/radio-coordination/internal/observability"
	"github.com/roman-kulish/radio-coordination/internal/pathloss"
	"github.com/roman-kulish/radio-coordination/internal/storage"
)

// RunStore is the storage the orchestrator reads the dataset from and
// records runs and results in.
type RunStore interface {
	coordination.Dataset
	storage.ResultWriter

	CreateRun(ctx context.Context, runID string, params any) error
	FinishRun(ctx context.Context, runID string, outcome storage.RunOutcome) error
}

// WithCollector sets the metrics collector notified of pipeline progress
func WithCollector(collector *observability.PipelineCollector) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.collector = collector
	}
}

// WithTracerProvider sets the tracer provider of the pipeline
func WithTracerProvider(tp trace.TracerProvider) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.tracerProvider = tp
	}
}

// WithProvider replaces the over-horizon provider built from the configuration
func WithProvider(provider pathloss.Provider) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.provider = provider
	}
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Status    storage.RunStatus
	Report    *coordination.Report
	Committed int64
	Flagged   int64
	Elapsed   time.Duration
}

// Orchestrator runs one coordination analysis at a time: it records the run,
// drives the pipeline into a batched result sink and records the outcome.
type Orchestrator struct {
	store  RunStore
	config *Config
	logger *slog.Logger

	collector      *observability.PipelineCollector
	tracerProvider trace.TracerProvider
	provider       pathloss.Provider

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(store RunStore, config *Config, logger *slog.Logger, options ...func(*Orchestrator)) *Orchestrator {
	o := Orchestrator{
		store:  store,
		config: config,
		logger: logger,
	}

	for _, option := range options {
		option(&o)
	}

	return &o
}

// Run performs a coordination run. The returned summary is set whenever the
// run was recorded, including failed and cancelled runs.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	ctx, cancel := o.runContext(ctx)
	defer cancel()

	runID := uuid.NewString()
	logger := o.logger.With(slog.String("run_id", runID))

	provider, cached, err := o.pathLossProvider(logger)
	if err != nil {
		return nil, fmt.Errorf("creating path loss provider: %w", err)
	}

	pipeline, err := coordination.NewPipeline(o.store, o.config.Analysis, o.pipelineOptions(logger, provider)...)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}

	if err = o.store.CreateRun(ctx, runID, pipeline.Params()); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}

	sink, err := storage.NewBatchSink(o.store, runID,
		storage.WithLogger(logger),
		storage.WithBatchSize(o.config.Storage.BatchSize, o.config.Storage.BatchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("creating result sink: %w", err)
	}

	logger.Info("coordination run started",
		slog.Float64("distance_km", o.config.Analysis.CoordinationDistanceKm),
		slog.String("path_loss_model", o.config.Analysis.PathLossModel.String()),
		slog.Int("workers", o.config.Analysis.Workers),
	)

	report, runErr := pipeline.Run(ctx, sink)

	// Results emitted before a cancellation are kept.
	flushErr := sink.Flush(context.WithoutCancel(ctx))

	summary := &Summary{
		RunID:     runID,
		Status:    runStatus(runErr, flushErr),
		Report:    report,
		Committed: sink.Committed(),
		Flagged:   sink.Flagged(),
		Elapsed:   time.Since(start),
	}

	runErr = errors.Join(runErr, flushErr)

	if err = o.store.FinishRun(context.WithoutCancel(ctx), runID, storage.RunOutcome{
		Status:  summary.Status,
		Results: summary.Committed,
		Flagged: summary.Flagged,
		Err:     runErr,
	}); err != nil {
		logger.Error("error recording run outcome", slog.Any("error", err))
		runErr = errors.Join(runErr, err)
	}

	if o.collector != nil && cached != nil {
		o.collector.SetPathLossCache(cached.Stats())
	}

	o.logSummary(logger, summary, cached)
	return summary, runErr
}

// Cancel aborts the run in progress, if any.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc
	if timeout := time.Duration(o.config.Settings.RunTimeout); timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	return ctx, func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
		cancel()
	}
}

// pathLossProvider builds the cached over-horizon provider for models that
// need one. It returns nil for line-of-sight runs.
func (o *Orchestrator) pathLossProvider(logger *slog.Logger) (pathloss.Provider, *pathloss.CachedProvider, error) {
	if !o.config.Analysis.PathLossModel.NeedsProvider() {
		return nil, nil, nil
	}

	inner := o.provider
	if inner == nil {
		ep, err := pathloss.NewExecProvider(o.config.PathLoss.ExecConfig(), pathloss.WithExecLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		inner = ep
	}

	cached, err := pathloss.NewCachedProvider(inner, o.config.PathLoss.CacheCapacity)
	if err != nil {
		return nil, nil, err
	}
	return cached, cached, nil
}

func (o *Orchestrator) pipelineOptions(logger *slog.Logger, provider pathloss.Provider) []func(*coordination.Pipeline) {
	options := []func(*coordination.Pipeline){coordination.WithLogger(logger)}
	if provider != nil {
		options = append(options, coordination.WithProvider(provider))
	}
	if o.collector != nil {
		options = append(options, coordination.WithObserver(o.collector))
	}
	if o.tracerProvider != nil {
		options = append(options, coordination.WithTracerProvider(o.tracerProvider))
	}
	return options
}

func runStatus(runErr, flushErr error) storage.RunStatus {
	switch {
	case runErr == nil && flushErr == nil:
		return storage.RunStatusCompleted
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		if flushErr != nil {
			return storage.RunStatusFailed
		}
		return storage.RunStatusCancelled
	default:
		return storage.RunStatusFailed
	}
}

func (o *Orchestrator) logSummary(logger *slog.Logger, s *Summary, cached *pathloss.CachedProvider) {
	attrs := []any{
		slog.String("status", s.Status.String()),
		slog.String("results", humanize.Comma(s.Committed)),
		slog.String("flagged", humanize.Comma(s.Flagged)),
		slog.Duration("elapsed", s.Elapsed),
	}

	if r := s.Report; r != nil {
		attrs = append(attrs,
			slog.Group("sites",
				slog.String("proposed", humanize.Comma(r.Sites)),
				slog.String("victims", humanize.Comma(r.VictimSites)),
			),
			slog.Group("pairs",
				slog.String("antenna", humanize.Comma(r.AntennaPairs)),
				slog.String("channel", humanize.Comma(r.ChannelPairs)),
			),
			slog.String("skipped", humanize.Comma(r.TotalSkipped())),
		)
		if secs := s.Elapsed.Seconds(); secs > 0 {
			attrs = append(attrs, slog.String("pair_rate", humanize.SIWithDigits(float64(r.ChannelPairs)/secs, 2, "pairs/s")))
		}
	}

	if cached != nil {
		stats := cached.Stats()
		attrs = append(attrs, slog.Group("path_loss_cache",
			slog.Uint64("hits", stats.Hits),
			slog.Uint64("misses", stats.Misses),
		))
	}

	if s.Status == storage.RunStatusCompleted {
		logger.Info("coordination run summary", attrs...)
	} else {
		logger.Warn("coordination run summary", attrs...)
	}
}

var _ RunStore = (*storage.SqliteStore)(nil)
