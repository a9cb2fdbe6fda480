package coordination

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roman-kulish/radio-coordination/internal/antenna"
	"github.com/roman-kulish/radio-coordination/internal/criteria"
	"github.com/roman-kulish/radio-coordination/internal/pathloss"
	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

const tracerName = "github.com/roman-kulish/radio-coordination/internal/coordination"

// WithLogger sets the logger for the pipeline
func WithLogger(logger *slog.Logger) func(p *Pipeline) {
	return func(p *Pipeline) {
		p.logger = logger.With(slog.String("component", "coordination"))
	}
}

// WithObserver sets the observer notified of pipeline progress
func WithObserver(observer Observer) func(p *Pipeline) {
	return func(p *Pipeline) {
		p.observer = observer
	}
}

// WithProvider sets the over-horizon provider used by non line-of-sight models
func WithProvider(provider pathloss.Provider) func(p *Pipeline) {
	return func(p *Pipeline) {
		p.provider = provider
	}
}

// WithCriteriaCapacity sets the sizes of the protection criteria caches
func WithCriteriaCapacity(records, curves int) func(p *Pipeline) {
	return func(p *Pipeline) {
		p.recordCapacity = records
		p.curveCapacity = curves
	}
}

// WithTracerProvider sets the tracer provider, the global one is used by default
func WithTracerProvider(tp trace.TracerProvider) func(p *Pipeline) {
	return func(p *Pipeline) {
		p.tracer = tp.Tracer(tracerName)
	}
}

// Pipeline runs the candidate-pair analysis: proposed sites, their links,
// victim sites past the rough cull, victim links, antenna pairs and channel
// pairs, each stage a lazy sequence nested in the previous one.
//
// A Pipeline can be run any number of times; each Run gets fresh resolver
// caches, so runs over the same dataset produce identical results.
type Pipeline struct {
	dataset Dataset
	params  Params

	provider       pathloss.Provider
	recordCapacity int
	curveCapacity  int

	observer Observer
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewPipeline creates a new Pipeline. Unset parameters take their defaults.
func NewPipeline(dataset Dataset, params Params, options ...func(p *Pipeline)) (*Pipeline, error) {
	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run parameters: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	p := Pipeline{
		dataset:        dataset,
		params:         params,
		recordCapacity: criteria.DefaultRecordCapacity,
		curveCapacity:  criteria.DefaultCurveCapacity,
		observer:       nopObserver{},
		tracer:         otel.Tracer(tracerName),
		logger:         logger,
	}

	for _, option := range options {
		option(&p)
	}

	if params.PathLossModel.NeedsProvider() && p.provider == nil {
		return nil, fmt.Errorf("path loss model %s requires an over-horizon provider", params.PathLossModel)
	}

	return &p, nil
}

// Params returns the effective run parameters.
func (p *Pipeline) Params() Params {
	return p.params
}

// run holds the per-run resolvers and their caches.
type run struct {
	*Pipeline

	antennas *antenna.Resolver
	criteria *criteria.Resolver
	calc     *pathloss.Calculator
}

func (p *Pipeline) newRun() (*run, error) {
	cr, err := criteria.NewResolver(p.dataset,
		criteria.WithLogger(p.logger),
		criteria.WithRecordCapacity(p.recordCapacity),
		criteria.WithCurveCapacity(p.curveCapacity),
	)
	if err != nil {
		return nil, fmt.Errorf("creating criteria resolver: %w", err)
	}

	calc, err := pathloss.NewCalculator(p.params.PathLossModel, p.provider, pathloss.WithCalculatorLogger(p.logger))
	if err != nil {
		return nil, fmt.Errorf("creating path loss calculator: %w", err)
	}

	return &run{
		Pipeline: p,
		antennas: antenna.NewResolver(p.dataset, antenna.WithLogger(p.logger)),
		criteria: cr,
		calc:     calc,
	}, nil
}

// Run executes the analysis and emits every scored pair to sink.
//
// Missing or malformed input skips the affected item and is counted in the
// report. A sink failure aborts the run with a *SinkError. When ctx is
// cancelled the run stops between items and returns the context error; no
// partially scored pair is emitted.
func (p *Pipeline) Run(ctx context.Context, sink Sink) (*Report, error) {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "coordination.Run", trace.WithAttributes(
		attribute.Float64("coordination.distance_km", p.params.CoordinationDistanceKm),
		attribute.String("coordination.path_loss_model", p.params.PathLossModel.String()),
		attribute.Int("coordination.workers", p.params.Workers),
	))
	defer span.End()

	report := newReport()

	r, err := p.newRun()
	if err != nil {
		return report, err
	}

	e := &emitter{sink: sink, report: report, observer: p.observer}

	if p.params.Workers > 1 {
		err = r.runParallel(ctx, e)
	} else {
		err = r.runSequential(ctx, e)
	}

	report.AntennaCache = r.antennas.Stats()
	report.CriteriaCache = r.criteria.Stats()

	elapsed := time.Since(start)
	p.observer.RunFinished(report, elapsed)

	span.SetAttributes(
		attribute.Int64("coordination.results", report.Results),
		attribute.Int64("coordination.flagged", report.Flagged),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			p.logger.Warn("coordination run cancelled", slog.Any("error", err), slog.Duration("elapsed", elapsed))
		} else {
			p.logger.Error("coordination run failed", slog.Any("error", err), slog.Duration("elapsed", elapsed))
		}
		return report, err
	}

	p.logger.Info("coordination run finished",
		slog.Group("sites",
			slog.Int64("loaded", report.Sites),
			slog.Int64("failed", report.SitesFailed),
			slog.Int64("victims", report.VictimSites),
		),
		slog.Group("pairs",
			slog.Int64("antenna", report.AntennaPairs),
			slog.Int64("channel", report.ChannelPairs),
		),
		slog.Int64("results", report.Results),
		slog.Int64("flagged", report.Flagged),
		slog.Int64("skipped", report.TotalSkipped()),
		slog.Duration("elapsed", elapsed),
	)

	return report, nil
}

func (r *run) runSequential(ctx context.Context, e *emitter) error {
	for site, err := range r.proposedSites(ctx, e.report) {
		if err != nil {
			return err
		}
		if err = r.processSite(ctx, site, e.report, func(res *spectrum.InterferenceResult) error {
			return e.emit(ctx, res)
		}); err != nil {
			return err
		}
	}
	return ctx.Err()
}

type siteJob struct {
	seq  int
	site *spectrum.Site
}

type siteOutcome struct {
	seq     int
	results []*spectrum.InterferenceResult
	report  *Report
	err     error
}

// runParallel processes proposed sites on several workers. Each site's
// results are buffered and emitted in enumeration order, so the sink sees the
// same sequence as a sequential run. At most 2*workers sites are in flight.
func (r *run) runParallel(ctx context.Context, e *emitter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := r.params.Workers
	window := make(chan struct{}, 2*workers)
	jobs := make(chan siteJob)
	outcomes := make(chan siteOutcome, 2*workers)

	enumerated := newReport()
	var enumErr error

	go func() {
		defer close(jobs)

		seq := 0
		for site, err := range r.proposedSites(ctx, enumerated) {
			if err != nil {
				enumErr = err
				return
			}

			select {
			case window <- struct{}{}:
			case <-ctx.Done():
				return
			}

			select {
			case jobs <- siteJob{seq: seq, site: site}:
			case <-ctx.Done():
				return
			}
			seq++
		}
	}()

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for job := range jobs {
				local := newReport()
				var results []*spectrum.InterferenceResult

				err := r.processSite(ctx, job.site, local, func(res *spectrum.InterferenceResult) error {
					results = append(results, res)
					return nil
				})

				outcomes <- siteOutcome{seq: job.seq, results: results, report: local, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var sinkErr error
	pending := make(map[int]siteOutcome)
	next := 0

	for out := range outcomes {
		pending[out.seq] = out

		for {
			o, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			<-window

			if sinkErr != nil || o.err != nil || ctx.Err() != nil {
				continue // unfinished or abandoned site
			}

			e.report.merge(o.report)
			for _, res := range o.results {
				if ctx.Err() != nil {
					break
				}
				if err := e.emit(ctx, res); err != nil {
					sinkErr = err
					cancel()
					break
				}
			}
		}
	}

	e.report.merge(enumerated)

	switch {
	case sinkErr != nil:
		return sinkErr
	case enumErr != nil:
		return enumErr
	default:
		return ctx.Err()
	}
}

// emitter forwards results to the sink and counts what was accepted.
type emitter struct {
	sink     Sink
	report   *Report
	observer Observer
	emitted  int64
}

// emit hands a result to the sink. The sink call is not interrupted by
// cancellation so a result is either fully emitted or not at all.
func (e *emitter) emit(ctx context.Context, res *spectrum.InterferenceResult) error {
	if err := e.sink.Emit(context.WithoutCancel(ctx), res); err != nil {
		committed := e.emitted
		if c, ok := e.sink.(Committer); ok {
			committed = c.Committed()
		}
		return &SinkError{Committed: committed, Err: err}
	}

	e.emitted++
	e.report.Results++
	if res.Flagged() {
		e.report.Flagged++
	}
	e.observer.Result(res)

	return nil
}
