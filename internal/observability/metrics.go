package observability

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roman-kulish/radio-coordination/internal/coordination"
	"github.com/roman-kulish/radio-coordination/internal/pathloss"
	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

const (
	VerdictFlagged = "flagged"
	VerdictClear   = "clear"
)

// PipelineCollector bundles Prometheus metrics of coordination runs. It
// implements coordination.Observer and is safe for concurrent use.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	StageItems   *prometheus.CounterVec
	Skips        *prometheus.CounterVec
	Results      *prometheus.CounterVec
	RunDurations prometheus.Histogram
	CacheHits    *prometheus.GaugeVec
	CacheMisses  *prometheus.GaugeVec
}

// NewPipelineCollector registers the pipeline metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	stageItems, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordination_stage_items_total",
		Help: "Items produced by each pipeline stage.",
	}, []string{"stage"}), "coordination_stage_items_total")
	if err != nil {
		return nil, err
	}

	skipped, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordination_skipped_total",
		Help: "Items dropped from the pipeline, labeled by reason and error class.",
	}, []string{"reason", "class"}), "coordination_skipped_total")
	if err != nil {
		return nil, err
	}

	results, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordination_results_total",
		Help: "Scored channel pairs emitted, labeled by direction and verdict.",
	}, []string{"direction", "verdict"}), "coordination_results_total")
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coordination_run_duration_seconds",
		Help:    "Wall time of coordination runs in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800, 3600},
	}), "coordination_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	hits, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coordination_cache_hits",
		Help: "Cache hits of the last finished run, labeled by cache.",
	}, []string{"cache"}), "coordination_cache_hits")
	if err != nil {
		return nil, err
	}

	misses, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coordination_cache_misses",
		Help: "Cache misses of the last finished run, labeled by cache.",
	}, []string{"cache"}), "coordination_cache_misses")
	if err != nil {
		return nil, err
	}

	return &PipelineCollector{
		gatherer:     gatherer,
		StageItems:   stageItems,
		Skips:        skipped,
		Results:      results,
		RunDurations: durations,
		CacheHits:    hits,
		CacheMisses:  misses,
	}, nil
}

// StageItem counts an item produced by a stage.
func (c *PipelineCollector) StageItem(stage coordination.Stage) {
	c.StageItems.WithLabelValues(stage.String()).Inc()
}

// Skipped counts a dropped item.
func (c *PipelineCollector) Skipped(reason coordination.SkipReason) {
	c.Skips.WithLabelValues(reason.String(), reason.Class().Error()).Inc()
}

// Result counts an emitted result.
func (c *PipelineCollector) Result(r *spectrum.InterferenceResult) {
	verdict := VerdictClear
	if r.Flagged() {
		verdict = VerdictFlagged
	}
	c.Results.WithLabelValues(r.Direction.String(), verdict).Inc()
}

// RunFinished records the run duration and the cache counters of the run.
func (c *PipelineCollector) RunFinished(report *coordination.Report, elapsed time.Duration) {
	c.RunDurations.Observe(elapsed.Seconds())

	c.setCache("antenna", report.AntennaCache.Hits, report.AntennaCache.Misses)
	c.setCache("criteria_record", report.CriteriaCache.RecordHits, report.CriteriaCache.RecordMisses)
	c.setCache("criteria_curve", report.CriteriaCache.CurveHits, report.CriteriaCache.CurveMisses)
}

// SetPathLossCache records the counters of the over-horizon result cache.
func (c *PipelineCollector) SetPathLossCache(stats pathloss.CacheStats) {
	c.setCache("path_loss", stats.Hits, stats.Misses)
}

func (c *PipelineCollector) setCache(name string, hits, misses uint64) {
	c.CacheHits.WithLabelValues(name).Set(float64(hits))
	c.CacheMisses.WithLabelValues(name).Set(float64(misses))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PipelineCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// register adds the collector to reg, returning the collector already
// registered under the same descriptor when there is one.
func register[T prometheus.Collector](reg prometheus.Registerer, collector T, name string) (T, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return collector, nil
}

var _ coordination.Observer = (*PipelineCollector)(nil)
