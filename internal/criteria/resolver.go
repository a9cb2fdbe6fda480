package criteria

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

const (
	// DefaultRecordCapacity is the default size of the base record cache.
	DefaultRecordCapacity = 100

	// DefaultCurveCapacity is the default size of the curve cache. Consecutive
	// channel pairs on the same link reuse the same key, so it can stay small.
	DefaultCurveCapacity = 8
)

var (
	// ErrProtectionCriteriaNotFound is returned when no criteria exist for a key.
	ErrProtectionCriteriaNotFound = errors.New("protection criteria not found")

	// ErrMalformedCriteria is returned when a stored curve fails validation.
	ErrMalformedCriteria = errors.New("malformed protection criteria")
)

// Loader loads protection criteria from the input dataset. A nil result with
// a nil error means the key is unknown. Returned values are not modified.
type Loader interface {
	LoadCriteriaRecord(ctx context.Context, key spectrum.CriteriaKey) (*spectrum.CriteriaRecord, error)
	LoadCriteriaCurve(ctx context.Context, key spectrum.CriteriaKey) (*spectrum.CriteriaCurve, error)
}

// Stats is a snapshot of the two cache tiers.
type Stats struct {
	RecordHits   uint64
	RecordMisses uint64
	CurveHits    uint64
	CurveMisses  uint64
}

// WithLogger sets the logger for the resolver
func WithLogger(logger *slog.Logger) func(r *Resolver) {
	return func(r *Resolver) {
		r.logger = logger.With(slog.String("component", "criteria"))
	}
}

// WithRecordCapacity sets the size of the base record cache
func WithRecordCapacity(capacity int) func(r *Resolver) {
	return func(r *Resolver) {
		r.recordCapacity = capacity
	}
}

// WithCurveCapacity sets the size of the curve cache
func WithCurveCapacity(capacity int) func(r *Resolver) {
	return func(r *Resolver) {
		r.curveCapacity = capacity
	}
}

// curveEntry is a cached curve lookup. Unknown and malformed curves are
// cached with their error so the dataset is asked only once per key.
type curveEntry struct {
	curve *spectrum.CriteriaCurve
	err   error
}

// Resolver returns the required C/I for a transmitter traffic code, receiver
// traffic code and receiver equipment code at a given frequency separation.
// Base records and curves live in two bounded LRU caches. A cached nil record
// or a curve entry with an error records a failed key. It is safe for
// concurrent use.
type Resolver struct {
	loader Loader

	recordCapacity int
	curveCapacity  int

	records *lru.Cache[spectrum.CriteriaKey, *spectrum.CriteriaRecord]
	curves  *lru.Cache[spectrum.CriteriaKey, curveEntry]

	recordHits   atomic.Uint64
	recordMisses atomic.Uint64
	curveHits    atomic.Uint64
	curveMisses  atomic.Uint64

	logger *slog.Logger
}

// NewResolver creates a new Resolver with default cache capacities and a discard logger
func NewResolver(loader Loader, options ...func(r *Resolver)) (*Resolver, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	r := Resolver{
		loader:         loader,
		recordCapacity: DefaultRecordCapacity,
		curveCapacity:  DefaultCurveCapacity,
		logger:         logger,
	}

	for _, option := range options {
		option(&r)
	}

	var err error
	if r.records, err = lru.New[spectrum.CriteriaKey, *spectrum.CriteriaRecord](r.recordCapacity); err != nil {
		return nil, fmt.Errorf("creating record cache: %w", err)
	}
	if r.curves, err = lru.New[spectrum.CriteriaKey, curveEntry](r.curveCapacity); err != nil {
		return nil, fmt.Errorf("creating curve cache: %w", err)
	}

	return &r, nil
}

// Resolve returns the required C/I in dB. When the key has no
// frequency-dependent curve the base value is returned for any separation.
func (r *Resolver) Resolve(ctx context.Context, txTraffic, rxTraffic, rxEquipment string, freqSeparation float64) (float64, error) {
	key := spectrum.CriteriaKey{TxTraffic: txTraffic, RxTraffic: rxTraffic, RxEquipment: rxEquipment}

	record, err := r.record(ctx, key)
	if err != nil {
		return 0, err
	}
	if !record.HasCurve {
		return record.RequiredCI, nil
	}

	curve, err := r.curve(ctx, key)
	if err != nil {
		return 0, err
	}
	return curve.Value(freqSeparation), nil
}

func (r *Resolver) record(ctx context.Context, key spectrum.CriteriaKey) (*spectrum.CriteriaRecord, error) {
	record, ok := r.records.Get(key)
	if ok {
		r.recordHits.Add(1)
	} else {
		r.recordMisses.Add(1)

		var err error
		if record, err = r.loader.LoadCriteriaRecord(ctx, key); err != nil {
			return nil, fmt.Errorf("loading protection criteria %s: %w", key, err)
		}
		if record == nil {
			r.logger.Warn("protection criteria not found", slog.String("key", key.String()))
		}
		r.records.Add(key, record)
	}

	if record == nil {
		return nil, fmt.Errorf("%w: %s", ErrProtectionCriteriaNotFound, key)
	}
	return record, nil
}

func (r *Resolver) curve(ctx context.Context, key spectrum.CriteriaKey) (*spectrum.CriteriaCurve, error) {
	e, ok := r.curves.Get(key)
	if ok {
		r.curveHits.Add(1)
	} else {
		r.curveMisses.Add(1)

		var err error
		if e, err = r.loadCurve(ctx, key); err != nil {
			return nil, err
		}
		r.curves.Add(key, e)
	}

	return e.curve, e.err
}

func (r *Resolver) loadCurve(ctx context.Context, key spectrum.CriteriaKey) (curveEntry, error) {
	curve, err := r.loader.LoadCriteriaCurve(ctx, key)
	if err != nil {
		return curveEntry{}, fmt.Errorf("loading protection criteria curve %s: %w", key, err)
	}
	if curve == nil {
		r.logger.Warn("protection criteria curve not found", slog.String("key", key.String()))
		return curveEntry{err: fmt.Errorf("%w: curve %s", ErrProtectionCriteriaNotFound, key)}, nil
	}

	prepared := *curve
	if err = prepared.Validate(); err != nil {
		r.logger.Warn("malformed protection criteria curve", slog.String("key", key.String()), slog.Any("error", err))
		return curveEntry{err: fmt.Errorf("%w: %w", ErrMalformedCriteria, err)}, nil
	}
	return curveEntry{curve: &prepared}, nil
}

// Stats returns a snapshot of the cache counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		RecordHits:   r.recordHits.Load(),
		RecordMisses: r.recordMisses.Load(),
		CurveHits:    r.curveHits.Load(),
		CurveMisses:  r.curveMisses.Load(),
	}
}
