package antenna

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

var (
	// ErrDiscriminationNotFound is returned when no pattern exists for a pattern code.
	ErrDiscriminationNotFound = errors.New("antenna pattern not found")

	// ErrMalformedPattern is returned when a stored pattern fails validation.
	ErrMalformedPattern = errors.New("malformed antenna pattern")
)

// Loader loads antenna patterns from the input dataset. A nil pattern with a
// nil error means the code is unknown. Returned values are not modified.
type Loader interface {
	LoadAntennaPattern(ctx context.Context, code string) (*spectrum.AntennaPattern, error)
}

// Stats is a snapshot of the resolver cache counters.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// entry is a cached lookup outcome. Unknown and malformed codes are cached
// with their error so the dataset is asked only once per code.
type entry struct {
	pattern *spectrum.AntennaPattern
	err     error
}

// WithLogger sets the logger for the resolver
func WithLogger(logger *slog.Logger) func(r *Resolver) {
	return func(r *Resolver) {
		r.logger = logger.With(slog.String("component", "antenna"))
	}
}

// Resolver returns interpolated antenna discrimination values. Patterns are
// loaded on first use and kept for the lifetime of the resolver, which is
// meant to be one run. It is safe for concurrent use.
type Resolver struct {
	loader Loader

	mu       sync.RWMutex
	patterns map[string]entry

	hits   atomic.Uint64
	misses atomic.Uint64

	logger *slog.Logger
}

// NewResolver creates a new Resolver with a discard logger
func NewResolver(loader Loader, options ...func(r *Resolver)) *Resolver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	r := Resolver{
		loader:   loader,
		patterns: make(map[string]entry),
		logger:   logger,
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Pattern returns the validated pattern for code, loading it on a cache miss.
// Dataset I/O errors are returned as is and are not cached.
func (r *Resolver) Pattern(ctx context.Context, code string) (*spectrum.AntennaPattern, error) {
	r.mu.RLock()
	e, ok := r.patterns[code]
	r.mu.RUnlock()

	if ok {
		r.hits.Add(1)
		return e.pattern, e.err
	}

	r.misses.Add(1)

	e, err := r.load(ctx, code)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.patterns[code]; ok {
		e = existing // another worker loaded it first
	} else {
		r.patterns[code] = e
	}
	r.mu.Unlock()

	return e.pattern, e.err
}

func (r *Resolver) load(ctx context.Context, code string) (entry, error) {
	if code == "" {
		return entry{err: fmt.Errorf("%w: empty pattern code", ErrDiscriminationNotFound)}, nil
	}

	pattern, err := r.loader.LoadAntennaPattern(ctx, code)
	if err != nil {
		return entry{}, fmt.Errorf("loading antenna pattern %s: %w", code, err)
	}
	if pattern == nil {
		r.logger.Warn("antenna pattern not found", slog.String("code", code))
		return entry{err: fmt.Errorf("%w: %s", ErrDiscriminationNotFound, code)}, nil
	}
	prepared := *pattern
	if err = prepared.Validate(); err != nil {
		r.logger.Warn("malformed antenna pattern", slog.String("code", code), slog.Any("error", err))
		return entry{err: fmt.Errorf("%w: %w", ErrMalformedPattern, err)}, nil
	}

	return entry{pattern: &prepared}, nil
}

// Resolve returns the discrimination in dB of the pattern at the given
// off-axis angle, for the given feed polarization and co/cross-polar column.
func (r *Resolver) Resolve(ctx context.Context, code string, offAxis float64, pol spectrum.Polarization, coPolar bool) (float64, error) {
	pattern, err := r.Pattern(ctx, code)
	if err != nil {
		return 0, err
	}
	return pattern.Value(offAxis, pol, coPolar)
}

// ResolveAll returns all four discrimination values of the pattern at the
// given off-axis angle.
func (r *Resolver) ResolveAll(ctx context.Context, code string, offAxis float64) (Discrimination, error) {
	pattern, err := r.Pattern(ctx, code)
	if err != nil {
		return Discrimination{}, err
	}

	var d Discrimination
	for _, v := range []struct {
		dst     *float64
		pol     spectrum.Polarization
		coPolar bool
	}{
		{&d.HorizontalCo, spectrum.PolarizationHorizontal, true},
		{&d.HorizontalCross, spectrum.PolarizationHorizontal, false},
		{&d.VerticalCo, spectrum.PolarizationVertical, true},
		{&d.VerticalCross, spectrum.PolarizationVertical, false},
	} {
		if *v.dst, err = pattern.Value(offAxis, v.pol, v.coPolar); err != nil {
			return Discrimination{}, err
		}
	}

	return d, nil
}

// Stats returns a snapshot of the cache counters.
func (r *Resolver) Stats() Stats {
	r.mu.RLock()
	entries := len(r.patterns)
	r.mu.RUnlock()

	return Stats{
		Hits:    r.hits.Load(),
		Misses:  r.misses.Load(),
		Entries: entries,
	}
}

// Discrimination holds the four discrimination values of an antenna toward
// one target direction, in dB.
type Discrimination struct {
	HorizontalCo    float64
	HorizontalCross float64
	VerticalCo      float64
	VerticalCross   float64
}

// Select returns the value for the given feed polarization and column.
func (d Discrimination) Select(pol spectrum.Polarization, coPolar bool) float64 {
	switch {
	case pol == spectrum.PolarizationVertical && coPolar:
		return d.VerticalCo
	case pol == spectrum.PolarizationVertical:
		return d.VerticalCross
	case coPolar:
		return d.HorizontalCo
	default:
		return d.HorizontalCross
	}
}
