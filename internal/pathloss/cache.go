package pathloss

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

// DefaultCacheCapacity is the default number of paths kept by CachedProvider.
const DefaultCacheCapacity = 4096

// cacheKey is a request rounded to 0.01 degree, 1 metre and 0.1 GHz.
type cacheKey struct {
	lat1, lon1, lat2, lon2 int64
	h1, h2                 int64
	freq                   int64
	pol                    spectrum.Polarization
	model                  Model
}

func keyOf(req Request) cacheKey {
	return cacheKey{
		lat1:  round(req.From.Latitude, 100),
		lon1:  round(req.From.Longitude, 100),
		lat2:  round(req.To.Latitude, 100),
		lon2:  round(req.To.Longitude, 100),
		h1:    round(req.HeightFrom, 1),
		h2:    round(req.HeightTo, 1),
		freq:  round(req.FrequencyGHz, 10),
		pol:   req.Polarization,
		model: req.Model,
	}
}

func round(v, scale float64) int64 {
	return int64(math.Round(v * scale))
}

// CacheStats is a snapshot of the provider cache counters.
type CacheStats struct {
	Hits   uint64
	Misses uint64
}

// CachedProvider decorates a Provider with a bounded LRU cache keyed by the
// rounded request. Responses carrying a provider status are cached; Go
// errors from the inner provider are not.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[cacheKey, Response]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachedProvider wraps inner with a cache holding up to capacity paths.
func NewCachedProvider(inner Provider, capacity int) (*CachedProvider, error) {
	cache, err := lru.New[cacheKey, Response](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating path loss cache: %w", err)
	}
	return &CachedProvider{inner: inner, cache: cache}, nil
}

func (p *CachedProvider) ComputeOrLookup(ctx context.Context, req Request) (Response, error) {
	key := keyOf(req)
	if resp, ok := p.cache.Get(key); ok {
		p.hits.Add(1)
		return resp, nil
	}

	p.misses.Add(1)

	resp, err := p.inner.ComputeOrLookup(ctx, req)
	if err != nil {
		return Response{}, err
	}

	p.cache.Add(key, resp)
	return resp, nil
}

// Stats returns a snapshot of the cache counters.
func (p *CachedProvider) Stats() CacheStats {
	return CacheStats{Hits: p.hits.Load(), Misses: p.misses.Load()}
}
