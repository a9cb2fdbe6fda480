package coordination

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/roman-kulish/radio-coordination/internal/geometry"
	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

// memDataset is an in-memory Dataset.
type memDataset struct {
	sites    map[spectrum.Universe][]*spectrum.Site
	patterns map[string]*spectrum.AntennaPattern
	records  map[spectrum.CriteriaKey]*spectrum.CriteriaRecord
	curves   map[spectrum.CriteriaKey]*spectrum.CriteriaCurve
	loadErr  map[string]error

	patternCalls atomic.Int64
	enumerations atomic.Int64
}

func newDataset() *memDataset {
	flat := []spectrum.PatternPoint{{Angle: 0}, {Angle: 180}}
	return &memDataset{
		sites: make(map[spectrum.Universe][]*spectrum.Site),
		patterns: map[string]*spectrum.AntennaPattern{
			"FLAT": {Code: "FLAT", Domain: 180, H: flat, V: flat},
			"SHARP": {
				Code:   "SHARP",
				Domain: 180,
				H:      []spectrum.PatternPoint{{Angle: 0, CrossPolar: 30}, {Angle: 10, CoPolar: 30, CrossPolar: 50}, {Angle: 180, CoPolar: 60, CrossPolar: 70}},
				V:      []spectrum.PatternPoint{{Angle: 0, CrossPolar: 31}, {Angle: 10, CoPolar: 31, CrossPolar: 51}, {Angle: 180, CoPolar: 61, CrossPolar: 71}},
			},
		},
		records: map[spectrum.CriteriaKey]*spectrum.CriteriaRecord{
			{TxTraffic: "64QAM", RxTraffic: "64QAM", RxEquipment: "RX1"}: {RequiredCI: 10},
		},
		curves:  make(map[spectrum.CriteriaKey]*spectrum.CriteriaCurve),
		loadErr: make(map[string]error),
	}
}

func (d *memDataset) add(universe spectrum.Universe, sites ...*spectrum.Site) *memDataset {
	d.sites[universe] = append(d.sites[universe], sites...)
	return d
}

func (d *memDataset) EnumerateSites(_ context.Context, universe spectrum.Universe, filter *spectrum.SiteFilter) (SiteIterator, error) {
	d.enumerations.Add(1)

	var summaries []*spectrum.SiteSummary
	for _, s := range d.sites[universe] {
		if s.Deleted {
			continue
		}
		summary := s.Summary()
		if filter.Match(summary) {
			summaries = append(summaries, summary)
		}
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CallSign < summaries[j].CallSign
	})

	return &sliceIterator{summaries: summaries, pos: -1}, nil
}

func (d *memDataset) LoadSite(_ context.Context, universe spectrum.Universe, callSign string) (*spectrum.Site, error) {
	if err, ok := d.loadErr[callSign]; ok {
		return nil, err
	}
	for _, s := range d.sites[universe] {
		if s.CallSign == callSign {
			return s, nil
		}
	}
	return nil, nil
}

func (d *memDataset) LoadAntennaPattern(_ context.Context, code string) (*spectrum.AntennaPattern, error) {
	d.patternCalls.Add(1)
	p, ok := d.patterns[code]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (d *memDataset) LoadCriteriaRecord(_ context.Context, key spectrum.CriteriaKey) (*spectrum.CriteriaRecord, error) {
	r, ok := d.records[key]
	if !ok {
		return nil, nil
	}
	cp := *r
	cp.Key = key
	return &cp, nil
}

func (d *memDataset) LoadCriteriaCurve(_ context.Context, key spectrum.CriteriaKey) (*spectrum.CriteriaCurve, error) {
	c, ok := d.curves[key]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

type sliceIterator struct {
	summaries []*spectrum.SiteSummary
	pos       int
	err       error
	closed    bool
}

func (it *sliceIterator) Next(ctx context.Context) bool {
	if it.closed {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = err
		return false
	}
	it.pos++
	return it.pos < len(it.summaries)
}

func (it *sliceIterator) Current() *spectrum.SiteSummary {
	return it.summaries[it.pos]
}

func (it *sliceIterator) Error() error {
	return it.err
}

func (it *sliceIterator) Close() error {
	it.closed = true
	return nil
}

// memSink collects results. It fails with err once failAt results were accepted.
type memSink struct {
	mu      sync.Mutex
	results []*spectrum.InterferenceResult
	failAt  int
	err     error
	onEmit  func(n int)
}

func (s *memSink) Emit(_ context.Context, r *spectrum.InterferenceResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil && len(s.results) >= s.failAt {
		return s.err
	}
	s.results = append(s.results, r)
	if s.onEmit != nil {
		s.onEmit(len(s.results))
	}
	return nil
}

var errDiskFull = errors.New("disk full")

// offset returns the point distanceKm away from origin along a cardinal direction.
func offset(origin geometry.Coordinates, distanceKm float64, east bool) geometry.Coordinates {
	kmPerDegree := geometry.EarthRadiusKm * math.Pi / 180
	if east {
		origin.Longitude += distanceKm / (kmPerDegree * math.Cos(origin.Latitude*math.Pi/180))
	} else {
		origin.Latitude += distanceKm / kmPerDegree
	}
	return origin
}

// newSite returns a site with one antenna serving remote on band.
func newSite(callSign string, at geometry.Coordinates, remote, band string, azimuth float64, channels ...spectrum.Channel) *spectrum.Site {
	for i := range channels {
		channels[i].AntennaNumber = 1
		if channels[i].Number == 0 {
			channels[i].Number = i + 1
		}
	}
	return &spectrum.Site{
		CallSign:  callSign,
		Latitude:  at.Latitude,
		Longitude: at.Longitude,
		Operator:  "ACME",
		Antennas: []spectrum.Antenna{{
			Number:         1,
			RemoteCallSign: remote,
			Band:           band,
			PatternCode:    "FLAT",
			Gain:           40,
			Azimuth:        azimuth,
			Height:         30,
		}},
		Channels: channels,
	}
}

// channel returns an H-polarized 64QAM channel.
func channel(tx, rx float64) spectrum.Channel {
	return spectrum.Channel{
		TxFrequency:   tx,
		RxFrequency:   rx,
		TxPower:       30,
		RxSignalLevel: -40,
		Polarization:  spectrum.PolarizationHorizontal,
		TrafficCode:   "64QAM",
		EquipmentCode: "RX1",
	}
}
