package coordination

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/roman-kulish/radio-coordination/internal/geometry"
	"github.com/roman-kulish/radio-coordination/internal/pathloss"
	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

var (
	siteP = geometry.Coordinates{Latitude: 45.0000, Longitude: -75.0000}
	siteV = geometry.Coordinates{Latitude: 45.0010, Longitude: -75.0500}
)

func scenarioParams() Params {
	return Params{
		CoordinationDistanceKm:    50,
		MaxFrequencySeparationMHz: 0.1,
	}
}

// scenarioDataset is one proposed site P and one existing site V, 6G, flat
// patterns, P transmitting on 6000.000 MHz and V receiving on 6000.010 MHz.
func scenarioDataset() *memDataset {
	return newDataset().
		add(spectrum.UniverseProposed, newSite("VA3PRP", siteP, "VA3PRR", "6G",
			geometry.Bearing(siteP, siteV), channel(6000.000, 6500))).
		add(spectrum.UniverseExisting, newSite("VA3EXV", siteV, "VA3EXR", "6G",
			geometry.Bearing(siteV, siteP), channel(6700, 6000.010)))
}

func runPipeline(t *testing.T, d Dataset, params Params, options ...func(p *Pipeline)) (*memSink, *Report) {
	t.Helper()

	p, err := NewPipeline(d, params, options...)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	sink := &memSink{}
	report, err := p.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("Failed to run pipeline: %v", err)
	}
	return sink, report
}

func TestPipeline_EndToEnd(t *testing.T) {
	sink, report := runPipeline(t, scenarioDataset(), scenarioParams())

	if len(sink.results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(sink.results))
	}

	r := sink.results[0]
	d := geometry.Distance(siteP, siteV)
	fsl := pathloss.FreeSpaceLoss(d, 6000)
	ci := CalculatedCI(-40, EIRP(30, 40, 0), fsl, 0, 40)
	want := Margin(ci, 10)

	if r.Margin != want {
		t.Errorf("expected margin %v, got %v", want, r.Margin)
	}
	if r.PathLoss != fsl || r.CalculatedCI != ci || r.RequiredCI != 10 {
		t.Errorf("unexpected scoring: %+v", r)
	}
	if r.Direction != spectrum.DirectionOutbound {
		t.Errorf("expected outbound result, got %s", r.Direction)
	}
	if r.Interferer.CallSign != "VA3PRP" || r.Victim.CallSign != "VA3EXV" {
		t.Errorf("unexpected pair identity: %+v / %+v", r.Interferer, r.Victim)
	}
	if r.TxFrequency != 6000 || r.RxFrequency != 6000.010 {
		t.Errorf("unexpected frequencies: %v / %v", r.TxFrequency, r.RxFrequency)
	}
	if r.Flagged() != (want < 0) {
		t.Errorf("expected flagged %v", want < 0)
	}
	if r.PathLoss80 != nil || r.Margin80 != nil {
		t.Error("expected no over-horizon values for line of sight")
	}

	if report.Sites != 1 || report.Links != 1 || report.VictimSites != 1 || report.VictimLinks != 1 {
		t.Errorf("unexpected stage counters: %+v", report)
	}
	if report.AntennaPairs != 1 || report.ChannelPairs != 1 || report.Results != 1 {
		t.Errorf("unexpected pair counters: %+v", report)
	}

	// Repeated runs reproduce the result bit for bit.
	for i := 0; i < 3; i++ {
		again, _ := runPipeline(t, scenarioDataset(), scenarioParams())
		if !reflect.DeepEqual(again.results, sink.results) {
			t.Fatalf("run %d: results differ: %+v vs %+v", i, again.results[0], sink.results[0])
		}
	}
}

func TestPipeline_ShortCircuit(t *testing.T) {
	d := newDataset().
		add(spectrum.UniverseProposed, newSite("VA3PRP", siteP, "VA3PRR", "38G", 0, channel(38000, 38500))).
		add(spectrum.UniverseExisting,
			newSite("VA3EXV", siteV, "VA3EXR", "6G", 0, channel(6700, 6000)),
			newSite("VA3EXW", siteV, "VA3EXS", "11G", 0, channel(11000, 11500)),
		)

	params := scenarioParams()
	params.MaxFrequencySeparationMHz = 1e6

	sink, report := runPipeline(t, d, params)

	if len(sink.results) != 0 {
		t.Errorf("expected no results, got %d", len(sink.results))
	}
	if report.VictimSites != 0 || report.AntennaPairs != 0 || report.ChannelPairs != 0 {
		t.Errorf("expected no pair work, got %+v", report)
	}
	if calls := d.patternCalls.Load(); calls != 0 {
		t.Errorf("expected no pattern lookups, got %d", calls)
	}
}

func TestPipeline_BandAdjacency(t *testing.T) {
	d := newDataset().
		add(spectrum.UniverseProposed, newSite("VA3PRP", siteP, "VA3PRR", "L6G", 0, channel(6000, 6500))).
		add(spectrum.UniverseExisting, newSite("VA3EXV", siteV, "VA3EXR", "6G", 0, channel(6700, 6000.05)))

	params := scenarioParams()
	sink, _ := runPipeline(t, d, params)
	if len(sink.results) != 0 {
		t.Fatalf("expected no results without adjacency, got %d", len(sink.results))
	}

	params.BandAdjacency = spectrum.BandPlan{"6G": {"L6G"}}
	sink, _ = runPipeline(t, d, params)
	if len(sink.results) != 1 {
		t.Errorf("expected 1 result with adjacency, got %d", len(sink.results))
	}
}

func TestPipeline_KeyholeExtension(t *testing.T) {
	east := offset(siteP, 75, true)
	north := offset(siteP, 75, false)

	existing := []*spectrum.Site{
		newSite("VA3EAST", east, "VA3EXR", "6G", 270, channel(6700, 6000)),
		newSite("VA3NRTH", north, "VA3EXS", "6G", 180, channel(6700, 6000)),
	}

	testCases := []struct {
		name    string
		azimuth float64
		want    []string
	}{
		{"pointing east", geometry.Bearing(siteP, east), []string{"VA3EAST"}},
		{"pointing north", geometry.Bearing(siteP, north), []string{"VA3NRTH"}},
		{"pointing west", 270, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := newDataset().
				add(spectrum.UniverseProposed, newSite("VA3PRP", siteP, "VA3PRR", "6G", tc.azimuth, channel(6000, 6500))).
				add(spectrum.UniverseExisting, existing...)

			sink, report := runPipeline(t, d, scenarioParams())

			var got []string
			for _, r := range sink.results {
				got = append(got, r.Victim.CallSign)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("expected victims %v, got %v", tc.want, got)
			}
			if report.VictimSites != int64(len(tc.want)) {
				t.Errorf("expected %d victim sites, got %d", len(tc.want), report.VictimSites)
			}
		})
	}
}

func TestPipeline_SameHopRejected(t *testing.T) {
	d := scenarioDataset()
	d.add(spectrum.UniverseExisting,
		// The proposed hop as already licensed, and its far end.
		newSite("VA3PRP", siteP, "VA3PRR", "6G", 0, channel(6500, 6000)),
		newSite("VA3PRR", offset(siteP, 20, false), "VA3PRP", "6G", 180, channel(6500, 6000)),
	)

	sink, report := runPipeline(t, d, scenarioParams())

	if len(sink.results) != 1 || sink.results[0].Victim.CallSign != "VA3EXV" {
		t.Errorf("expected only the VA3EXV result, got %d results", len(sink.results))
	}
	if report.VictimSites != 3 || report.VictimLinks != 1 {
		t.Errorf("expected 3 victim sites and 1 victim link, got %d and %d", report.VictimSites, report.VictimLinks)
	}
}

func TestPipeline_Selections(t *testing.T) {
	d := newDataset().
		add(spectrum.UniverseProposed, newSite("VA3PRP", siteP, "VA3PRR", "6G", 0, channel(6000, 6100))).
		add(spectrum.UniverseExisting, newSite("VA3EXV", siteV, "VA3EXR", "6G", 0, channel(6100, 6000)))

	cross := d.sites[spectrum.UniverseExisting][0]
	cross.Channels[0].Polarization = spectrum.PolarizationVertical

	testCases := []struct {
		name         string
		direction    DirectionSelection
		polarization PolarizationSelection
		want         []spectrum.Direction
	}{
		{"both directions", DirectionBoth, PolarizationAll, []spectrum.Direction{spectrum.DirectionOutbound, spectrum.DirectionInbound}},
		{"outbound only", DirectionOutbound, PolarizationAll, []spectrum.Direction{spectrum.DirectionOutbound}},
		{"inbound only", DirectionInbound, PolarizationAll, []spectrum.Direction{spectrum.DirectionInbound}},
		{"co-polar only", DirectionBoth, PolarizationCoPolar, nil},
		{"cross-polar only", DirectionBoth, PolarizationCrossPolar, []spectrum.Direction{spectrum.DirectionOutbound, spectrum.DirectionInbound}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			params := scenarioParams()
			params.Direction = tc.direction
			params.Polarization = tc.polarization

			sink, _ := runPipeline(t, d, params)

			var got []spectrum.Direction
			for _, r := range sink.results {
				got = append(got, r.Direction)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestPipeline_CrossPolarDiscrimination(t *testing.T) {
	d := scenarioDataset()
	d.sites[spectrum.UniverseProposed][0].Antennas[0].PatternCode = "SHARP"
	d.sites[spectrum.UniverseExisting][0].Channels[0].Polarization = spectrum.PolarizationVertical

	sink, _ := runPipeline(t, d, scenarioParams())
	if len(sink.results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(sink.results))
	}

	r := sink.results[0]
	// Near boresight the H cross-polar column of SHARP is just above 30 dB.
	if r.Interferer.Discrimination < 30 || r.Interferer.Discrimination > 30.1 {
		t.Errorf("expected cross-polar discrimination near 30 dB, got %v", r.Interferer.Discrimination)
	}
	if r.Victim.Discrimination != 0 {
		t.Errorf("expected flat victim discrimination, got %v", r.Victim.Discrimination)
	}
}

func TestPipeline_LookupMisses(t *testing.T) {
	t.Run("criteria not found", func(t *testing.T) {
		d := scenarioDataset()
		d.sites[spectrum.UniverseExisting][0].Channels[0].EquipmentCode = "RX404"

		sink, report := runPipeline(t, d, scenarioParams())
		if len(sink.results) != 0 {
			t.Errorf("expected no results, got %d", len(sink.results))
		}
		if report.Skipped[SkipCriteriaNotFound] != 1 {
			t.Errorf("expected 1 criteria skip, got %v", report.Skipped)
		}
	})

	t.Run("pattern not found skipped", func(t *testing.T) {
		d := scenarioDataset()
		d.sites[spectrum.UniverseExisting][0].Antennas[0].PatternCode = "NOPE"

		sink, report := runPipeline(t, d, scenarioParams())
		if len(sink.results) != 0 {
			t.Errorf("expected no results, got %d", len(sink.results))
		}
		if report.Skipped[SkipPatternNotFound] != 1 || report.AntennaPairs != 0 {
			t.Errorf("expected 1 pattern skip and no antenna pairs, got %+v", report)
		}
	})

	t.Run("pattern not found as zero", func(t *testing.T) {
		d := scenarioDataset()
		d.sites[spectrum.UniverseExisting][0].Antennas[0].PatternCode = "NOPE"

		params := scenarioParams()
		params.MissingPattern = MissingPatternZero

		sink, _ := runPipeline(t, d, params)
		if len(sink.results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(sink.results))
		}
		if sink.results[0].Victim.Discrimination != 0 {
			t.Errorf("expected zero discrimination, got %v", sink.results[0].Victim.Discrimination)
		}
	})

	t.Run("proposed site load failure", func(t *testing.T) {
		d := scenarioDataset()
		d.add(spectrum.UniverseProposed, newSite("VA3AAA", siteP, "VA3AAR", "6G", 0, channel(6000, 6500)))
		d.loadErr["VA3AAA"] = errors.New("corrupt row")

		sink, report := runPipeline(t, d, scenarioParams())
		if len(sink.results) != 1 {
			t.Errorf("expected sibling site to be processed, got %d results", len(sink.results))
		}
		if report.SitesFailed != 1 || report.Sites != 1 {
			t.Errorf("expected 1 failed and 1 loaded site, got %+v", report)
		}
	})

	t.Run("malformed channel", func(t *testing.T) {
		testCases := []struct {
			name   string
			mutate func(tx, rx *spectrum.Channel)
		}{
			{"polarization", func(_, rx *spectrum.Channel) { rx.Polarization = "X" }},
			{"zero tx frequency", func(tx, rx *spectrum.Channel) { tx.TxFrequency = 0; rx.RxFrequency = 0.05 }},
			{"negative rx frequency", func(tx, rx *spectrum.Channel) { tx.TxFrequency = -0.05; rx.RxFrequency = -0.01 }},
			{"infinite tx frequency", func(tx, _ *spectrum.Channel) { tx.TxFrequency = math.Inf(1) }},
			{"nan rx frequency", func(_, rx *spectrum.Channel) { rx.RxFrequency = math.NaN() }},
			{"infinite tx power", func(tx, _ *spectrum.Channel) { tx.TxPower = math.Inf(1) }},
			{"nan signal level", func(_, rx *spectrum.Channel) { rx.RxSignalLevel = math.NaN() }},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				d := scenarioDataset()
				tc.mutate(&d.sites[spectrum.UniverseProposed][0].Channels[0], &d.sites[spectrum.UniverseExisting][0].Channels[0])

				sink, report := runPipeline(t, d, scenarioParams())
				if len(sink.results) != 0 {
					t.Errorf("expected no results, got %+v", sink.results[0])
				}
				if report.Skipped[SkipMalformedChannel] == 0 {
					t.Errorf("expected malformed channel skip, got %v", report.Skipped)
				}
			})
		}

		if !errors.Is(SkipMalformedChannel.Class(), ErrMalformedInput) {
			t.Error("expected malformed channel to classify as malformed input")
		}
	})
}

type fakeProvider struct {
	resp pathloss.Response
}

func (p *fakeProvider) ComputeOrLookup(context.Context, pathloss.Request) (pathloss.Response, error) {
	return p.resp, nil
}

func TestPipeline_OverHorizon(t *testing.T) {
	params := scenarioParams()
	params.PathLossModel = pathloss.ModelOverHorizon

	provider := &fakeProvider{resp: pathloss.Response{Loss80: 6, Loss99: 2, Status: 35}}
	sink, _ := runPipeline(t, scenarioDataset(), params, WithProvider(provider))

	if len(sink.results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(sink.results))
	}

	r := sink.results[0]
	if r.Status != 35 || r.PathLoss80 == nil || r.Margin80 == nil || r.Margin99 == nil {
		t.Fatalf("expected over-horizon values, got %+v", r)
	}
	if math.Abs(*r.Margin80-*r.Margin99-4) > 1e-9 {
		t.Errorf("expected 80%% margin 4 dB above 99%% margin, got %v and %v", *r.Margin80, *r.Margin99)
	}
	if r.Margin != *r.Margin99 {
		t.Errorf("expected primary margin to use the smaller loss, got %v vs %v", r.Margin, *r.Margin99)
	}

	if _, err := NewPipeline(scenarioDataset(), params); err == nil {
		t.Error("expected error without provider")
	}
}

// parallelDataset has several proposed sites, each with results against
// several victims.
func parallelDataset() *memDataset {
	d := newDataset()
	for i := 0; i < 12; i++ {
		at := offset(siteP, float64(i), false)
		d.add(spectrum.UniverseProposed, newSite(fmt.Sprintf("VA3P%02d", i), at, fmt.Sprintf("VA3R%02d", i), "6G", float64(i*30),
			channel(6000+float64(i)*0.01, 6500), channel(6100, 6500)))
	}
	for i := 0; i < 5; i++ {
		at := offset(siteV, float64(i*2), true)
		d.add(spectrum.UniverseExisting, newSite(fmt.Sprintf("VA3E%02d", i), at, fmt.Sprintf("VA3X%02d", i), "6G", float64(i*45),
			channel(6700, 6000.05), channel(6700, 6100.02)))
	}
	return d
}

func TestPipeline_ParallelDeterminism(t *testing.T) {
	sequential, seqReport := runPipeline(t, parallelDataset(), scenarioParams())
	if len(sequential.results) == 0 {
		t.Fatal("expected results")
	}

	params := scenarioParams()
	params.Workers = 4

	for i := 0; i < 3; i++ {
		parallel, parReport := runPipeline(t, parallelDataset(), params)
		if !reflect.DeepEqual(parallel.results, sequential.results) {
			t.Fatalf("run %d: parallel results differ from sequential (%d vs %d)", i, len(parallel.results), len(sequential.results))
		}

		// Concurrent misses on the same key make cache counters vary.
		parReport.AntennaCache = seqReport.AntennaCache
		parReport.CriteriaCache = seqReport.CriteriaCache
		if !reflect.DeepEqual(parReport, seqReport) {
			t.Errorf("run %d: reports differ: %+v vs %+v", i, parReport, seqReport)
		}
	}
}

func TestPipeline_Cancellation(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			params := scenarioParams()
			params.Workers = workers

			p, err := NewPipeline(parallelDataset(), params)
			if err != nil {
				t.Fatalf("Failed to create pipeline: %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sink := &memSink{onEmit: func(int) { cancel() }}
			report, err := p.Run(ctx, sink)

			if !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
			if len(sink.results) != 1 || report.Results != 1 {
				t.Errorf("expected exactly 1 emitted result, got %d (report %d)", len(sink.results), report.Results)
			}
		})
	}
}

func TestPipeline_SinkError(t *testing.T) {
	testCases := []struct {
		name        string
		failAt      int
		wantPartial bool
	}{
		{"no results produced", 0, false},
		{"partial results committed", 3, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewPipeline(parallelDataset(), scenarioParams())
			if err != nil {
				t.Fatalf("Failed to create pipeline: %v", err)
			}

			sink := &memSink{failAt: tc.failAt, err: errDiskFull}
			_, err = p.Run(context.Background(), sink)

			var sinkErr *SinkError
			if !errors.As(err, &sinkErr) {
				t.Fatalf("expected SinkError, got %v", err)
			}
			if !errors.Is(err, errDiskFull) {
				t.Errorf("expected wrapped sink error, got %v", err)
			}
			if sinkErr.Partial() != tc.wantPartial || sinkErr.Committed != int64(tc.failAt) {
				t.Errorf("expected partial=%v committed=%d, got %v %d", tc.wantPartial, tc.failAt, sinkErr.Partial(), sinkErr.Committed)
			}
			if len(sink.results) != tc.failAt {
				t.Errorf("expected run to stop at the failure, got %d results", len(sink.results))
			}
		})
	}
}

func TestMargin(t *testing.T) {
	testCases := []struct {
		calculated, required, want float64
		flagged                    bool
	}{
		{20, 15, 5, false},
		{10, 15, -5, true},
		{15, 15, 0, false},
	}

	for _, tc := range testCases {
		got := Margin(tc.calculated, tc.required)
		if got != tc.want {
			t.Errorf("Margin(%v, %v): expected %v, got %v", tc.calculated, tc.required, tc.want, got)
		}
		r := spectrum.InterferenceResult{Margin: got}
		if r.Flagged() != tc.flagged {
			t.Errorf("Margin %v: expected flagged %v", got, tc.flagged)
		}
	}
}
