package coordination

import (
	"maps"
	"slices"

	"github.com/roman-kulish/radio-coordination/internal/antenna"
	"github.com/roman-kulish/radio-coordination/internal/criteria"
)

// Report summarises a run.
type Report struct {
	Sites        int64 // Proposed sites loaded
	SitesFailed  int64 // Proposed sites that could not be loaded
	Links        int64 // Proposed links
	VictimSites  int64 // Victim sites past the rough cull
	VictimLinks  int64 // Victim links past band adjacency and topology checks
	AntennaPairs int64
	ChannelPairs int64 // Channel pairs past the frequency separation cull
	Results      int64
	Flagged      int64

	Skipped map[SkipReason]int64

	AntennaCache  antenna.Stats
	CriteriaCache criteria.Stats
}

func newReport() *Report {
	return &Report{Skipped: make(map[SkipReason]int64)}
}

func (r *Report) skip(reason SkipReason) {
	r.Skipped[reason]++
}

// TotalSkipped returns the number of skipped items across all reasons.
func (r *Report) TotalSkipped() int64 {
	var n int64
	for _, v := range r.Skipped {
		n += v
	}
	return n
}

// SkipReasons returns the reasons with at least one skip, sorted.
func (r *Report) SkipReasons() []SkipReason {
	return slices.Sorted(maps.Keys(r.Skipped))
}

// merge adds the counters of o to r. Cache stats are not merged.
func (r *Report) merge(o *Report) {
	r.Sites += o.Sites
	r.SitesFailed += o.SitesFailed
	r.Links += o.Links
	r.VictimSites += o.VictimSites
	r.VictimLinks += o.VictimLinks
	r.AntennaPairs += o.AntennaPairs
	r.ChannelPairs += o.ChannelPairs
	r.Results += o.Results
	r.Flagged += o.Flagged

	for k, v := range o.Skipped {
		r.Skipped[k] += v
	}
}
