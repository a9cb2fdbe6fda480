package coordination

import (
	"context"
	"time"

	"github.com/roman-kulish/radio-coordination/internal/antenna"
	"github.com/roman-kulish/radio-coordination/internal/criteria"
	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

// SiteIterator walks site summaries produced by a Dataset.
//
// Usage:
//
//	for it.Next(ctx) {
//		summary := it.Current()
//	}
//	if err := it.Error(); err != nil {
//		...
//	}
//	it.Close()
type SiteIterator interface {
	// Next advances to the next site. It returns false when the sites are
	// exhausted, the context is done or an error occurred.
	Next(ctx context.Context) bool

	// Current returns the site the iterator is positioned on.
	Current() *spectrum.SiteSummary

	// Error returns the error that stopped iteration, if any.
	Error() error

	// Close releases the resources held by the iterator.
	Close() error
}

// Dataset is the read-only input of a coordination run.
type Dataset interface {
	// EnumerateSites returns the non-deleted sites of a universe that match
	// filter, ordered by call sign. A nil filter matches every site.
	EnumerateSites(ctx context.Context, universe spectrum.Universe, filter *spectrum.SiteFilter) (SiteIterator, error)

	// LoadSite loads a site with its antennas and channels. It returns nil
	// and no error when the site does not exist.
	LoadSite(ctx context.Context, universe spectrum.Universe, callSign string) (*spectrum.Site, error)

	antenna.Loader
	criteria.Loader
}

// Sink receives scored results. An error is fatal for the run.
type Sink interface {
	Emit(ctx context.Context, result *spectrum.InterferenceResult) error
}

// Committer is implemented by sinks that know how many results they have
// durably stored.
type Committer interface {
	Committed() int64
}

// Observer is notified of pipeline progress. Implementations must be safe
// for concurrent use when the pipeline runs with more than one worker.
type Observer interface {
	StageItem(stage Stage)
	Skipped(reason SkipReason)
	Result(result *spectrum.InterferenceResult)
	RunFinished(report *Report, elapsed time.Duration)
}

// Stage names a pipeline stage.
type Stage string

const (
	StageSite        Stage = "site"
	StageLink        Stage = "link"
	StageVictimSite  Stage = "victim-site"
	StageVictimLink  Stage = "victim-link"
	StageAntennaPair Stage = "antenna-pair"
	StageChannelPair Stage = "channel-pair"
)

func (s Stage) String() string {
	return string(s)
}

type nopObserver struct{}

func (nopObserver) StageItem(Stage)                     {}
func (nopObserver) Skipped(SkipReason)                  {}
func (nopObserver) Result(*spectrum.InterferenceResult) {}
func (nopObserver) RunFinished(*Report, time.Duration)  {}
