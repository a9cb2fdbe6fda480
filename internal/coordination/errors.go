package coordination

import (
	"errors"
	"fmt"

	"github.com/roman-kulish/radio-coordination/internal/antenna"
	"github.com/roman-kulish/radio-coordination/internal/criteria"
)

var (
	// ErrLookupMiss classifies skips caused by a missing site, pattern or criteria entry.
	ErrLookupMiss = errors.New("lookup miss")

	// ErrMalformedInput classifies skips caused by corrupt input records.
	ErrMalformedInput = errors.New("malformed input")

	// ErrDataset classifies skips caused by dataset I/O failures.
	ErrDataset = errors.New("dataset error")
)

// SkipReason tells why an item was dropped from the pipeline.
type SkipReason string

const (
	SkipSiteLoadFailed    SkipReason = "site-load-failed"
	SkipVictimMissing     SkipReason = "victim-missing"
	SkipVictimLoadFailed  SkipReason = "victim-load-failed"
	SkipMalformedAntenna  SkipReason = "malformed-antenna"
	SkipMalformedChannel  SkipReason = "malformed-channel"
	SkipPatternNotFound   SkipReason = "pattern-not-found"
	SkipMalformedPattern  SkipReason = "malformed-pattern"
	SkipCriteriaNotFound  SkipReason = "criteria-not-found"
	SkipMalformedCriteria SkipReason = "malformed-criteria"
	SkipDatasetError      SkipReason = "dataset-error"
)

func (r SkipReason) String() string {
	return string(r)
}

// Class returns the sentinel error the reason belongs to.
func (r SkipReason) Class() error {
	switch r {
	case SkipVictimMissing, SkipPatternNotFound, SkipCriteriaNotFound:
		return ErrLookupMiss
	case SkipMalformedAntenna, SkipMalformedChannel, SkipMalformedPattern, SkipMalformedCriteria:
		return ErrMalformedInput
	default:
		return ErrDataset
	}
}

// classify maps a resolver error to a skip reason.
func classify(err error) SkipReason {
	switch {
	case errors.Is(err, antenna.ErrDiscriminationNotFound):
		return SkipPatternNotFound
	case errors.Is(err, antenna.ErrMalformedPattern):
		return SkipMalformedPattern
	case errors.Is(err, criteria.ErrProtectionCriteriaNotFound):
		return SkipCriteriaNotFound
	case errors.Is(err, criteria.ErrMalformedCriteria):
		return SkipMalformedCriteria
	default:
		return SkipDatasetError
	}
}

// skipError wraps err with the class of reason.
func skipError(reason SkipReason, err error) error {
	return fmt.Errorf("%w: %s: %w", reason.Class(), reason, err)
}

// SinkError is returned when the result sink fails. The run is aborted.
type SinkError struct {
	Committed int64 // Results durably stored before the failure
	Err       error
}

func (e *SinkError) Error() string {
	if e.Partial() {
		return fmt.Sprintf("result sink failed, partial results committed (%d), run aborted: %s", e.Committed, e.Err)
	}
	return fmt.Sprintf("result sink failed, no results produced: %s", e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// Partial reports whether some results were committed before the failure.
func (e *SinkError) Partial() bool {
	return e.Committed > 0
}
