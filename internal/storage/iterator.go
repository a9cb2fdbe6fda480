package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

// SqliteSiteIterator streams site summaries of one universe. Rows come from a
// bounding-box query and are checked against the site filter before they
// are returned.
//
// It must be used from a single goroutine and closed after use.
type SqliteSiteIterator struct {
	rows   *sql.Rows
	filter *spectrum.SiteFilter

	current *spectrum.SiteSummary
	err     error
	closed  bool
}

func newSqliteSiteIterator(ctx context.Context, db *sql.DB, universe spectrum.Universe, filter *spectrum.SiteFilter) (*SqliteSiteIterator, error) {
	minLat, maxLat, minLon, maxLon := -90.0, 90.0, -180.0, 180.0
	if filter != nil {
		minLat, maxLat, minLon, maxLon = filter.BoundingBox()
	}

	rows, err := db.QueryContext(ctx, selectSiteSummariesSQL, universe, minLat, maxLat, minLon, maxLon)
	if err != nil {
		return nil, fmt.Errorf("querying sites: %w", err)
	}

	return &SqliteSiteIterator{rows: rows, filter: filter}, nil
}

// Next advances to the next matching site.
func (it *SqliteSiteIterator) Next(ctx context.Context) bool {
	if it.closed || it.err != nil {
		return false
	}

	for {
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}
		if !it.rows.Next() {
			it.err = it.rows.Err()
			return false
		}

		var s spectrum.SiteSummary
		var bands sql.NullString
		if err := it.rows.Scan(&s.CallSign, &s.Latitude, &s.Longitude, &s.Operator, &s.Region, &bands); err != nil {
			it.err = fmt.Errorf("scanning site: %w", err)
			return false
		}
		s.Bands = splitBands(bands)

		if it.filter.Match(&s) {
			it.current = &s
			return true
		}
	}
}

// Current returns the site the iterator is positioned on.
func (it *SqliteSiteIterator) Current() *spectrum.SiteSummary {
	return it.current
}

// Error returns the error that stopped iteration, if any.
func (it *SqliteSiteIterator) Error() error {
	return it.err
}

// Close releases the underlying rows.
func (it *SqliteSiteIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.rows.Close()
}
