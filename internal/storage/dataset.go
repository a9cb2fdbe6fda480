package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roman-kulish/radio-coordination/internal/coordination"
	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

// EnumerateSites returns the non-deleted sites of a universe that match
// filter, ordered by call sign.
func (s *SqliteStore) EnumerateSites(ctx context.Context, universe spectrum.Universe, filter *spectrum.SiteFilter) (coordination.SiteIterator, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteSiteIterator(ctx, db, universe, filter)
}

// LoadSite loads a site with its antennas and channels. It returns nil and
// no error when the site does not exist.
func (s *SqliteStore) LoadSite(ctx context.Context, universe spectrum.Universe, callSign string) (site *spectrum.Site, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	var st spectrum.Site
	err = db.QueryRowContext(ctx, selectSiteSQL, universe, callSign).
		Scan(&st.CallSign, &st.Latitude, &st.Longitude, &st.GroundElevation, &st.Operator, &st.Region, &st.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning site %s: %w", callSign, err)
	}

	if st.Antennas, err = loadAntennas(ctx, db, universe, callSign); err != nil {
		return nil, err
	}
	if st.Channels, err = loadChannels(ctx, db, universe, callSign); err != nil {
		return nil, err
	}
	return &st, nil
}

func loadAntennas(ctx context.Context, db *sql.DB, universe spectrum.Universe, callSign string) (antennas []spectrum.Antenna, err error) {
	rows, err := db.QueryContext(ctx, selectAntennasSQL, universe, callSign)
	if err != nil {
		return nil, fmt.Errorf("querying antennas of %s: %w", callSign, err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var a spectrum.Antenna
		var targetAz, targetEl sql.NullFloat64
		if err = rows.Scan(&a.Number, &a.RemoteCallSign, &a.Band, &a.PatternCode, &a.Gain,
			&a.Azimuth, &a.Elevation, &targetAz, &targetEl, &a.Height); err != nil {
			return nil, fmt.Errorf("scanning antenna of %s: %w", callSign, err)
		}
		a.TargetAzimuth = fromNullFloat64(targetAz)
		a.TargetElevation = fromNullFloat64(targetEl)
		antennas = append(antennas, a)
	}
	err = rows.Err()
	return
}

func loadChannels(ctx context.Context, db *sql.DB, universe spectrum.Universe, callSign string) (channels []spectrum.Channel, err error) {
	rows, err := db.QueryContext(ctx, selectChannelsSQL, universe, callSign)
	if err != nil {
		return nil, fmt.Errorf("querying channels of %s: %w", callSign, err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var c spectrum.Channel
		if err = rows.Scan(&c.AntennaNumber, &c.Number, &c.TxFrequency, &c.RxFrequency, &c.TxPower,
			&c.RxSignalLevel, &c.Polarization, &c.TrafficCode, &c.EquipmentCode); err != nil {
			return nil, fmt.Errorf("scanning channel of %s: %w", callSign, err)
		}
		channels = append(channels, c)
	}
	err = rows.Err()
	return
}

// LoadAntennaPattern loads the discrimination tables of a pattern code. It
// returns nil and no error when the code is unknown.
func (s *SqliteStore) LoadAntennaPattern(ctx context.Context, code string) (pattern *spectrum.AntennaPattern, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	p := spectrum.AntennaPattern{Code: code}
	err = db.QueryRowContext(ctx, selectPatternSQL, code).Scan(&p.Domain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning pattern %s: %w", code, err)
	}

	rows, err := db.QueryContext(ctx, selectPatternPointsSQL, code)
	if err != nil {
		return nil, fmt.Errorf("querying pattern %s points: %w", code, err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var pol spectrum.Polarization
		var pt spectrum.PatternPoint
		if err = rows.Scan(&pol, &pt.Angle, &pt.CoPolar, &pt.CrossPolar); err != nil {
			return nil, fmt.Errorf("scanning pattern %s point: %w", code, err)
		}
		if pol == spectrum.PolarizationHorizontal {
			p.H = append(p.H, pt)
		} else {
			p.V = append(p.V, pt)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("reading pattern %s points: %w", code, err)
	}
	return &p, nil
}

// LoadCriteriaRecord loads the base required C/I of a key. It returns nil
// and no error when the key is unknown.
func (s *SqliteStore) LoadCriteriaRecord(ctx context.Context, key spectrum.CriteriaKey) (*spectrum.CriteriaRecord, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	r := spectrum.CriteriaRecord{Key: key}
	err = db.QueryRowContext(ctx, selectCriteriaSQL, key.TxTraffic, key.RxTraffic, key.RxEquipment).
		Scan(&r.RequiredCI, &r.HasCurve)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning criteria %s: %w", key, err)
	}
	return &r, nil
}

// LoadCriteriaCurve loads the frequency-dependent curve of a key. It returns
// nil and no error when the key has no curve.
func (s *SqliteStore) LoadCriteriaCurve(ctx context.Context, key spectrum.CriteriaKey) (curve *spectrum.CriteriaCurve, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectCriteriaCurveSQL, key.TxTraffic, key.RxTraffic, key.RxEquipment)
	if err != nil {
		return nil, fmt.Errorf("querying criteria curve %s: %w", key, err)
	}
	defer closeWithError(rows, &err)

	c := spectrum.CriteriaCurve{Key: key}
	for rows.Next() {
		var pt spectrum.CurvePoint
		if err = rows.Scan(&pt.FrequencySeparation, &pt.RequiredCI); err != nil {
			return nil, fmt.Errorf("scanning criteria curve %s: %w", key, err)
		}
		c.Points = append(c.Points, pt)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("reading criteria curve %s: %w", key, err)
	}
	if len(c.Points) == 0 {
		return nil, nil
	}
	return &c, nil
}

// PutSite inserts or replaces a site together with its antennas and channels.
func (s *SqliteStore) PutSite(ctx context.Context, universe spectrum.Universe, site *spectrum.Site) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertSiteSQL, universe, site.CallSign, site.Latitude, site.Longitude,
			site.GroundElevation, site.Operator, site.Region, site.Deleted); err != nil {
			return fmt.Errorf("inserting site %s: %w", site.CallSign, err)
		}
		for _, q := range []string{deleteAntennasSQL, deleteChannelsSQL} {
			if _, err := tx.ExecContext(ctx, q, universe, site.CallSign); err != nil {
				return fmt.Errorf("clearing site %s: %w", site.CallSign, err)
			}
		}

		for _, a := range site.Antennas {
			if _, err := tx.ExecContext(ctx, insertAntennaSQL, universe, site.CallSign, a.Number, a.RemoteCallSign,
				a.Band, a.PatternCode, a.Gain, a.Azimuth, a.Elevation,
				toNullFloat64(a.TargetAzimuth), toNullFloat64(a.TargetElevation), a.Height); err != nil {
				return fmt.Errorf("inserting antenna %d of %s: %w", a.Number, site.CallSign, err)
			}
		}
		for _, c := range site.Channels {
			if _, err := tx.ExecContext(ctx, insertChannelSQL, universe, site.CallSign, c.AntennaNumber, c.Number,
				c.TxFrequency, c.RxFrequency, c.TxPower, c.RxSignalLevel,
				c.Polarization, c.TrafficCode, c.EquipmentCode); err != nil {
				return fmt.Errorf("inserting channel %d/%d of %s: %w", c.AntennaNumber, c.Number, site.CallSign, err)
			}
		}
		return nil
	})
}

// PutAntennaPattern inserts or replaces a pattern and its tables.
func (s *SqliteStore) PutAntennaPattern(ctx context.Context, p *spectrum.AntennaPattern) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertPatternSQL, p.Code, p.Domain); err != nil {
			return fmt.Errorf("inserting pattern %s: %w", p.Code, err)
		}
		if _, err := tx.ExecContext(ctx, deletePatternPointsSQL, p.Code); err != nil {
			return fmt.Errorf("clearing pattern %s: %w", p.Code, err)
		}

		for _, table := range []struct {
			pol    spectrum.Polarization
			points []spectrum.PatternPoint
		}{
			{spectrum.PolarizationHorizontal, p.H},
			{spectrum.PolarizationVertical, p.V},
		} {
			for _, pt := range table.points {
				if _, err := tx.ExecContext(ctx, insertPatternPointSQL, p.Code, table.pol, pt.Angle, pt.CoPolar, pt.CrossPolar); err != nil {
					return fmt.Errorf("inserting pattern %s point: %w", p.Code, err)
				}
			}
		}
		return nil
	})
}

// PutCriteria inserts or replaces a protection criterion. A nil or empty
// curve removes any stored curve for the key.
func (s *SqliteStore) PutCriteria(ctx context.Context, key spectrum.CriteriaKey, requiredCI float64, curve []spectrum.CurvePoint) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertCriteriaSQL, key.TxTraffic, key.RxTraffic, key.RxEquipment, requiredCI); err != nil {
			return fmt.Errorf("inserting criteria %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, deleteCriteriaCurveSQL, key.TxTraffic, key.RxTraffic, key.RxEquipment); err != nil {
			return fmt.Errorf("clearing criteria curve %s: %w", key, err)
		}
		for _, pt := range curve {
			if _, err := tx.ExecContext(ctx, insertCriteriaCurveSQL, key.TxTraffic, key.RxTraffic, key.RxEquipment,
				pt.FrequencySeparation, pt.RequiredCI); err != nil {
				return fmt.Errorf("inserting criteria curve %s: %w", key, err)
			}
		}
		return nil
	})
}

func (s *SqliteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

var _ coordination.Dataset = (*SqliteStore)(nil)
