package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// maxResultsPerStatement keeps multi-row inserts under the SQLite bound
// parameter limit.
const maxResultsPerStatement = 999 / resultColumns

// SqliteStore handles database operations. It holds the coordination input
// dataset and the results of every run.
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore returns a store backed by the SQLite database at dbPath.
// Connections are opened on first use.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

// getReadDB opens the read-only handle. The write handle is opened first so
// that the schema exists before anything is read.
func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		if _, err := s.getWriteDB(); err != nil {
			s.readDBErr = err
			return
		}

		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro&_busy_timeout=5000"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// CreateRun records the start of a run. params may be a string, a byte
// slice or any JSON serializable value.
func (s *SqliteStore) CreateRun(ctx context.Context, runID string, params any) (err error) {
	data, err := toJSONString(params)
	if err != nil {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	if _, err = db.ExecContext(ctx, insertRunSQL, runID, time.Now().UTC(), RunStatusRunning, data); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// FinishRun records how a run ended.
func (s *SqliteStore) FinishRun(ctx context.Context, runID string, outcome RunOutcome) error {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	var errText sql.NullString
	if outcome.Err != nil {
		errText = sql.NullString{String: outcome.Err.Error(), Valid: true}
	}

	res, err := db.ExecContext(ctx, finishRunSQL, time.Now().UTC(), outcome.Status, outcome.Results, outcome.Flagged, errText, runID)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var finished sql.NullTime
	var params, errText sql.NullString
	if err := row.Scan(&r.ID, &r.StartedAt, &finished, &r.Status, &params, &r.Results, &r.Flagged, &errText); err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	r.Params = fromNullString(params)
	r.Error = fromNullString(errText)
	return &r, nil
}

// Run returns the stored record of a run.
func (s *SqliteStore) Run(ctx context.Context, runID string) (*Run, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	r, err := scanRun(db.QueryRowContext(ctx, selectRunSQL, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return r, nil
}

// Runs returns every stored run ordered by start time.
func (s *SqliteStore) Runs(ctx context.Context) (runs []*Run, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectRunsSQL)
	if err != nil {
		err = fmt.Errorf("querying runs: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var r *Run
		if r, err = scanRun(rows); err != nil {
			err = fmt.Errorf("scanning run: %w", err)
			return
		}
		runs = append(runs, r)
	}
	err = rows.Err()
	return
}

// StoreResults stores a batch of results of a run in one transaction. Either
// every result of the batch is stored or none is.
func (s *SqliteStore) StoreResults(ctx context.Context, runID string, results []*spectrum.InterferenceResult) (err error) {
	if len(results) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	for start := 0; start < len(results); start += maxResultsPerStatement {
		chunk := results[start:min(start+maxResultsPerStatement, len(results))]

		values := make([]any, 0, len(chunk)*resultColumns)

		var sb strings.Builder
		sb.WriteString(insertResultSQL)

		for i, r := range chunk {
			values = append(values,
				runID,
				r.Direction,
				r.Interferer.CallSign,
				r.Interferer.RemoteCallSign,
				r.Interferer.Band,
				r.Interferer.Antenna,
				r.Interferer.Channel,
				r.Interferer.OffAxisAngle,
				r.Interferer.Discrimination,
				r.Victim.CallSign,
				r.Victim.RemoteCallSign,
				r.Victim.Band,
				r.Victim.Antenna,
				r.Victim.Channel,
				r.Victim.OffAxisAngle,
				r.Victim.Discrimination,
				r.DistanceKm,
				r.TxFrequency,
				r.RxFrequency,
				r.FrequencySeparation,
				r.PathLoss,
				toNullFloat64(r.PathLoss80),
				toNullFloat64(r.PathLoss99),
				r.CalculatedCI,
				r.RequiredCI,
				r.Margin,
				toNullFloat64(r.Margin80),
				toNullFloat64(r.Margin99),
				r.Status,
			)

			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(resultValuesPlaceholder)
		}

		if _, err = tx.ExecContext(ctx, sb.String(), values...); err != nil {
			return fmt.Errorf("batch inserting results: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Results returns the stored results of a run in emission order. When
// flaggedOnly is set, only results with a negative margin are returned.
func (s *SqliteStore) Results(ctx context.Context, runID string, flaggedOnly bool) (results []*spectrum.InterferenceResult, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectResultsSQL, runID, flaggedOnly)
	if err != nil {
		err = fmt.Errorf("querying results: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var r spectrum.InterferenceResult
		var pl80, pl99, m80, m99 sql.NullFloat64
		if err = rows.Scan(
			&r.Direction,
			&r.Interferer.CallSign,
			&r.Interferer.RemoteCallSign,
			&r.Interferer.Band,
			&r.Interferer.Antenna,
			&r.Interferer.Channel,
			&r.Interferer.OffAxisAngle,
			&r.Interferer.Discrimination,
			&r.Victim.CallSign,
			&r.Victim.RemoteCallSign,
			&r.Victim.Band,
			&r.Victim.Antenna,
			&r.Victim.Channel,
			&r.Victim.OffAxisAngle,
			&r.Victim.Discrimination,
			&r.DistanceKm,
			&r.TxFrequency,
			&r.RxFrequency,
			&r.FrequencySeparation,
			&r.PathLoss,
			&pl80,
			&pl99,
			&r.CalculatedCI,
			&r.RequiredCI,
			&r.Margin,
			&m80,
			&m99,
			&r.Status,
		); err != nil {
			err = fmt.Errorf("scanning result: %w", err)
			return
		}
		r.PathLoss80 = fromNullFloat64(pl80)
		r.PathLoss99 = fromNullFloat64(pl99)
		r.Margin80 = fromNullFloat64(m80)
		r.Margin99 = fromNullFloat64(m99)
		results = append(results, &r)
	}
	err = rows.Err()
	return
}

// Close creates the result indexes and releases both connections. It is
// safe to call more than once.
func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
