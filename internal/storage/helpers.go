package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if rbErr := rb.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && *err == nil {
		*err = rbErr
	}
}

func toNullFloat64(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func fromNullFloat64(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

func fromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

// toJSONString encodes params for the runs table. Strings and byte slices
// are stored as they are.
func toJSONString(v any) (sql.NullString, error) {
	switch p := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case string:
		return sql.NullString{String: p, Valid: true}, nil
	case []byte:
		return sql.NullString{String: string(p), Valid: true}, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return sql.NullString{}, fmt.Errorf("marshaling params: %w", err)
		}
		return sql.NullString{String: string(data), Valid: true}, nil
	}
}

func splitBands(n sql.NullString) []string {
	if !n.Valid || n.String == "" {
		return nil
	}
	return strings.Split(n.String, ",")
}
