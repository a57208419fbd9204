// Package warehouse wraps a Snowflake connection: session setup, identifier
// validation, dynamic row scanning and stage file transfer.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Querier defines the methods shared by *sql.DB, *sql.Tx and *Session.
// Resource checks and diagnostics accept a Querier so they can run against
// a live session or a sqlmock connection.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Row is a result row keyed by lower-cased column name. SHOW and DESCRIBE
// commands return column sets that vary between server versions, so they are
// read by name instead of by position.
type Row map[string]any

// String returns the column as a string, or "" when the column is absent or NULL.
func (r Row) String(col string) string {
	v, ok := r[strings.ToLower(col)]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ScanMaps reads every remaining row of rows into a Row and closes rows.
func ScanMaps(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[strings.ToLower(c)] = string(b)
			} else {
				row[strings.ToLower(c)] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// QueryMaps runs query and returns all rows via ScanMaps.
func QueryMaps(ctx context.Context, db Querier, query string, args ...any) ([]Row, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return ScanMaps(rows)
}
