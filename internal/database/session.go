// Package database opens short-lived PostgreSQL sessions and runs the
// statements the gateway needs on them.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sqlgate/internal/domain"
)

// Session is a single pinned connection. It is used for one request and
// closed on every exit path; sessions are never shared or pooled.
type Session struct {
	db   *sql.DB
	conn *sql.Conn
}

// OpenSession pins one connection of db. The session owns db: Close closes
// both. On failure db is closed as well.
func OpenSession(ctx context.Context, db *sql.DB) (*Session, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Session{db: db, conn: conn}, nil
}

// Close releases the connection.
func (s *Session) Close() error {
	return errors.Join(s.conn.Close(), s.db.Close())
}

// QueryMaps runs query in a read-only transaction that is always rolled back
// and returns each row as a column name to value mapping.
func (s *Session) QueryMaps(ctx context.Context, query string) ([]map[string]any, error) {
	tx, err := s.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, domain.ErrExecution(err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.ErrExecution(err)
	}
	defer rows.Close()

	data, err := scanMaps(rows)
	if err != nil {
		return nil, domain.ErrExecution(err)
	}
	return data, nil
}

// ExplainJSON returns the JSON plan of query without running it. A nil
// result with a nil error means the engine returned no plan row.
func (s *Session) ExplainJSON(ctx context.Context, query string) ([]byte, error) {
	tx, err := s.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, domain.ErrExecution(err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.QueryRowContext(ctx, "EXPLAIN (FORMAT JSON, COSTS TRUE, ANALYZE FALSE) "+query).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.ErrExecution(err)
	}
	return raw, nil
}

// scanMaps reads all rows into maps. []byte values become strings so that
// they serialize as text rather than base64.
func scanMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}

	data := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return data, nil
}
