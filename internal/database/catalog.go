package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const relationSizesQuery = `
SELECT relname, pg_total_relation_size(oid) AS size
FROM pg_class
WHERE relkind IN ('r','m','f','p','v') AND relname = ANY($1)`

const databaseInfoQuery = `
SELECT current_database() AS database_name,
       version() AS version,
       current_user AS current_user`

const tablesQuery = `
SELECT schemaname, tablename, tableowner, hasindexes, hasrules, hastriggers, rowsecurity
FROM pg_tables
WHERE schemaname NOT IN ('information_schema', 'pg_catalog')
ORDER BY schemaname, tablename`

const columnsQuery = `
SELECT table_schema, table_name, column_name, data_type, is_nullable, column_default, character_maximum_length
FROM information_schema.columns
WHERE table_schema NOT IN ('information_schema', 'pg_catalog')
ORDER BY table_schema, table_name, ordinal_position`

// TableInfo describes one user table.
type TableInfo struct {
	Schema      string       `json:"schema"`
	Name        string       `json:"name"`
	Owner       string       `json:"owner"`
	HasIndexes  bool         `json:"has_indexes"`
	HasRules    bool         `json:"has_rules"`
	HasTriggers bool         `json:"has_triggers"`
	RowSecurity bool         `json:"row_security"`
	Columns     []ColumnInfo `json:"columns"`
}

// ColumnInfo describes one column of a table.
type ColumnInfo struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Nullable  bool    `json:"nullable"`
	Default   *string `json:"default"`
	MaxLength *int64  `json:"max_length"`
}

// RelationSizes returns the total on-disk size in bytes of each named
// relation in a single catalog round trip. Unknown names are omitted.
func (s *Session) RelationSizes(ctx context.Context, relations []string) (map[string]int64, error) {
	sizes := make(map[string]int64, len(relations))
	if len(relations) == 0 {
		return sizes, nil
	}

	rows, err := s.conn.QueryContext(ctx, relationSizesQuery, relations)
	if err != nil {
		return nil, fmt.Errorf("query relation sizes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var size int64
		if err := rows.Scan(&name, &size); err != nil {
			return nil, fmt.Errorf("scan relation size: %w", err)
		}
		sizes[name] = size
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relation sizes: %w", err)
	}
	return sizes, nil
}

// DatabaseInfo returns the database name, server version and current user.
func (s *Session) DatabaseInfo(ctx context.Context) (map[string]any, error) {
	rows, err := s.conn.QueryContext(ctx, databaseInfoQuery)
	if err != nil {
		return nil, fmt.Errorf("query database info: %w", err)
	}
	defer rows.Close()

	data, err := scanMaps(rows)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	return data[0], nil
}

// Tables lists user tables with their columns in ordinal order.
func (s *Session) Tables(ctx context.Context) ([]TableInfo, error) {
	tables, err := s.listTables(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[[2]string]int, len(tables))
	for i, t := range tables {
		index[[2]string{t.Schema, t.Name}] = i
	}

	rows, err := s.conn.QueryContext(ctx, columnsQuery)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			schema, table, nullable string
			col                     ColumnInfo
			def                     sql.NullString
			maxLen                  sql.NullInt64
		)
		if err := rows.Scan(&schema, &table, &col.Name, &col.Type, &nullable, &def, &maxLen); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		i, ok := index[[2]string{schema, table}]
		if !ok {
			continue
		}
		col.Nullable = nullable == "YES"
		if def.Valid {
			col.Default = &def.String
		}
		if maxLen.Valid {
			col.MaxLength = &maxLen.Int64
		}
		tables[i].Columns = append(tables[i].Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return tables, nil
}

func (s *Session) listTables(ctx context.Context) ([]TableInfo, error) {
	rows, err := s.conn.QueryContext(ctx, tablesQuery)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	tables := make([]TableInfo, 0)
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.Schema, &t.Name, &t.Owner, &t.HasIndexes, &t.HasRules, &t.HasTriggers, &t.RowSecurity); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		t.Columns = []ColumnInfo{}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// DistinctValues returns up to limit distinct values of table.column in
// ascending order. Identifiers are quoted, never interpolated raw.
func (s *Session) DistinctValues(ctx context.Context, table, column string, limit int) ([]any, error) {
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY 1 LIMIT %d",
		pgx.Identifier{column}.Sanitize(), pgx.Identifier{table}.Sanitize(), limit)

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query distinct %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	values := make([]any, 0)
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct %s.%s: %w", table, column, err)
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distinct %s.%s: %w", table, column, err)
	}
	return values, nil
}
