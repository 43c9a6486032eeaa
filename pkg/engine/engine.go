// Package engine wraps the embedded DuckDB connection used to run every
// SQL statement in the conversion pipeline.
package engine

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Engine is a single DuckDB connection with the parquet and spatial
// extensions loaded and the pipeline's SQL macros installed.
type Engine struct {
	db *sql.DB
}

// Open creates a new in-memory DuckDB database, installs and loads the
// parquet and spatial extensions, and registers the macros the rest of the
// pipeline's SQL relies on.
func Open(ctx context.Context, threads int) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	e := &Engine{db: db}
	if err := e.setup(ctx, threads); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) setup(ctx context.Context, threads int) error {
	stmts := []string{
		"INSTALL parquet",
		"LOAD parquet",
		"INSTALL spatial",
		"LOAD spatial",
	}
	if threads > 0 {
		stmts = append(stmts, fmt.Sprintf("PRAGMA threads=%d", threads))
	}
	for _, stmt := range stmts {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("engine setup %q: %w", stmt, err)
		}
	}

	macros := []string{
		`CREATE OR REPLACE MACRO linestring_to_linestring_wkt(ls) AS
			'LINESTRING (' || array_to_string([pt.x || ' ' || pt.y for pt in ls], ', ') || ')'`,
		`CREATE OR REPLACE MACRO linestring_to_polygon_wkt(ls) AS
			'POLYGON ((' || array_to_string([pt.x || ' ' || pt.y for pt in ls], ', ') || '))'`,
	}
	for _, macro := range macros {
		if _, err := e.db.ExecContext(ctx, macro); err != nil {
			return fmt.Errorf("engine macro: %w", err)
		}
	}
	return nil
}

// Exec runs a statement that produces no rows (CREATE TABLE AS, COPY, ...).
func (e *Engine) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	return res, nil
}

// Query runs a statement that produces rows.
func (e *Engine) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

// QueryRow runs a statement expected to produce exactly one row.
func (e *Engine) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return e.db.QueryRowContext(ctx, query, args...)
}

// Close releases the underlying DuckDB connection.
func (e *Engine) Close() error {
	return e.db.Close()
}
