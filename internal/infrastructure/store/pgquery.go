package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/cellmesh/cellmesh/pkg/kernel"
)

// PostgresQueryExecutor implements kernel.QueryExecutor against a notebook's
// user-supplied connection string. It is deliberately plain database/sql +
// lib/pq rather than bun: a QUERY cell's source is arbitrary user SQL text,
// not a query bun's builder could express, so there's nothing for an ORM
// layer to add here.
type PostgresQueryExecutor struct {
	db *sql.DB
}

// NewPostgresQueryExecutorFactory returns a kernel.QueryExecFactory that
// opens a fresh *sql.DB per connection string, suitable for
// kernel.WithQueryExecFactory.
func NewPostgresQueryExecutorFactory() kernel.QueryExecFactory {
	return func(connectionString string) (kernel.QueryExecutor, error) {
		db, err := sql.Open("postgres", connectionString)
		if err != nil {
			return nil, fmt.Errorf("store: open query connection: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: ping query connection: %w", err)
		}
		return &PostgresQueryExecutor{db: db}, nil
	}
}

func (e *PostgresQueryExecutor) Query(ctx context.Context, query string, args []any) ([]string, [][]any, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]any
	for rows.Next() {
		scanTargets := make([]any, len(columns))
		values := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, err
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}
