package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

const createNotebooksTable = `
CREATE TABLE IF NOT EXISTS notebooks (
	id                    TEXT PRIMARY KEY,
	owner_principal       TEXT NOT NULL,
	name                  TEXT NOT NULL DEFAULT '',
	db_connection_string  TEXT NOT NULL DEFAULT '',
	revision              BIGINT NOT NULL DEFAULT 0,
	cells_json            JSONB NOT NULL DEFAULT '[]',
	created_at            TIMESTAMPTZ NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS notebooks_owner_principal_idx ON notebooks (owner_principal);
`

const dropNotebooksTable = `DROP TABLE IF EXISTS notebooks;`

// Migrator applies or tears down the Postgres NotebookStore's schema.
// There is exactly one table, so this forgoes bun/migrate's versioned
// migration bookkeeping in favor of two idempotent statements.
type Migrator struct {
	db *bun.DB
}

// NewMigrator wraps an already-connected bun.DB.
func NewMigrator(db *bun.DB) *Migrator {
	return &Migrator{db: db}
}

// Up creates the notebooks table if it does not already exist.
func (m *Migrator) Up(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createNotebooksTable); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

// Down drops the notebooks table.
func (m *Migrator) Down(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, dropNotebooksTable); err != nil {
		return fmt.Errorf("store: drop schema: %w", err)
	}
	return nil
}
