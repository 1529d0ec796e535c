package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/cellmesh/cellmesh/internal/domain/model"
)

// newBunDBWithMock creates a bun.DB backed by go-sqlmock, grounded on the
// pack's bun+sqlmock test idiom.
func newBunDBWithMock(t *testing.T) (*bun.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	bunDB := bun.NewDB(db, pgdialect.New())
	bunDB.RegisterModel((*notebookModel)(nil))
	return bunDB, mock
}

func TestPostgresStore_Create(t *testing.T) {
	db, mock := newBunDBWithMock(t)
	s := NewPostgresStore(db)

	mock.ExpectExec(`INSERT INTO "notebooks"`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	nb := &model.Notebook{ID: "nb1", OwnerPrincipal: "alice", Revision: 1, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.Create(context.Background(), nb); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_CreateDuplicateReturnsAlreadyExists(t *testing.T) {
	db, mock := newBunDBWithMock(t)
	s := NewPostgresStore(db)

	mock.ExpectExec(`INSERT INTO "notebooks"`).
		WillReturnError(&pqLikeError{"duplicate key value violates unique constraint"})

	nb := &model.Notebook{ID: "nb1", OwnerPrincipal: "alice", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.Create(context.Background(), nb); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	db, mock := newBunDBWithMock(t)
	s := NewPostgresStore(db)

	mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.Get(context.Background(), "ghost"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_GetRoundTripsCellsJSON(t *testing.T) {
	db, mock := newBunDBWithMock(t)
	s := NewPostgresStore(db)

	now := time.Now()
	row, err := toRow(&model.Notebook{
		ID: "nb1", OwnerPrincipal: "alice", Revision: 3, CreatedAt: now, UpdatedAt: now,
		Cells: []*model.Cell{{ID: "c1", Type: model.CellTypeImperative, Code: "x = 1", Status: model.CellStatusSuccess}},
	})
	if err != nil {
		t.Fatalf("toRow: %v", err)
	}

	cols := []string{"id", "owner_principal", "name", "db_connection_string", "revision", "cells_json", "created_at", "updated_at"}
	mock.ExpectQuery(`SELECT`).WillReturnRows(
		sqlmock.NewRows(cols).AddRow(row.ID, row.OwnerPrincipal, row.Name, row.DBConnectionString, row.Revision, row.CellsJSON, row.CreatedAt, row.UpdatedAt),
	)

	got, err := s.Get(context.Background(), "nb1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Revision != 3 || len(got.Cells) != 1 || got.Cells[0].ID != "c1" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.Cells[0].Status != model.CellStatusIdle {
		t.Fatalf("expected status reset to IDLE on load, got %s", got.Cells[0].Status)
	}
}

func TestPostgresStore_DeleteNotFound(t *testing.T) {
	db, mock := newBunDBWithMock(t)
	s := NewPostgresStore(db)

	mock.ExpectExec(`DELETE FROM "notebooks"`).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Delete(context.Background(), "ghost"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// pqLikeError mimics the rendered message shape isUniqueViolation matches
// on, without importing the pgdriver error type.
type pqLikeError struct{ msg string }

func (e *pqLikeError) Error() string { return e.msg }
