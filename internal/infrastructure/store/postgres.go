package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/cellmesh/cellmesh/internal/domain/model"
)

// notebookModel is the bun row shape: the notebook's cells are stored as a
// single JSON blob rather than normalized into a cells table, since the
// only access pattern is whole-notebook load/save under the notebook lock
// (spec.md §4.6) — there is never a query that needs one cell in isolation.
type notebookModel struct {
	bun.BaseModel `bun:"table:notebooks,alias:nb"`

	ID                 string    `bun:"id,pk"`
	OwnerPrincipal     string    `bun:"owner_principal,notnull"`
	Name               string    `bun:"name"`
	DBConnectionString string    `bun:"db_connection_string"`
	Revision           int64     `bun:"revision,notnull"`
	CellsJSON          []byte    `bun:"cells_json,notnull"`
	CreatedAt          time.Time `bun:"created_at,notnull"`
	UpdatedAt          time.Time `bun:"updated_at,notnull"`
}

func toRow(nb *model.Notebook) (*notebookModel, error) {
	cellsJSON, err := json.Marshal(nb.Cells)
	if err != nil {
		return nil, fmt.Errorf("store: marshal cells: %w", err)
	}
	return &notebookModel{
		ID:                 nb.ID,
		OwnerPrincipal:     nb.OwnerPrincipal,
		Name:               nb.Name,
		DBConnectionString: nb.DBConnectionString,
		Revision:           nb.Revision,
		CellsJSON:          cellsJSON,
		CreatedAt:          nb.CreatedAt,
		UpdatedAt:          nb.UpdatedAt,
	}, nil
}

func fromRow(row *notebookModel) (*model.Notebook, error) {
	var cells []*model.Cell
	if err := json.Unmarshal(row.CellsJSON, &cells); err != nil {
		return nil, fmt.Errorf("store: unmarshal cells: %w", err)
	}
	for _, c := range cells {
		c.Status = model.CellStatusIdle
	}
	return &model.Notebook{
		ID:                 row.ID,
		OwnerPrincipal:     row.OwnerPrincipal,
		Name:               row.Name,
		DBConnectionString: row.DBConnectionString,
		Revision:           row.Revision,
		Cells:              cells,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}, nil
}

// PostgresStore is a NotebookStore backed by uptrace/bun, an alternative to
// FileStore for deployments that want a shared backing store instead of a
// local filesystem (DESIGN.md "internal/infrastructure/store").
type PostgresStore struct {
	db *bun.DB
}

// NewPostgresStore wraps an already-connected bun.DB.
func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, nb *model.Notebook) error {
	row, err := toRow(nb)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(row).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("store: insert notebook: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, nb *model.Notebook) error {
	row, err := toRow(nb)
	if err != nil {
		return err
	}
	res, err := s.db.NewUpdate().Model(row).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: update notebook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Notebook, error) {
	row := new(notebookModel)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: select notebook: %w", err)
	}
	return fromRow(row)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.NewDelete().Model((*notebookModel)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: delete notebook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerPrincipal string) ([]*model.Notebook, error) {
	var rows []*notebookModel
	err := s.db.NewSelect().Model(&rows).Where("owner_principal = ?", ownerPrincipal).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list notebooks: %w", err)
	}
	out := make([]*model.Notebook, 0, len(rows))
	for _, row := range rows {
		nb, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, nb)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	// pgdriver surfaces constraint violations as *pgdriver.Error; matching
	// on the rendered message avoids importing the driver's internal error
	// type for a single string check.
	return err != nil && (strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique constraint"))
}
