// Package notebooksvc implements the NotebookService capability: locked
// structural CRUD over a notebook's cells, persisting inside the
// notebook-level mutex per spec.md §4.6. It owns the in-memory
// model.Notebook instances (and, per DESIGN.md's DepGraph-ownership
// decision, their structural model.Notebook.Graph) that the rest of the
// application operates on.
package notebooksvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cellmesh/cellmesh/internal/domain/model"
	"github.com/cellmesh/cellmesh/internal/infrastructure/store"
	"github.com/cellmesh/cellmesh/pkg/depextract"
	"github.com/cellmesh/cellmesh/pkg/depgraph"
)

// AppendCell is the index value meaning "insert after the last cell".
const AppendCell = -1

// NoRevisionCheck disables optimistic concurrency for one update call.
const NoRevisionCheck int64 = -1

// Service is the NotebookService capability.
type Service struct {
	store store.NotebookStore

	mu        sync.RWMutex
	notebooks map[string]*model.Notebook
}

// New constructs a Service over a NotebookStore.
func New(st store.NotebookStore) *Service {
	return &Service{store: st, notebooks: make(map[string]*model.Notebook)}
}

// CreateNotebook creates a notebook owned by ownerPrincipal holding one
// empty IMPERATIVE cell.
func (s *Service) CreateNotebook(ctx context.Context, ownerPrincipal, name string) (*model.Notebook, error) {
	now := time.Now()
	first := &model.Cell{
		ID:     uuid.NewString(),
		Type:   model.CellTypeImperative,
		Status: model.CellStatusIdle,
		Reads:  []string{},
		Writes: []string{},
	}
	nb := &model.Notebook{
		ID:             uuid.NewString(),
		OwnerPrincipal: ownerPrincipal,
		Name:           name,
		Cells:          []*model.Cell{first},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_ = nb.EnsureGraph().Upsert(depgraph.Cell{ID: first.ID, Position: 0, Reads: first.Reads, Writes: first.Writes})

	if err := s.store.Create(ctx, nb); err != nil {
		return nil, fmt.Errorf("notebooksvc: create: %w", err)
	}

	s.mu.Lock()
	s.notebooks[nb.ID] = nb
	s.mu.Unlock()
	return nb, nil
}

// notebook returns the live, cached Notebook for id, loading it from the
// store on first access. Loaded notebooks get their dependency sets
// recomputed from code and their graph rebuilt from scratch — the
// persisted reads/writes are advisory only. Callers must lock the returned
// notebook's Mu before touching Cells or Graph.
func (s *Service) notebook(ctx context.Context, id string) (*model.Notebook, error) {
	s.mu.RLock()
	nb, ok := s.notebooks[id]
	s.mu.RUnlock()
	if ok {
		return nb, nil
	}

	loaded, err := s.store.Get(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, model.ErrNotebookNotFound
		}
		return nil, fmt.Errorf("notebooksvc: load: %w", err)
	}
	rebuildGraph(loaded)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.notebooks[id]; ok {
		// Another goroutine loaded it first; the cache is authoritative.
		return existing, nil
	}
	s.notebooks[id] = loaded
	return loaded, nil
}

// rebuildGraph recomputes every cell's reads/writes from its code and
// reconstructs the notebook's dependency graph in cell order. A cell whose
// upsert is rejected as a cycle comes back ERROR, same as it would have at
// edit time.
func rebuildGraph(nb *model.Notebook) {
	nb.Graph = depgraph.New()
	for i, cell := range nb.Cells {
		cell.Reads, cell.Writes = extract(cell.Type, cell.Code)
		if err := nb.Graph.Upsert(depgraph.Cell{ID: cell.ID, Position: i, Reads: cell.Reads, Writes: cell.Writes}); err != nil {
			cell.Status = model.CellStatusError
			cell.Error = err.Error()
		}
	}
}

// GetNotebook returns a detached snapshot of a notebook's cells.
func (s *Service) GetNotebook(ctx context.Context, id string) (*model.Notebook, error) {
	nb, err := s.notebook(ctx, id)
	if err != nil {
		return nil, err
	}
	nb.Mu.Lock()
	defer nb.Mu.Unlock()
	return &model.Notebook{
		ID:                 nb.ID,
		OwnerPrincipal:     nb.OwnerPrincipal,
		Name:               nb.Name,
		DBConnectionString: nb.DBConnectionString,
		Revision:           nb.Revision,
		Cells:              nb.Snapshot(),
		CreatedAt:          nb.CreatedAt,
		UpdatedAt:          nb.UpdatedAt,
	}, nil
}

// ListByOwner lists every notebook owned by a principal.
func (s *Service) ListByOwner(ctx context.Context, ownerPrincipal string) ([]*model.Notebook, error) {
	return s.store.ListByOwner(ctx, ownerPrincipal)
}

// RenameNotebook changes a notebook's display name and returns the new
// revision.
func (s *Service) RenameNotebook(ctx context.Context, id, name string) (int64, error) {
	nb, err := s.notebook(ctx, id)
	if err != nil {
		return 0, err
	}
	nb.Mu.Lock()
	defer nb.Mu.Unlock()

	prevName := nb.Name
	nb.Name = name
	nb.Revision++
	nb.UpdatedAt = time.Now()
	if err := s.store.Save(ctx, nb); err != nil {
		nb.Name = prevName
		nb.Revision--
		return 0, fmt.Errorf("notebooksvc: save after rename: %w", err)
	}
	return nb.Revision, nil
}

// SetDBConnectionString updates the connection string QUERY cells run
// against and returns the new revision. The caller is responsible for
// forwarding the change to the notebook's Kernel via a SetDbConfig request.
func (s *Service) SetDBConnectionString(ctx context.Context, id, connStr string) (int64, error) {
	nb, err := s.notebook(ctx, id)
	if err != nil {
		return 0, err
	}
	nb.Mu.Lock()
	defer nb.Mu.Unlock()

	prev := nb.DBConnectionString
	nb.DBConnectionString = connStr
	nb.Revision++
	nb.UpdatedAt = time.Now()
	if err := s.store.Save(ctx, nb); err != nil {
		nb.DBConnectionString = prev
		nb.Revision--
		return 0, fmt.Errorf("notebooksvc: save after set db connection: %w", err)
	}
	return nb.Revision, nil
}

// DeleteNotebook removes a notebook entirely.
func (s *Service) DeleteNotebook(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.notebooks, id)
	s.mu.Unlock()
	if err := s.store.Delete(ctx, id); err != nil {
		if err == store.ErrNotFound {
			return model.ErrNotebookNotFound
		}
		return fmt.Errorf("notebooksvc: delete: %w", err)
	}
	return nil
}

// LockedCreateCell extracts the new cell's dependencies, upserts the
// notebook's structural graph, and inserts the cell at index (AppendCell
// appends). A cycle does not reject the call: the cell is still created,
// but starts in ERROR status (spec.md §4.6/§8 — CYCLE_DETECTED is a
// cell-level diagnostic, not a request-level rejection). A storage failure
// rolls the whole mutation back; the revision is not bumped.
func (s *Service) LockedCreateCell(ctx context.Context, notebookID, cellID string, typ model.CellType, code string, index int) (*model.Cell, int64, error) {
	nb, err := s.notebook(ctx, notebookID)
	if err != nil {
		return nil, 0, err
	}

	nb.Mu.Lock()
	defer nb.Mu.Unlock()

	if index < 0 || index > len(nb.Cells) {
		index = len(nb.Cells)
	}

	reads, writes := extract(typ, code)
	cell := &model.Cell{ID: cellID, Type: typ, Code: code, Status: model.CellStatusIdle, Reads: reads, Writes: writes}

	prevCells := nb.Cells
	graphBackup := nb.EnsureGraph().Clone()

	if err := nb.Graph.Upsert(depgraph.Cell{ID: cellID, Position: index, Reads: reads, Writes: writes}); err != nil {
		cell.Status = model.CellStatusError
		cell.Error = err.Error()
	}

	cells := make([]*model.Cell, 0, len(nb.Cells)+1)
	cells = append(cells, nb.Cells[:index]...)
	cells = append(cells, cell)
	cells = append(cells, nb.Cells[index:]...)
	nb.Cells = cells
	s.resyncPositions(nb)

	nb.Revision++
	nb.UpdatedAt = time.Now()

	if err := s.store.Save(ctx, nb); err != nil {
		nb.Cells = prevCells
		nb.Graph = graphBackup
		nb.Revision--
		return nil, 0, fmt.Errorf("notebooksvc: save after create cell: %w", err)
	}
	return cell.Clone(), nb.Revision, nil
}

// LockedUpdateCell replaces a cell's code, subject to optimistic
// concurrency on expectedRevision (NoRevisionCheck skips the check). A
// storage failure rolls the whole mutation back.
func (s *Service) LockedUpdateCell(ctx context.Context, notebookID, cellID, code string, expectedRevision int64) (*model.Cell, int64, error) {
	nb, err := s.notebook(ctx, notebookID)
	if err != nil {
		return nil, 0, err
	}

	nb.Mu.Lock()
	defer nb.Mu.Unlock()

	if expectedRevision != NoRevisionCheck && nb.Revision != expectedRevision {
		return nil, 0, model.ErrRevisionConflict
	}

	cell := nb.CellByID(cellID)
	if cell == nil {
		return nil, 0, model.ErrCellNotFound
	}

	prevCell := cell.Clone()
	graphBackup := nb.EnsureGraph().Clone()

	reads, writes := extract(cell.Type, code)
	cell.Code = code
	cell.Reads = reads
	cell.Writes = writes
	cell.Error = ""

	if err := nb.Graph.Upsert(depgraph.Cell{ID: cellID, Position: nb.IndexOf(cellID), Reads: reads, Writes: writes}); err != nil {
		cell.Status = model.CellStatusError
		cell.Error = err.Error()
	} else {
		cell.Status = model.CellStatusIdle
	}

	nb.Revision++
	nb.UpdatedAt = time.Now()

	if err := s.store.Save(ctx, nb); err != nil {
		*cell = *prevCell
		nb.Graph = graphBackup
		nb.Revision--
		return nil, 0, fmt.Errorf("notebooksvc: save after update cell: %w", err)
	}
	return cell.Clone(), nb.Revision, nil
}

// LockedDeleteCell removes a cell from the notebook and its structural
// graph. A storage failure rolls the whole mutation back.
func (s *Service) LockedDeleteCell(ctx context.Context, notebookID, cellID string) (int64, error) {
	nb, err := s.notebook(ctx, notebookID)
	if err != nil {
		return 0, err
	}

	nb.Mu.Lock()
	defer nb.Mu.Unlock()

	idx := nb.IndexOf(cellID)
	if idx < 0 {
		return 0, model.ErrCellNotFound
	}

	prevCells := nb.Cells
	graphBackup := nb.EnsureGraph().Clone()

	cells := make([]*model.Cell, 0, len(nb.Cells)-1)
	cells = append(cells, nb.Cells[:idx]...)
	cells = append(cells, nb.Cells[idx+1:]...)
	nb.Cells = cells
	nb.Graph.Remove(cellID)
	s.resyncPositions(nb)

	nb.Revision++
	nb.UpdatedAt = time.Now()

	if err := s.store.Save(ctx, nb); err != nil {
		nb.Cells = prevCells
		nb.Graph = graphBackup
		nb.Revision--
		return 0, fmt.Errorf("notebooksvc: save after delete cell: %w", err)
	}
	return nb.Revision, nil
}

// LockedSnapshot returns a detached copy of every cell plus the current
// revision, taken atomically under the notebook's mutex.
func (s *Service) LockedSnapshot(ctx context.Context, notebookID string) ([]*model.Cell, int64, error) {
	nb, err := s.notebook(ctx, notebookID)
	if err != nil {
		return nil, 0, err
	}
	nb.Mu.Lock()
	defer nb.Mu.Unlock()
	return nb.Snapshot(), nb.Revision, nil
}

// CellPositions returns the current cell-id -> index mapping, used to
// resync a kernel's tie-break order after a structural change.
func (s *Service) CellPositions(ctx context.Context, notebookID string) (map[string]int, error) {
	nb, err := s.notebook(ctx, notebookID)
	if err != nil {
		return nil, err
	}
	nb.Mu.Lock()
	defer nb.Mu.Unlock()
	positions := make(map[string]int, len(nb.Cells))
	for i, c := range nb.Cells {
		positions[c.ID] = i
	}
	return positions, nil
}

// resyncPositions refreshes the graph's tie-break positions after the cell
// sequence shifted. Callers must hold nb.Mu.
func (s *Service) resyncPositions(nb *model.Notebook) {
	for i, c := range nb.Cells {
		nb.Graph.SetPosition(c.ID, i)
	}
}

func extract(typ model.CellType, code string) (reads, writes []string) {
	if typ == model.CellTypeQuery {
		return depextract.ExtractQuery(code)
	}
	return depextract.Extract(code)
}
