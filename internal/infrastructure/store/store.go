// Package store provides the NotebookStore persistence capability and its
// file-backed implementation. Grounded on the teacher's
// internal/infrastructure/storage persistence idiom (atomic write, typed
// not-found errors) adapted from a relational repository to a
// document-per-notebook filesystem layout.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cellmesh/cellmesh/internal/domain/model"
)

// NotebookStore persists whole-notebook snapshots. Every write is expected
// to be called while the caller already holds that notebook's Mu — the
// store itself does not serialize concurrent writes to the same id.
type NotebookStore interface {
	Create(ctx context.Context, nb *model.Notebook) error
	Get(ctx context.Context, id string) (*model.Notebook, error)
	Save(ctx context.Context, nb *model.Notebook) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerPrincipal string) ([]*model.Notebook, error)
}

// ErrNotFound is returned by Get/Delete when no notebook with the given id
// exists.
var ErrNotFound = fmt.Errorf("notebook not found")

// ErrAlreadyExists is returned by Create when the id is already taken.
var ErrAlreadyExists = fmt.Errorf("notebook already exists")

// FileStore is a NotebookStore backed by one JSON file per notebook under
// a directory, written via a temp-file-then-rename so a crash mid-write
// never corrupts an existing snapshot.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore constructs a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) Create(ctx context.Context, nb *model.Notebook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path(nb.ID)); err == nil {
		return ErrAlreadyExists
	}
	return s.write(nb)
}

func (s *FileStore) Save(ctx context.Context, nb *model.Notebook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(nb)
}

func (s *FileStore) write(nb *model.Notebook) error {
	data, err := json.MarshalIndent(nb, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal notebook: %w", err)
	}
	tmp := s.path(nb.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path(nb.ID)); err != nil {
		return fmt.Errorf("store: rename into place: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*model.Notebook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read notebook: %w", err)
	}
	var nb model.Notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, fmt.Errorf("store: unmarshal notebook: %w", err)
	}
	// Reads/writes and graph are always recomputed, never trusted from
	// disk (DESIGN.md "write-set persistence").
	for _, c := range nb.Cells {
		c.Status = model.CellStatusIdle
	}
	return &nb, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("store: delete notebook: %w", err)
	}
	return nil
}

func (s *FileStore) ListByOwner(ctx context.Context, ownerPrincipal string) ([]*model.Notebook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: list directory: %w", err)
	}
	var out []*model.Notebook
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var nb model.Notebook
		if err := json.Unmarshal(data, &nb); err != nil {
			continue
		}
		if nb.OwnerPrincipal == ownerPrincipal {
			out = append(out, &nb)
		}
	}
	return out, nil
}
