// Command notebookctl drives a notebook directly against a NotebookStore
// without a server in front of it: create a notebook, register a small
// chain of dependent cells, run the first one, and print the cascade of
// live-channel events plus the final cell states. The demo cells are
// grounded on original_source's demo_notebook.py dependency chain
// (x -> y -> a cell reading both), adapted from Python/matplotlib to
// IMPERATIVE arithmetic since there is no plotting stack in this runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cellmesh/cellmesh/internal/application/broadcast"
	"github.com/cellmesh/cellmesh/internal/application/coordinator"
	"github.com/cellmesh/cellmesh/internal/application/notebooksvc"
	"github.com/cellmesh/cellmesh/internal/config"
	"github.com/cellmesh/cellmesh/internal/domain/model"
	"github.com/cellmesh/cellmesh/internal/infrastructure/logger"
	"github.com/cellmesh/cellmesh/internal/infrastructure/store"
)

var (
	storeDir string
	timeout  time.Duration
)

func init() {
	flag.StringVar(&storeDir, "store-dir", "./data/notebookctl-demo", "directory the demo file store persists notebooks under")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the run cascade to settle before printing results")
}

func main() {
	flag.Parse()

	appLogger := logger.New(config.LoggingConfig{Level: "warn", Format: "text"})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fileStore, err := store.NewFileStore(storeDir)
	if err != nil {
		slogFatal("open file store: %v", err)
	}

	svc := notebooksvc.New(fileStore)
	broadcaster := broadcast.New(appLogger)
	coord := coordinator.New(svc, broadcaster, appLogger, nil, 1000)

	nb, err := svc.CreateNotebook(ctx, "notebookctl", "dependency demo")
	if err != nil {
		slogFatal("create notebook: %v", err)
	}
	fmt.Printf("created notebook %s\n", nb.ID)

	cellX := mustCreateCell(ctx, svc, coord, nb.ID, "x = 10  # upstream variable")
	cellY := mustCreateCell(ctx, svc, coord, nb.ID, "y = x + 5  # depends on x")
	cellZ := mustCreateCell(ctx, svc, coord, nb.ID, "z = x + y  # depends on both")

	watch := newCascadeWatcher([]string{cellX.ID, cellY.ID, cellZ.ID})
	broadcaster.Register(nb.ID, watch)

	fmt.Printf("running cell %s\n", cellX.ID)
	coord.RunCell(nb.ID, cellX.ID)

	select {
	case <-watch.done:
	case <-ctx.Done():
		fmt.Println("timed out waiting for the run cascade to settle")
	}

	cells, revision, err := svc.LockedSnapshot(ctx, nb.ID)
	if err != nil {
		slogFatal("snapshot notebook: %v", err)
	}

	fmt.Printf("\nnotebook %s at revision %d:\n", nb.ID, revision)
	for _, cell := range cells {
		fmt.Printf("  cell %s [%s]: code=%q status=%s", cell.ID, cell.Type, cell.Code, cell.Status)
		if cell.Error != "" {
			fmt.Printf(" error=%q", cell.Error)
		}
		fmt.Println()
	}
}

func mustCreateCell(ctx context.Context, svc *notebooksvc.Service, coord *coordinator.Coordinator, notebookID, code string) *model.Cell {
	cell, _, err := svc.LockedCreateCell(ctx, notebookID, uuid.NewString(), model.CellTypeImperative, code, notebooksvc.AppendCell)
	if err != nil {
		slogFatal("create cell: %v", err)
	}
	coord.CellCreated(notebookID, cell)
	return cell
}

// cascadeWatcher is a broadcast.Observer that prints every event for a
// notebook and signals done once every watched cell has reached a
// terminal status (SUCCESS, ERROR or BLOCKED).
type cascadeWatcher struct {
	id       string
	mu       sync.Mutex
	pending  map[string]bool
	done     chan struct{}
	closed   bool
}

func newCascadeWatcher(cellIDs []string) *cascadeWatcher {
	pending := make(map[string]bool, len(cellIDs))
	for _, id := range cellIDs {
		pending[id] = true
	}
	return &cascadeWatcher{id: uuid.NewString(), pending: pending, done: make(chan struct{})}
}

func (w *cascadeWatcher) ID() string { return w.id }

func (w *cascadeWatcher) Send(msg broadcast.Message) {
	fmt.Printf("  event: type=%s cell=%s status=%s error=%s\n", msg.Type, msg.CellID, msg.Status, msg.ErrMsg)

	if msg.Type != broadcast.TypeCellStatus {
		return
	}
	switch msg.Status {
	case model.CellStatusSuccess, model.CellStatusError, model.CellStatusBlocked:
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	delete(w.pending, msg.CellID)
	if len(w.pending) == 0 {
		w.closed = true
		close(w.done)
	}
}

func slogFatal(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
