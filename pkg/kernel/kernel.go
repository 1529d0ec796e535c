package kernel

import (
	"context"
	"fmt"

	"github.com/cellmesh/cellmesh/internal/domain/model"
	"github.com/cellmesh/cellmesh/pkg/depextract"
	"github.com/cellmesh/cellmesh/pkg/depgraph"
	"github.com/cellmesh/cellmesh/pkg/outputconv"
)

// QueryExecFactory builds a QueryExecutor for a connection string. It is
// injected so pkg/kernel never imports a concrete database driver —
// internal/infrastructure/store supplies the Postgres implementation.
type QueryExecFactory func(connectionString string) (QueryExecutor, error)

type registeredCell struct {
	code     string
	typ      model.CellType
	position int
	reads    []string
	writes   []string
}

// Kernel is one notebook's isolated execution worker. It must only be
// driven by feeding Requests into In and reading Notifications from Out —
// Run owns every other field and must not be touched from another
// goroutine.
type Kernel struct {
	In  chan Request
	Out chan Notification

	globals *Globals
	graph   *depgraph.Graph
	cells   map[string]*registeredCell
	hasRun  map[string]bool

	imperative *imperativeEvaluator
	query      *queryEvaluator
	converters *outputconv.Registry

	queryExecFactory QueryExecFactory
	queryExec        QueryExecutor

	rowCap int
}

// Option configures a Kernel at construction time.
type Option func(*Kernel)

// WithQueryExecFactory installs the factory used to build a QueryExecutor
// when a SetDbConfig request arrives.
func WithQueryExecFactory(f QueryExecFactory) Option {
	return func(k *Kernel) { k.queryExecFactory = f }
}

// WithRowCap overrides the QUERY cell soft row cap (default 1000).
func WithRowCap(n int) Option {
	return func(k *Kernel) { k.rowCap = n }
}

// New constructs a Kernel with unstarted channels; call Run in its own
// goroutine to start processing.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		In:         make(chan Request, 64),
		Out:        make(chan Notification, 256),
		globals:    newGlobals(),
		graph:      depgraph.New(),
		cells:      make(map[string]*registeredCell),
		hasRun:     make(map[string]bool),
		imperative: newImperativeEvaluator(),
		converters: outputconv.NewRegistry(),
		rowCap:     1000,
	}
	for _, opt := range opts {
		opt(k)
	}
	k.query = newQueryEvaluator(k.rowCap)
	return k
}

// Run processes requests from In until Shutdown or In is closed, then
// closes Out. It must be called exactly once, from its own goroutine.
func (k *Kernel) Run(ctx context.Context) {
	defer close(k.Out)
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-k.In:
			if !ok {
				return
			}
			switch req.Kind {
			case RequestRegisterCell:
				k.handleRegister(req)
			case RequestExecute:
				k.handleExecute(ctx, req)
			case RequestInvalidateCell:
				k.invalidateWrites(req.CellID)
			case RequestSetPositions:
				k.handleSetPositions(req)
			case RequestSetDBConfig:
				k.handleSetDBConfig(req)
			case RequestShutdown:
				return
			}
		}
	}
}

// emit blocks when Out's buffer is full rather than dropping: observers
// must never silently miss a notification, and per-cell FIFO order is part
// of the contract. Back-pressure relief lives at the fan-out layer, where
// a message that does not fit a slow observer's buffer is dropped instead.
func (k *Kernel) emit(n Notification) {
	k.Out <- n
}

func (k *Kernel) handleRegister(req Request) {
	var reads, writes []string
	if req.Type == model.CellTypeQuery {
		reads, writes = depextract.ExtractQuery(req.Code)
	} else {
		reads, writes = depextract.Extract(req.Code)
	}

	position := req.Position
	if position < 0 {
		if existing, ok := k.cells[req.CellID]; ok {
			position = existing.position
		} else {
			position = len(k.cells)
		}
	}

	err := k.graph.Upsert(depgraph.Cell{ID: req.CellID, Position: position, Reads: reads, Writes: writes})
	if err != nil {
		k.emit(Notification{CellID: req.CellID, Channel: ChannelError, ErrKind: model.ErrorKindCycleDetected, ErrMsg: err.Error()})
		k.emit(Notification{CellID: req.CellID, Channel: ChannelStatus, Status: model.CellStatusBlocked})
		return
	}

	k.cells[req.CellID] = &registeredCell{code: req.Code, typ: req.Type, position: position, reads: reads, writes: writes}
	// The cell and everything downstream of it is stale now.
	for _, d := range k.graph.AffectedOnChange(req.CellID) {
		k.hasRun[d] = false
	}

	k.emit(Notification{CellID: req.CellID, Channel: ChannelMetadata, Reads: reads, Writes: writes})
	k.emit(Notification{CellID: req.CellID, Channel: ChannelStatus, Status: model.CellStatusIdle})
}

// handleSetPositions resyncs topological tie-break order after a
// structural change (insert mid-notebook, delete) shifted cells whose code
// did not change. No has_run invalidation: reordering alone does not stale
// anything.
func (k *Kernel) handleSetPositions(req Request) {
	for id, pos := range req.Positions {
		if c, ok := k.cells[id]; ok {
			c.position = pos
		}
		k.graph.SetPosition(id, pos)
	}
}

func (k *Kernel) handleSetDBConfig(req Request) {
	if k.queryExecFactory == nil {
		k.emit(Notification{CellID: SystemCellID, Channel: ChannelError, ErrKind: model.ErrorKindBackendNotConfigured, ErrMsg: "no query executor factory configured", ConnectionString: req.ConnectionString})
		return
	}
	exec, err := k.queryExecFactory(req.ConnectionString)
	if err != nil {
		k.emit(Notification{CellID: SystemCellID, Channel: ChannelError, ErrKind: model.ErrorKindBackendNotConfigured, ErrMsg: err.Error(), ConnectionString: req.ConnectionString})
		return
	}
	k.queryExec = exec
	k.emit(Notification{CellID: SystemCellID, Channel: ChannelStatus, Status: model.CellStatusSuccess, ConnectionString: req.ConnectionString})
}

func (k *Kernel) handleExecute(ctx context.Context, req Request) {
	_, registered := k.cells[req.CellID]
	if !registered {
		if k.graph.Contains(req.CellID) {
			// Blocked at registration time (cycle); error already emitted.
			return
		}
		k.emit(Notification{
			CellID: req.CellID, Channel: ChannelError,
			ErrKind: model.ErrorKindCellNotRegistered,
			ErrMsg:  fmt.Sprintf("cell %s not registered; cells must be registered before execution", req.CellID),
		})
		return
	}
	toRun := k.graph.AffectedOnRun(req.CellID, func(id string) bool { return k.hasRun[id] })
	blocked := make(map[string]bool)

	for _, id := range toRun {
		c, ok := k.cells[id]
		if !ok {
			continue
		}
		if blocked[id] {
			k.emit(Notification{CellID: id, Channel: ChannelError, ErrKind: model.ErrorKindRuntime, ErrMsg: "upstream dependency failed"})
			k.emit(Notification{CellID: id, Channel: ChannelStatus, Status: model.CellStatusBlocked})
			continue
		}

		k.emit(Notification{CellID: id, Channel: ChannelStatus, Status: model.CellStatusRunning})

		var result ExecResult
		if c.typ == model.CellTypeQuery {
			result = k.query.run(ctx, k.queryExec, k.globals, c.code)
		} else {
			result = k.imperative.run(k.globals, c.code)
		}

		if result.Stdout != "" {
			k.emit(Notification{CellID: id, Channel: ChannelStdout, Stdout: result.Stdout})
		}

		if result.Err == nil && result.Value != nil {
			out, convErr := k.converters.Convert(result.Value)
			if convErr == nil {
				k.emit(Notification{CellID: id, Channel: ChannelOutput, Output: out})
			}
		}

		// Final STATUS is always the last notification for the cell.
		k.emit(Notification{CellID: id, Channel: ChannelMetadata, Reads: c.reads, Writes: c.writes})
		if result.Err != nil {
			k.hasRun[id] = false
			k.emit(Notification{CellID: id, Channel: ChannelError, ErrKind: classifyErr(result.Err), ErrMsg: result.Err.Error()})
			k.emit(Notification{CellID: id, Channel: ChannelStatus, Status: model.CellStatusError})
			for _, d := range k.graph.AffectedOnChange(id)[1:] {
				blocked[d] = true
			}
		} else {
			k.hasRun[id] = true
			k.emit(Notification{CellID: id, Channel: ChannelStatus, Status: model.CellStatusSuccess})
		}
	}
}

// invalidateWrites clears globals bound by a deleted cell's writes and
// drops it from the graph and registry — driven by a RequestInvalidateCell
// message (never called directly) so it stays serialized with every other
// access to kernel state, per locked_delete_cell (spec.md §4.6).
func (k *Kernel) invalidateWrites(cellID string) {
	if c, ok := k.cells[cellID]; ok {
		for _, w := range c.writes {
			k.globals.delete(w)
		}
	}
	k.graph.Remove(cellID)
	delete(k.cells, cellID)
	delete(k.hasRun, cellID)
}

func classifyErr(err error) model.ErrorKind {
	msg := err.Error()
	switch {
	case len(msg) >= 12 && msg[:12] == "PARSE_ERROR:":
		return model.ErrorKindParse
	case len(msg) >= 26 && msg[:26] == "TEMPLATE_VARIABLE_MISSING:":
		return model.ErrorKindTemplateVariableMissing
	case len(msg) >= 23 && msg[:23] == "BACKEND_NOT_CONFIGURED:":
		return model.ErrorKindBackendNotConfigured
	default:
		return model.ErrorKindRuntime
	}
}
