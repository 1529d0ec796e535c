// Package coordinator wires a notebook's KernelManager, Scheduler and
// Broadcaster together: it owns one Kernel per active notebook, forwards
// NotebookService mutations into Kernel requests, and translates the
// Kernel's notification stream into broadcast.Messages. The translation
// table is grounded verbatim on original_source's
// orchestration/coordinator.py _broadcast_notification function, including
// its "__system__" sentinel cell id convention.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cellmesh/cellmesh/internal/application/broadcast"
	"github.com/cellmesh/cellmesh/internal/application/kernelmgr"
	"github.com/cellmesh/cellmesh/internal/application/notebooksvc"
	"github.com/cellmesh/cellmesh/internal/application/scheduler"
	"github.com/cellmesh/cellmesh/internal/domain/model"
	"github.com/cellmesh/cellmesh/internal/infrastructure/logger"
	"github.com/cellmesh/cellmesh/pkg/kernel"
)

type activeNotebook struct {
	km         *kernelmgr.Manager
	sched      *scheduler.Scheduler
	lastActive time.Time
}

// Coordinator is the glue between NotebookService, per-notebook Kernels,
// and the Broadcaster.
type Coordinator struct {
	svc         *notebooksvc.Service
	broadcaster *broadcast.Manager
	logger      *logger.Logger
	queryExec   kernel.QueryExecFactory
	rowCap      int

	mu     sync.Mutex
	active map[string]*activeNotebook

	sweep *cron.Cron
}

// New constructs a Coordinator. queryExecFactory may be nil (QUERY cells
// then always fail BACKEND_NOT_CONFIGURED, and set_db_config fails with
// the same error, so no connection can be set).
func New(svc *notebooksvc.Service, broadcaster *broadcast.Manager, log *logger.Logger, queryExecFactory kernel.QueryExecFactory, rowCap int) *Coordinator {
	return &Coordinator{
		svc:         svc,
		broadcaster: broadcaster,
		logger:      log,
		queryExec:   queryExecFactory,
		rowCap:      rowCap,
		active:      make(map[string]*activeNotebook),
	}
}

// StartEvictionSweep runs a periodic job tearing down kernels that have
// had no observers and no run request for evictAfter. Call at most once;
// the sweep keeps running until the process exits.
func (c *Coordinator) StartEvictionSweep(evictAfter time.Duration) {
	c.sweep = cron.New()
	c.sweep.AddFunc("@every 1m", func() { c.evictIdle(evictAfter) })
	c.sweep.Start()
}

func (c *Coordinator) evictIdle(evictAfter time.Duration) {
	c.mu.Lock()
	evicted := make(map[string]*kernelmgr.Manager)
	now := time.Now()
	for id, an := range c.active {
		if c.broadcaster.ObserverCount(id) > 0 {
			continue
		}
		if now.Sub(an.lastActive) >= evictAfter {
			evicted[id] = an.km
			delete(c.active, id)
		}
	}
	c.mu.Unlock()

	for id, km := range evicted {
		c.logger.Info("evicting idle notebook kernel", "notebook_id", id)
		km.Shutdown()
	}
}

// Broadcaster exposes the Coordinator's Broadcaster so transport-layer
// connections can register themselves as observers directly.
func (c *Coordinator) Broadcaster() *broadcast.Manager {
	return c.broadcaster
}

// ensureActive returns the active kernel/scheduler pair for a notebook,
// spawning a fresh Kernel on first observer attach or first execution
// (spec.md §3 "A Kernel is spawned on first observer attach..."). A newly
// spawned kernel is seeded with every currently persisted cell so that a
// notebook reopened in a new process (or never yet registered in this
// one) still has a kernel that knows its cells before the first Execute.
func (c *Coordinator) ensureActive(notebookID string) *activeNotebook {
	c.mu.Lock()
	if an, ok := c.active[notebookID]; ok {
		an.lastActive = time.Now()
		c.mu.Unlock()
		return an
	}

	opts := []kernel.Option{kernel.WithRowCap(c.rowCap)}
	if c.queryExec != nil {
		opts = append(opts, kernel.WithQueryExecFactory(c.queryExec))
	}
	km := kernelmgr.New(notebookID, c.logger, opts...)
	an := &activeNotebook{km: km, lastActive: time.Now()}
	an.sched = scheduler.New(func(req kernel.Request) { km.Send(req) })
	c.active[notebookID] = an
	c.mu.Unlock()

	go c.pump(notebookID, km)
	c.seedKernel(notebookID, an)
	return an
}

// seedKernel replays every persisted cell into a freshly spawned kernel so
// the DepGraph is rebuilt from scratch (spec.md §3) before any Execute
// request can reach it.
func (c *Coordinator) seedKernel(notebookID string, an *activeNotebook) {
	cells, _, err := c.svc.LockedSnapshot(context.Background(), notebookID)
	if err != nil {
		return
	}
	for i, cell := range cells {
		an.km.Send(kernel.Request{Kind: kernel.RequestRegisterCell, CellID: cell.ID, Code: cell.Code, Type: cell.Type, Position: i})
	}
}

// pump translates one kernel's notifications into broadcast messages
// until its outbound channel closes (kernel death or Shutdown).
func (c *Coordinator) pump(notebookID string, km *kernelmgr.Manager) {
	notifications := km.Notifications()
	for n := range notifications {
		c.broadcaster.Broadcast(translate(notebookID, n))
	}
	c.handleKernelDeath(notebookID)
}

func (c *Coordinator) handleKernelDeath(notebookID string) {
	c.broadcaster.Broadcast(broadcast.Message{
		Type:       broadcast.TypeKernelError,
		NotebookID: notebookID,
		CellID:     kernel.SystemCellID,
		ErrKind:    model.ErrorKindKernelDied,
		ErrMsg:     "kernel process terminated unexpectedly",
	})

	// Supplemented behavior (DESIGN.md): after the kernel_error, broadcast
	// a BLOCKED cell_status for every cell, matching original_source's
	// coordinator re-rendering every cell as blocked. The in-memory
	// notebook's cell statuses are not changed.
	cells, _, err := c.svc.LockedSnapshot(context.Background(), notebookID)
	if err == nil {
		for _, cell := range cells {
			c.broadcaster.Broadcast(broadcast.Message{
				Type:       broadcast.TypeCellStatus,
				NotebookID: notebookID,
				CellID:     cell.ID,
				Status:     model.CellStatusBlocked,
			})
		}
	}
}

// RegisterCell forwards a cell's current code to its notebook's kernel.
// position is the cell's index in the notebook sequence; pass a negative
// value to keep the kernel's existing position for the cell.
func (c *Coordinator) RegisterCell(notebookID string, cell *model.Cell, position int) {
	an := c.ensureActive(notebookID)
	an.km.Send(kernel.Request{Kind: kernel.RequestRegisterCell, CellID: cell.ID, Code: cell.Code, Type: cell.Type, Position: position})
}

// RunCell schedules a run of cellID on its notebook's kernel.
func (c *Coordinator) RunCell(notebookID, cellID string) {
	an := c.ensureActive(notebookID)
	an.sched.RequestRun(cellID)
}

// CellCreated registers a just-persisted cell with the kernel, resyncs
// positions (an insert mid-notebook shifts every cell after it) and
// broadcasts the structural event. Called only after the mutation is
// durable, so observers never see a cell that a crash could un-create.
func (c *Coordinator) CellCreated(notebookID string, cell *model.Cell) {
	index := 0
	if positions, err := c.svc.CellPositions(context.Background(), notebookID); err == nil {
		index = positions[cell.ID]
	}
	c.RegisterCell(notebookID, cell, index)
	c.syncPositions(notebookID)
	c.broadcaster.Broadcast(broadcast.Message{
		Type:       broadcast.TypeCellCreated,
		NotebookID: notebookID,
		CellID:     cell.ID,
		Cell:       cell,
		Index:      index,
	})
}

// CellUpdated re-registers an edited cell with the kernel and broadcasts
// the structural event.
func (c *Coordinator) CellUpdated(notebookID string, cell *model.Cell) {
	c.RegisterCell(notebookID, cell, -1)
	c.broadcaster.Broadcast(broadcast.Message{
		Type:       broadcast.TypeCellUpdated,
		NotebookID: notebookID,
		CellID:     cell.ID,
		Cell:       cell,
	})
}

// CellDeleted tells the kernel the cell is gone (its written globals are
// cleared and it drops out of the kernel's graph copy), resyncs positions
// and broadcasts the structural event.
func (c *Coordinator) CellDeleted(notebookID, cellID string) {
	an := c.ensureActive(notebookID)
	an.km.Send(kernel.Request{Kind: kernel.RequestInvalidateCell, CellID: cellID})
	c.syncPositions(notebookID)
	c.broadcaster.Broadcast(broadcast.Message{
		Type:       broadcast.TypeCellDeleted,
		NotebookID: notebookID,
		CellID:     cellID,
	})
}

// SetDBConfig forwards a notebook's QUERY backend connection string to its
// kernel. The kernel attempts the connection and acknowledges with a
// SystemCellID notification, which the pump translates into the
// db_connection_updated broadcast — observers see the real outcome, never
// an assumed success.
func (c *Coordinator) SetDBConfig(notebookID, connectionString string) {
	an := c.ensureActive(notebookID)
	an.km.Send(kernel.Request{Kind: kernel.RequestSetDBConfig, ConnectionString: connectionString})
}

// syncPositions pushes the notebook's current cell-id -> index mapping to
// the kernel so its topological tie-breaking keeps matching the visual
// top-to-bottom order.
func (c *Coordinator) syncPositions(notebookID string) {
	positions, err := c.svc.CellPositions(context.Background(), notebookID)
	if err != nil {
		return
	}
	an := c.ensureActive(notebookID)
	an.km.Send(kernel.Request{Kind: kernel.RequestSetPositions, Positions: positions})
}

// translate maps one kernel.Notification to its live-channel broadcast.Message.
func translate(notebookID string, n kernel.Notification) broadcast.Message {
	// SystemCellID notifications are SetDbConfig acknowledgements: success
	// arrives on the status channel, a failed connection on the error
	// channel. Both become the db_connection_updated shape.
	if n.CellID == kernel.SystemCellID {
		msg := broadcast.Message{
			Type:             broadcast.TypeDBConnectionUpdated,
			NotebookID:       notebookID,
			ConnectionString: n.ConnectionString,
			Status:           n.Status,
			ErrKind:          n.ErrKind,
			ErrMsg:           n.ErrMsg,
		}
		if n.Channel == kernel.ChannelError {
			msg.Status = model.CellStatusError
		}
		return msg
	}

	msg := broadcast.Message{
		NotebookID: notebookID,
		CellID:     n.CellID,
		Status:     n.Status,
		Stdout:     n.Stdout,
		ErrKind:    n.ErrKind,
		ErrMsg:     n.ErrMsg,
		Reads:      n.Reads,
		Writes:     n.Writes,
	}
	if n.Channel == kernel.ChannelOutput {
		out := n.Output
		msg.Output = &out
	}
	switch n.Channel {
	case kernel.ChannelStatus:
		msg.Type = broadcast.TypeCellStatus
	case kernel.ChannelStdout:
		msg.Type = broadcast.TypeCellStdout
	case kernel.ChannelOutput:
		msg.Type = broadcast.TypeCellOutput
	case kernel.ChannelError:
		msg.Type = broadcast.TypeCellError
	case kernel.ChannelMetadata:
		msg.Type = broadcast.TypeCellMetadata
	default:
		msg.Type = broadcast.TypeSystem
	}
	return msg
}
