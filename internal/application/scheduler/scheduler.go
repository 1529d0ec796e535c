// Package scheduler coalesces repeated run requests for the same cell
// arriving faster than the kernel can drain them, per spec.md §4.5. The
// kernel goroutine already serializes Execute requests from its own inbound
// channel, so the scheduler's only job is de-duplication: a cell already
// queued to run again doesn't get a second queue entry until its first run
// has been dispatched.
package scheduler

import (
	"sync"

	"github.com/cellmesh/cellmesh/pkg/kernel"
)

// Sender dispatches a request to the notebook's kernel — normally
// (*kernelmgr.Manager).Send.
type Sender func(kernel.Request)

// Scheduler coalesces RequestRun calls for one notebook into a FIFO drain
// loop. It is safe for concurrent use.
type Scheduler struct {
	mu       sync.Mutex
	pending  map[string]bool
	queue    []string
	draining bool
	send     Sender
}

// New constructs a Scheduler that dispatches through send.
func New(send Sender) *Scheduler {
	return &Scheduler{pending: make(map[string]bool), send: send}
}

// RequestRun enqueues a run of cellID. If cellID is already queued (a run
// requested but not yet dispatched), this call is a no-op — the cell runs
// once, not once per request.
func (s *Scheduler) RequestRun(cellID string) {
	s.mu.Lock()
	if s.pending[cellID] {
		s.mu.Unlock()
		return
	}
	s.pending[cellID] = true
	s.queue = append(s.queue, cellID)
	needDrain := !s.draining
	if needDrain {
		s.draining = true
	}
	s.mu.Unlock()

	if needDrain {
		go s.drain()
	}
}

func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		cellID := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.pending, cellID)
		s.mu.Unlock()

		s.send(kernel.Request{Kind: kernel.RequestExecute, CellID: cellID})
	}
}

// Pending reports whether cellID currently has a queued, not-yet-dispatched
// run request — exposed for tests.
func (s *Scheduler) Pending(cellID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[cellID]
}
