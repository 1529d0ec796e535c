// Package kernelmgr supervises a notebook's pkg/kernel.Kernel goroutine:
// spawning it, recovering its panics into a KernelDied notification, and
// replacing it wholesale on Restart. Grounded on the teacher's
// internal/application/observer supervise-and-recover idiom, applied to a
// single long-lived worker goroutine instead of a fan-out of observers.
package kernelmgr

import (
	"context"
	"sync"

	"github.com/cellmesh/cellmesh/internal/infrastructure/logger"
	"github.com/cellmesh/cellmesh/pkg/kernel"
)

// Manager owns one Kernel for one notebook and the goroutine running it.
type Manager struct {
	mu         sync.Mutex
	notebookID string
	logger     *logger.Logger
	opts       []kernel.Option

	k      *kernel.Kernel
	cancel context.CancelFunc
	dead   chan struct{} // closed when the current kernel's Run returns
}

// New constructs a Manager and immediately spawns its first Kernel.
func New(notebookID string, log *logger.Logger, opts ...kernel.Option) *Manager {
	m := &Manager{notebookID: notebookID, logger: log, opts: opts}
	m.spawn()
	return m
}

func (m *Manager) spawn() {
	ctx, cancel := context.WithCancel(context.Background())
	k := kernel.New(m.opts...)
	dead := make(chan struct{})

	m.mu.Lock()
	m.k = k
	m.cancel = cancel
	m.dead = dead
	m.mu.Unlock()

	go func() {
		defer close(dead)
		defer func() {
			if r := recover(); r != nil && m.logger != nil {
				m.logger.Error("kernel goroutine panic recovered", "notebook_id", m.notebookID, "panic", r)
			}
		}()
		k.Run(ctx)
	}()
}

// Send enqueues a request on the current kernel's inbound channel.
func (m *Manager) Send(req kernel.Request) {
	m.mu.Lock()
	k := m.k
	m.mu.Unlock()
	k.In <- req
}

// Notifications returns the current kernel's outbound channel. It changes
// identity on Restart — callers that need to survive a restart should
// call this again after observing the old channel close.
func (m *Manager) Notifications() <-chan kernel.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.k.Out
}

// Died returns a channel closed when the current kernel's goroutine exits,
// whether from Shutdown, a cancelled context, or a recovered panic.
func (m *Manager) Died() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dead
}

// Restart tears down the current kernel (cancelling its context) and
// spawns a fresh one with empty Globals and an empty has-run table —
// a dead kernel's state is gone, matching spec.md's restart semantics.
func (m *Manager) Restart() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	cancel()
	<-m.Died()
	m.spawn()
}

// Shutdown stops the current kernel and releases it.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	cancel()
	<-m.Died()
}
