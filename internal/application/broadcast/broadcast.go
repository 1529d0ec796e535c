// Package broadcast fans Kernel notifications out to every live observer
// of a notebook (spec.md §6's live bidirectional channel). It is modeled
// on the teacher's internal/application/observer.ObserverManager: observers
// are registered/unregistered by id, and a send to one observer never
// blocks or fails another.
package broadcast

import (
	"sync"

	"github.com/cellmesh/cellmesh/internal/domain/model"
	"github.com/cellmesh/cellmesh/internal/infrastructure/logger"
)

// MessageType is the closed set of live-channel frame kinds.
type MessageType string

const (
	TypeCellStatus   MessageType = "cell_status"
	TypeCellStdout   MessageType = "cell_stdout"
	TypeCellOutput   MessageType = "cell_output"
	TypeCellError    MessageType = "cell_error"
	TypeCellMetadata MessageType = "cell_metadata"

	// Structural events, broadcast by the Coordinator only after the
	// corresponding notebook mutation is durable.
	TypeCellCreated         MessageType = "cell_created"
	TypeCellUpdated         MessageType = "cell_updated"
	TypeCellDeleted         MessageType = "cell_deleted"
	TypeDBConnectionUpdated MessageType = "db_connection_updated"

	TypeKernelError MessageType = "kernel_error"
	TypeSystem      MessageType = "system"
)

// Message is one outbound frame on a notebook's live channel.
type Message struct {
	Type       MessageType     `json:"type"`
	NotebookID string          `json:"notebook_id"`
	CellID     string          `json:"cell_id,omitempty"`
	Status     model.CellStatus `json:"status,omitempty"`
	Stdout     string          `json:"stdout,omitempty"`
	Output     *model.Output   `json:"output,omitempty"`
	ErrKind    model.ErrorKind `json:"error_kind,omitempty"`
	ErrMsg     string          `json:"error_message,omitempty"`
	Reads      []string        `json:"reads,omitempty"`
	Writes     []string        `json:"writes,omitempty"`

	// Structural events.
	Cell             *model.Cell `json:"cell,omitempty"`
	Index            int         `json:"index"`
	ConnectionString string      `json:"connection_string,omitempty"`
}

// Observer receives fanned-out messages for one notebook. Send must not
// block the caller for long — a websocket-backed implementation typically
// writes into its own buffered outbound queue and drops/closes on overflow.
type Observer interface {
	ID() string
	Send(msg Message)
}

type notebookObservers struct {
	mu        sync.RWMutex
	observers map[string]Observer
}

// Manager is the per-notebook observer registry and fan-out point.
type Manager struct {
	mu        sync.RWMutex
	notebooks map[string]*notebookObservers
	logger    *logger.Logger
}

// New constructs an empty Manager.
func New(log *logger.Logger) *Manager {
	return &Manager{notebooks: make(map[string]*notebookObservers), logger: log}
}

// Register adds an observer for a notebook's live channel.
func (m *Manager) Register(notebookID string, obs Observer) {
	m.mu.Lock()
	no, ok := m.notebooks[notebookID]
	if !ok {
		no = &notebookObservers{observers: make(map[string]Observer)}
		m.notebooks[notebookID] = no
	}
	m.mu.Unlock()

	no.mu.Lock()
	no.observers[obs.ID()] = obs
	no.mu.Unlock()
}

// Unregister removes an observer from a notebook's live channel.
func (m *Manager) Unregister(notebookID, observerID string) {
	m.mu.RLock()
	no, ok := m.notebooks[notebookID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	no.mu.Lock()
	delete(no.observers, observerID)
	no.mu.Unlock()
}

// ObserverCount reports how many observers are currently registered for a
// notebook, used by the idle-kernel-eviction sweep.
func (m *Manager) ObserverCount(notebookID string) int {
	m.mu.RLock()
	no, ok := m.notebooks[notebookID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	no.mu.RLock()
	defer no.mu.RUnlock()
	return len(no.observers)
}

// Broadcast sends msg to every observer of a notebook. A panicking
// observer is recovered and logged; it never prevents delivery to others.
func (m *Manager) Broadcast(msg Message) {
	m.mu.RLock()
	no, ok := m.notebooks[msg.NotebookID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	no.mu.RLock()
	observers := make([]Observer, 0, len(no.observers))
	for _, obs := range no.observers {
		observers = append(observers, obs)
	}
	no.mu.RUnlock()

	for _, obs := range observers {
		m.sendOne(obs, msg)
	}
}

func (m *Manager) sendOne(obs Observer, msg Message) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.Error("broadcast observer panic recovered", "observer", obs.ID(), "panic", r)
		}
	}()
	obs.Send(msg)
}
