// Package model defines the core notebook, cell and output types shared
// across the engine.
package model

import (
	"sync"
	"time"

	"github.com/cellmesh/cellmesh/pkg/depgraph"
)

// CellType identifies the language a cell's source is written in.
type CellType string

const (
	CellTypeImperative CellType = "IMPERATIVE"
	CellTypeQuery      CellType = "QUERY"
)

// CellStatus is the runtime state of a cell. It is never persisted as
// authoritative: on load every cell resumes as CellStatusIdle.
type CellStatus string

const (
	CellStatusIdle    CellStatus = "IDLE"
	CellStatusRunning CellStatus = "RUNNING"
	CellStatusSuccess CellStatus = "SUCCESS"
	CellStatusError   CellStatus = "ERROR"
	CellStatusBlocked CellStatus = "BLOCKED"
)

// Output is one renderable result of a cell evaluation.
type Output struct {
	MimeType string         `json:"mime_type"`
	Data     any            `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Cell is a single unit of code within a notebook.
type Cell struct {
	ID     string   `json:"id"`
	Type   CellType `json:"type"`
	Code   string   `json:"code"`
	Status CellStatus `json:"status"`
	Stdout string   `json:"stdout,omitempty"`
	Outputs []Output `json:"outputs,omitempty"`
	Error  string   `json:"error,omitempty"`

	// Reads and Writes are the statically-extracted dependency sets; they
	// are advisory on load and always recomputed from Code, never trusted
	// as authoritative (see DESIGN.md "write-set persistence precedence").
	Reads  []string `json:"reads"`
	Writes []string `json:"writes"`
}

// Clone returns a deep copy of the cell safe to hand to observers.
func (c *Cell) Clone() *Cell {
	clone := *c
	clone.Reads = append([]string(nil), c.Reads...)
	clone.Writes = append([]string(nil), c.Writes...)
	if c.Outputs != nil {
		clone.Outputs = append([]Output(nil), c.Outputs...)
	}
	return &clone
}

// Notebook is an ordered sequence of cells with an owner and optional
// database connection string for QUERY cells.
type Notebook struct {
	ID                 string    `json:"id"`
	OwnerPrincipal     string    `json:"owner_principal"`
	Name               string    `json:"name,omitempty"`
	DBConnectionString string    `json:"db_connection_string,omitempty"`
	Revision           int64     `json:"revision"`
	Cells              []*Cell   `json:"cells"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	// Mu serializes every structural mutation and command dispatch for this
	// notebook (spec.md §5's notebook-level mutex). Graph is the live
	// DepGraph rebuilt incrementally on every cell upsert/remove and from
	// scratch on load. Both are exclusively owned by this Notebook — never
	// copied, never accessed without holding Mu.
	Mu    sync.Mutex     `json:"-"`
	Graph *depgraph.Graph `json:"-"`
}

// EnsureGraph lazily initializes Graph. Callers must hold Mu.
func (n *Notebook) EnsureGraph() *depgraph.Graph {
	if n.Graph == nil {
		n.Graph = depgraph.New()
	}
	return n.Graph
}

// CellByID returns the cell with the given id, or nil.
func (n *Notebook) CellByID(id string) *Cell {
	for _, c := range n.Cells {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// IndexOf returns the position of the cell with the given id, or -1.
func (n *Notebook) IndexOf(id string) int {
	for i, c := range n.Cells {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// Snapshot returns a deep, detached copy of the notebook's cell list with
// public fields only, suitable for handing to a caller outside the lock.
func (n *Notebook) Snapshot() []*Cell {
	out := make([]*Cell, len(n.Cells))
	for i, c := range n.Cells {
		out[i] = c.Clone()
	}
	return out
}
