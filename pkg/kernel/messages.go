// Package kernel implements the per-notebook execution worker: the
// isolated holder of one notebook's interpreter globals that executes
// IMPERATIVE and QUERY cells and emits a stream of observation
// notifications (spec.md §4.3).
//
// Isolation is a dedicated goroutine with its own Globals map and
// has-run table, reached only through its two channels — never through a
// shared pointer — so a caller cannot observe or mutate kernel state
// except by sending a Request and reading Notifications back. See
// DESIGN.md for why this substitutes for the spec's OS-process isolation.
package kernel

import "github.com/cellmesh/cellmesh/internal/domain/model"

// RequestKind is the closed set of inbound message variants.
type RequestKind string

const (
	RequestRegisterCell   RequestKind = "REGISTER_CELL"
	RequestExecute        RequestKind = "EXECUTE"
	RequestInvalidateCell RequestKind = "INVALIDATE_CELL"
	RequestSetPositions   RequestKind = "SET_POSITIONS"
	RequestSetDBConfig    RequestKind = "SET_DB_CONFIG"
	RequestShutdown       RequestKind = "SHUTDOWN"
)

// Request is a tagged union of the inbound message variants spec.md §4.3
// names. Only the fields relevant to Kind are populated.
type Request struct {
	Kind RequestKind

	// RegisterCell / Execute
	CellID string
	Code   string
	Type   model.CellType
	// Position is the cell's index in the notebook's cell sequence; -1
	// (or any negative value) means "unknown, keep existing / append".
	Position int

	// SetPositions: the full cell-id -> notebook-index mapping after a
	// structural change that shifted cells without editing their code.
	Positions map[string]int

	// SetDBConfig
	ConnectionString string
}

// NotificationChannel is the closed set of outbound message channels a
// single cell notification may carry, mirroring original_source's
// CellChannel enum.
type NotificationChannel string

const (
	ChannelStatus   NotificationChannel = "STATUS"
	ChannelStdout   NotificationChannel = "STDOUT"
	ChannelOutput   NotificationChannel = "OUTPUT"
	ChannelError    NotificationChannel = "ERROR"
	ChannelMetadata NotificationChannel = "METADATA"
)

// SystemCellID is the sentinel cell id used for notifications that are not
// about any particular cell (e.g. SetDBConfig acknowledgements).
const SystemCellID = "__system__"

// Notification is one message in the Kernel's outbound stream.
type Notification struct {
	CellID  string
	Channel NotificationChannel

	Status   model.CellStatus // ChannelStatus
	Stdout   string           // ChannelStdout
	Output   model.Output     // ChannelOutput
	ErrKind  model.ErrorKind  // ChannelError
	ErrMsg   string           // ChannelError
	Reads    []string         // ChannelMetadata
	Writes   []string         // ChannelMetadata

	// ConnectionString accompanies SystemCellID notifications acknowledging
	// a SetDbConfig request, so the fan-out layer can report which
	// connection the outcome is about.
	ConnectionString string
}
