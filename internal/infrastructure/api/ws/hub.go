// Package ws implements the live bidirectional channel: one WebSocket
// connection per client, authenticating with a bearer token and then
// issuing run_cell/refresh_auth commands, with the server streaming back
// broadcast.Messages translated into the wire shapes spec.md §6 names.
// The read/write pump split is grounded on the teacher's
// observer.WebSocketClient/WebSocketHub pair; the command surface itself
// (authenticate, run_cell, refresh_auth) is new to this domain.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cellmesh/cellmesh/internal/application/auth"
	"github.com/cellmesh/cellmesh/internal/application/broadcast"
	"github.com/cellmesh/cellmesh/internal/application/coordinator"
	"github.com/cellmesh/cellmesh/internal/config"
	"github.com/cellmesh/cellmesh/internal/infrastructure/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundMessage is the closed set of client→server command shapes.
type inboundMessage struct {
	Command string `json:"command"`
	Token   string `json:"token"`
	CellID  string `json:"cell_id"`
}

// outboundMessage is the wire shape of a server→client frame; only the
// optional fields relevant to Type are populated.
type outboundMessage struct {
	Type             string      `json:"type"`
	CellID           string      `json:"cellId,omitempty"`
	Status           string      `json:"status,omitempty"`
	Data             string      `json:"data,omitempty"`
	Output           interface{} `json:"output,omitempty"`
	Cell             interface{} `json:"cell,omitempty"`
	Index            *int        `json:"index,omitempty"`
	Error            string      `json:"error,omitempty"`
	Principal        string      `json:"principal,omitempty"`
	Message          string      `json:"message,omitempty"`
	ConnectionString string      `json:"connectionString,omitempty"`
}

// Handler upgrades HTTP requests into live-channel connections for one
// notebook id, resolved from the URL.
type Handler struct {
	coord  *coordinator.Coordinator
	broker auth.Broker
	logger *logger.Logger
	cfg    config.WebsocketConfig
}

func NewHandler(coord *coordinator.Coordinator, broker auth.Broker, log *logger.Logger, cfg config.WebsocketConfig) *Handler {
	return &Handler{coord: coord, broker: broker, logger: log, cfg: cfg}
}

// ServeHTTP upgrades the connection and starts its read/write pumps. The
// notebook id is taken from the "notebook_id" gin/http path param set by
// the router.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request, notebookID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &client{
		id:         uuid.NewString(),
		notebookID: notebookID,
		conn:       conn,
		send:       make(chan outboundMessage, 256),
		coord:      h.coord,
		broker:     h.broker,
		logger:     h.logger,
		cfg:        h.cfg,
	}

	go client.writePump()
	go client.readPump()
}

// client is one live connection, registered as a broadcast.Observer only
// after it authenticates.
type client struct {
	id         string
	notebookID string
	conn       *websocket.Conn
	send       chan outboundMessage

	coord  *coordinator.Coordinator
	broker auth.Broker
	logger *logger.Logger
	cfg    config.WebsocketConfig

	mu            sync.Mutex
	principal     string
	authenticated bool
}

// ID implements broadcast.Observer.
func (c *client) ID() string { return c.id }

// Send implements broadcast.Observer; it never blocks the broadcaster —
// a message that does not fit a slow client's send buffer is dropped, and
// the client stays registered.
func (c *client) Send(msg broadcast.Message) {
	select {
	case c.send <- translate(msg):
	default:
		c.logger.Warn("websocket client send buffer full, dropping message", "client_id", c.id)
	}
}

func (c *client) readPump() {
	defer func() {
		c.mu.Lock()
		wasAuthenticated := c.authenticated
		c.mu.Unlock()
		if wasAuthenticated {
			c.coord.Broadcaster().Unregister(c.notebookID, c.id)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.ReadLimitBytes)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeWindow))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * c.cfg.PingInterval))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var in inboundMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			c.send <- outboundMessage{Type: "error", Message: "malformed command"}
			continue
		}
		c.handle(in)
	}
}

func (c *client) handle(in inboundMessage) {
	switch in.Command {
	case "authenticate", "refresh_auth":
		c.authenticate(in.Token)
	case "run_cell":
		c.mu.Lock()
		ok := c.authenticated
		c.mu.Unlock()
		if !ok {
			c.send <- outboundMessage{Type: "error", Message: "not authenticated"}
			return
		}
		if in.CellID == "" {
			c.send <- outboundMessage{Type: "error", Message: "cell_id is required"}
			return
		}
		c.coord.RunCell(c.notebookID, in.CellID)
	default:
		c.send <- outboundMessage{Type: "error", Message: "unknown command"}
	}
}

func (c *client) authenticate(token string) {
	principal, err := c.broker.Authenticate(context.Background(), token)
	if err != nil {
		c.send <- outboundMessage{Type: "error", Message: "authentication failed"}
		return
	}

	c.mu.Lock()
	firstAuth := !c.authenticated
	c.principal = principal
	c.authenticated = true
	c.mu.Unlock()

	if firstAuth {
		c.coord.Broadcaster().Register(c.notebookID, c)
	}
	c.send <- outboundMessage{Type: "authenticated", Principal: principal}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// translate maps one broadcast.Message to its live-channel wire shape.
func translate(msg broadcast.Message) outboundMessage {
	out := outboundMessage{CellID: msg.CellID}
	switch msg.Type {
	case broadcast.TypeCellStatus:
		out.Type = "cell_status"
		out.Status = string(msg.Status)
	case broadcast.TypeCellStdout:
		out.Type = "cell_stdout"
		out.Data = msg.Stdout
	case broadcast.TypeCellOutput:
		out.Type = "cell_output"
		if msg.Output != nil {
			out.Output = msg.Output
		}
	case broadcast.TypeCellError:
		out.Type = "cell_error"
		out.Error = msg.ErrMsg
	case broadcast.TypeCellMetadata:
		// Dependency-set refresh from the kernel; rendered as a partial
		// cell_updated so clients patch reads/writes in place.
		out.Type = "cell_updated"
		out.Cell = map[string]interface{}{"reads": msg.Reads, "writes": msg.Writes}
	case broadcast.TypeCellCreated:
		out.Type = "cell_created"
		out.Cell = msg.Cell
		idx := msg.Index
		out.Index = &idx
	case broadcast.TypeCellUpdated:
		out.Type = "cell_updated"
		out.Cell = msg.Cell
	case broadcast.TypeCellDeleted:
		out.Type = "cell_deleted"
	case broadcast.TypeDBConnectionUpdated:
		out.Type = "db_connection_updated"
		out.ConnectionString = msg.ConnectionString
		out.Status = string(msg.Status)
		out.Error = msg.ErrMsg
	case broadcast.TypeKernelError:
		out.Type = "kernel_error"
		out.Error = msg.ErrMsg
	default:
		out.Type = "system"
	}
	return out
}
