// Package possync pushes model changes to live POS terminals. Terminals
// subscribe to the models they cache locally and receive critical_update
// deltas as back-office state changes; batch_sync messages carry periodic
// reconciliation batches for less critical models.
package possync

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Message types on the terminal channel.
const (
	TypeCriticalUpdate = "critical_update"
	TypeBatchSync      = "batch_sync"
)

// Operations carried by a delta message.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Models terminals may subscribe to. Critical models are pushed on every
// write; periodic models only appear in batch_sync messages.
const (
	ModelParty       = "party"
	ModelEncounter   = "encounter"
	ModelPendingItem = "pending_item"
	ModelAppointment = "appointment"
	ModelRoom        = "treatment_room"
	ModelResource    = "resource"
	ModelPartnerType = "partner_type"
)

// Message is a delta addressed to terminals subscribed to Model.
type Message struct {
	Type      string            `json:"type"`
	Model     string            `json:"model"`
	Operation string            `json:"operation"`
	Records   []json.RawMessage `json:"records"`
	Timestamp time.Time         `json:"timestamp"`
}

// ClientMessage represents an inbound subscription request from a terminal.
type ClientMessage struct {
	Action string   `json:"action"`
	Models []string `json:"models"`
}

// Broadcaster is what domain services see: fire-and-forget change
// notifications. Delivery is best effort; terminals reconcile via the
// data-load snapshots.
type Broadcaster interface {
	Notify(model, operation string, records ...interface{})
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents a single connected terminal.
type Client struct {
	ID     string
	Models []string
	Send   chan []byte
	hub    *Hub
	conn   Conn
}

// Hub tracks connected terminals and their model subscriptions. All
// operations are thread-safe via sync.RWMutex.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // keyed by model name
	all     map[*Client]struct{}
}

// NewHub creates a new Hub ready to manage terminal connections.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
	}
}

// Register adds a terminal to the hub and subscribes it to its initial models.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}

	for _, model := range client.Models {
		if h.clients[model] == nil {
			h.clients[model] = make(map[*Client]struct{})
		}
		h.clients[model][client] = struct{}{}
	}
}

// Unregister removes a terminal from the hub, all model subscriptions, and
// closes the client's Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}

	for _, model := range client.Models {
		if subscribers, ok := h.clients[model]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, model)
			}
		}
	}

	delete(h.all, client)
	close(client.Send)
}

// Subscribe dynamically adds models to an already-registered terminal.
func (h *Hub) Subscribe(client *Client, models []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, model := range models {
		if h.clients[model] == nil {
			h.clients[model] = make(map[*Client]struct{})
		}
		h.clients[model][client] = struct{}{}
	}
	client.Models = append(client.Models, models...)
}

// Unsubscribe dynamically removes models from an already-registered terminal.
func (h *Hub) Unsubscribe(client *Client, models []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(models))
	for _, m := range models {
		removeSet[m] = struct{}{}
	}

	for _, model := range models {
		if subscribers, ok := h.clients[model]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, model)
			}
		}
	}

	remaining := make([]string, 0, len(client.Models))
	for _, m := range client.Models {
		if _, rm := removeSet[m]; !rm {
			remaining = append(remaining, m)
		}
	}
	client.Models = remaining
}

// ProcessMessage handles an inbound ClientMessage, dispatching to Subscribe
// or Unsubscribe as appropriate.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Models)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Models)
	}
}

// Broadcast sends a message to all terminals subscribed to msg.Model.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("possync: failed to marshal message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers, ok := h.clients[msg.Model]
	if !ok {
		return
	}

	for client := range subscribers {
		select {
		case client.Send <- data:
		default:
			// Terminal buffer full; skip to avoid blocking.
		}
	}
}

// Notify implements Broadcaster: it marshals each record and broadcasts a
// critical_update delta. Records that fail to marshal are dropped.
func (h *Hub) Notify(model, operation string, records ...interface{}) {
	msg := Message{
		Type:      TypeCriticalUpdate,
		Model:     model,
		Operation: operation,
	}
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			log.Printf("possync: failed to marshal %s record: %v", model, err)
			continue
		}
		msg.Records = append(msg.Records, data)
	}
	h.Broadcast(msg)
}

// NotifyBatch broadcasts a batch_sync message for periodic reconciliation.
func (h *Hub) NotifyBatch(model string, records []json.RawMessage) {
	h.Broadcast(Message{
		Type:      TypeBatchSync,
		Model:     model,
		Operation: OpUpdate,
		Records:   records,
	})
}

// ClientCount returns the total number of connected terminals.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// ModelCount returns the number of terminals subscribed to a model.
func (h *Hub) ModelCount(model string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[model])
}

// ---------------------------------------------------------------------------
// Handler serves terminal WebSocket connections over Echo.
// ---------------------------------------------------------------------------

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Terminals connect from the LAN; tighten in production.
	},
}

// Handler handles HTTP-to-WebSocket upgrades and message routing.
type Handler struct {
	hub *Hub
}

// NewHandler creates a new handler bound to the given Hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes registers the terminal sync endpoint on the given group.
func (wsh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/pos/sync", wsh.HandleConnect)
}

// HandleConnect upgrades an HTTP connection to WebSocket, registers the
// terminal with the hub, and starts read/write pumps.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.New().String(),
		Models: []string{},
		Send:   make(chan []byte, 256),
		hub:    wsh.hub,
		conn:   &gorillaConnAdapter{ws},
	}

	wsh.hub.Register(client)

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)

	return nil
}

// readPump reads messages from the WebSocket connection and processes them.
func (wsh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue // Ignore malformed messages.
		}

		wsh.hub.ProcessMessage(client, msg)
	}
}

// writePump writes messages from the Send channel to the WebSocket connection.
func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy the Conn interface.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}

// NopBroadcaster discards notifications. Used where no hub is wired.
type NopBroadcaster struct{}

func (NopBroadcaster) Notify(model, operation string, records ...interface{}) {}

var _ Broadcaster = (*Hub)(nil)
var _ Broadcaster = NopBroadcaster{}
