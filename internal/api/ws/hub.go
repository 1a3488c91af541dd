package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/modelbench-go/pkg/events"
	"github.com/modelbench-go/pkg/logger"
	"github.com/modelbench-go/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub tracks live WebSocket clients. Each client holds its own event bus
// subscription, so one slow dashboard sheds its own backlog without touching
// anyone else's stream.
type Hub struct {
	bus    *events.Bus
	logger logger.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func NewHub(bus *events.Bus, log logger.Logger) *Hub {
	return &Hub{
		bus:     bus,
		logger:  log,
		clients: make(map[*Client]struct{}),
	}
}

// Serve upgrades the request and runs the client pumps. The Connected frame
// with the server-assigned client id is the first thing on the wire.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := newClient(h, conn)
	h.add(client)

	h.logger.Info("WebSocket client connected", "clientId", client.id)

	go client.writePump()
	go client.readPump()
}

// ConnectionCount returns the number of live clients.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Set(float64(count))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Set(float64(count))
	h.logger.Info("WebSocket client disconnected", "clientId", c.id)
}
