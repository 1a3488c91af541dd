package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/modelbench-go/pkg/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 90 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
)

// Client is one WebSocket subscriber: a connection, its private event bus
// subscription and an optional event-type filter.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	sub  *events.Subscription

	mu     sync.Mutex
	filter map[string]struct{} // nil means all event types

	wmu       sync.Mutex // serialises writes across the two pumps
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   "client_" + uuid.New().String(),
		hub:  hub,
		conn: conn,
		sub:  hub.bus.Subscribe(),
	}
}

// writePump sends the Connected frame, then relays bus events matching the
// filter, pinging every 30 seconds. A send failure tears the client down.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	if err := c.send(Frame{Type: FrameConnected, ClientID: c.id}); err != nil {
		return
	}

	for {
		select {
		case event, ok := <-c.sub.C():
			if !ok {
				return
			}
			if !c.wants(event.Type) {
				continue
			}
			ev := event
			if err := c.send(Frame{Type: FrameEvent, Event: &ev}); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.send(Frame{Type: FramePing}); err != nil {
				return
			}
		}
	}
}

// readPump handles Subscribe/Unsubscribe/Ping frames from the client until
// the connection drops.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", "clientId", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.send(Frame{Type: FrameError, Message: "undecodable frame"})
		return
	}

	switch frame.Type {
	case FrameSubscribe:
		c.mu.Lock()
		if c.filter == nil {
			c.filter = make(map[string]struct{})
		}
		for _, t := range frame.EventTypes {
			c.filter[t] = struct{}{}
		}
		c.mu.Unlock()

	case FrameUnsubscribe:
		c.mu.Lock()
		for _, t := range frame.EventTypes {
			delete(c.filter, t)
		}
		c.mu.Unlock()

	case FramePing:
		c.send(Frame{Type: FramePong})

	case FramePong:
		// Keep-alive; the read deadline was already pushed.

	default:
		c.send(Frame{Type: FrameError, Message: "unknown frame type: " + frame.Type})
	}
}

// wants reports whether the client's filter admits the event type. An empty
// filter admits everything.
func (c *Client) wants(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.filter) == 0 {
		return true
	}
	_, ok := c.filter[eventType]
	return ok
}

func (c *Client) send(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.sub.Unsubscribe()
		c.conn.Close()
		c.hub.remove(c)
	})
}
