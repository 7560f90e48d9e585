package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"evalgo.org/kiwi/internal/logging"
	"evalgo.org/kiwi/internal/orchestration"
	"evalgo.org/kiwi/models"
)

// EventType represents the type of a pushed event
type EventType string

const (
	EventJobUpdated          EventType = "job_updated"
	EventJobSettled          EventType = "job_settled"
	EventInstallationChanged EventType = "installation_changed"
	EventInstallationSettled EventType = "installation_settled"
)

// Event is one message sent to every WebSocket client.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Client represents a WebSocket client connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of active clients and broadcasts events. It
// implements orchestration.Notifier and orchestration.ProgressNotifier.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex
}

var (
	_ orchestration.Notifier         = (*Hub)(nil)
	_ orchestration.ProgressNotifier = (*Hub)(nil)
)

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
}

// Run starts the hub's main loop. It returns when ctx is done and closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			logging.Debugf("websocket client connected (total: %d)", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			logging.Debugf("websocket client disconnected (total: %d)", n)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow client
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastEvent queues an event for all connected clients. Events are
// dropped when the queue is full; it never blocks a poller.
func (h *Hub) BroadcastEvent(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	message, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
	default:
		logging.Warnf("websocket broadcast queue full, dropping %s event", event.Type)
	}
	return nil
}

func (h *Hub) publish(t EventType, data interface{}) {
	if err := h.BroadcastEvent(Event{Type: t, Data: data}); err != nil {
		logging.Errorf("failed to broadcast %s event: %v", t, err)
	}
}

// JobUpdated pushes an intermediate job status.
func (h *Hub) JobUpdated(job models.Job) { h.publish(EventJobUpdated, job) }

// JobSettled pushes the final outcome of a job poll.
func (h *Hub) JobSettled(out orchestration.Outcome) { h.publish(EventJobSettled, out) }

// InstallationSettled pushes the end of an install poll.
func (h *Hub) InstallationSettled(st models.InstallationStatus) {
	h.publish(EventInstallationSettled, st)
}

// InstallationChanged pushes every tracker update.
func (h *Hub) InstallationChanged(st models.InstallationStatus) {
	h.publish(EventInstallationChanged, st)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

// readPump drains the connection so control frames are processed.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck // Deadline errors are handled by ReadMessage
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck // Deadline errors are handled by ReadMessage
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warnf("websocket error: %v", err)
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Deadline errors are handled by WriteMessage
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck // Connection is closing, error can be ignored
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Deadline errors are handled by WriteMessage
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
