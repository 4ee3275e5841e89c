// Package hub fans live update frames out to the connected UI clients.
package hub

import (
	"encoding/json"
	"log"
	"sync"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	Writer Writer
}

type Hub struct {
	mu          sync.RWMutex
	connections map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, conn)
}

func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}

// Event is the frame shape every update uses on the wire.
type Event struct {
	Type  string      `json:"type"`
	Event string      `json:"event,omitempty"`
	Body  interface{} `json:"body,omitempty"`
}

// Publish marshals and broadcasts an update event.
func (h *Hub) Publish(event string, body interface{}) {
	data, err := json.Marshal(Event{Type: "update", Event: event, Body: body})
	if err != nil {
		log.Printf("hub: marshal event %q failed: %v", event, err)
		return
	}
	h.Broadcast(data)
}
