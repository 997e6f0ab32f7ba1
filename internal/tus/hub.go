// In-process progress hub. Every PATCH that lands a part broadcasts the
// upload's new offset; locally attached websocket watchers see it
// without polling HEAD. One event source, two consumers: the broker
// handles the cross-node lock handoff, the hub handles the
// HTTP-visible progress feed.
package tus

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// ProgressEvent is one offset update pushed to watchers of an upload.
type ProgressEvent struct {
	ID     string `json:"id"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
	Done   bool   `json:"done"`
}

// Hub fans ProgressEvents out to websocket watchers keyed by upload id.
type Hub struct {
	mu       sync.Mutex
	watchers map[string]map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		watchers: make(map[string]map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Watch upgrades the request to a websocket and registers it for the
// upload's progress feed. The connection is closed when the peer goes
// away or the upload completes.
func (h *Hub) Watch(w http.ResponseWriter, r *http.Request, id string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.watchers[id] == nil {
		h.watchers[id] = make(map[*websocket.Conn]struct{})
	}
	h.watchers[id][conn] = struct{}{}
	h.mu.Unlock()

	// Reader loop exists only to notice the peer hanging up.
	go func() {
		defer h.drop(id, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}

// Broadcast pushes ev to every watcher of ev.ID. Slow or dead watchers
// are dropped rather than blocking the writer.
func (h *Hub) Broadcast(ev ProgressEvent) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.watchers[ev.ID]))
	for c := range h.watchers[ev.ID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(ev); err != nil {
			h.drop(ev.ID, c)
		}
	}
	if ev.Done {
		h.closeAll(ev.ID)
	}
}

func (h *Hub) drop(id string, conn *websocket.Conn) {
	h.mu.Lock()
	if set, ok := h.watchers[id]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.watchers, id)
		}
	}
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *Hub) closeAll(id string) {
	h.mu.Lock()
	set := h.watchers[id]
	delete(h.watchers, id)
	h.mu.Unlock()
	for c := range set {
		_ = c.Close()
	}
}
