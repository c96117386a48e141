package events

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeTimeout = 5 * time.Second
	roomAll      = "all"
)

// Hub keeps WebSocket watchers grouped in rooms: "all" and "slot:<id>".
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*websocket.Conn]struct{}
	origins []string
	log     *zerolog.Logger
}

// NewHub returns a hub that accepts same-host watchers plus any whose Origin
// host matches one of originPatterns.
func NewHub(log *zerolog.Logger, originPatterns ...string) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*websocket.Conn]struct{}),
		origins: originPatterns,
		log:     log,
	}
}

func slotRoom(id int64) string {
	return "slot:" + strconv.FormatInt(id, 10)
}

// Handler accepts a watcher. ?slot=<id> joins that slot's room; without it
// the watcher joins the all-slots room.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := roomAll
		if raw := r.URL.Query().Get("slot"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			room = slotRoom(id)
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
		if err != nil {
			return
		}

		h.add(room, conn)
		defer h.remove(room, conn)

		ctx := r.Context()
		for {
			var v any
			if err := wsjson.Read(ctx, conn, &v); err != nil {
				return
			}
		}
	}
}

// Handle is a Bus handler that broadcasts the event to its rooms.
func (h *Hub) Handle(_ context.Context, ev Event) {
	h.Broadcast(roomAll, ev)
	h.Broadcast(slotRoom(ev.Payload.ID), ev)
}

// Broadcast writes ev to every connection in room. Connections that fail
// to accept the write are dropped.
func (h *Hub) Broadcast(room string, ev any) {
	for _, conn := range h.snapshot(room) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, conn, ev)
		cancel()
		if err != nil {
			h.log.Debug().Err(err).Str("room", room).Msg("dropping websocket watcher")
			go func(c *websocket.Conn) {
				c.Close(websocket.StatusGoingAway, "write error")
				h.remove(room, c)
			}(conn)
		}
	}
}

// Count returns the number of watchers in room.
func (h *Hub) Count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) snapshot(room string) []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*websocket.Conn, 0, len(h.rooms[room]))
	for conn := range h.rooms[room] {
		out = append(out, conn)
	}
	return out
}

func (h *Hub) add(room string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[room]
	if !ok {
		conns = make(map[*websocket.Conn]struct{})
		h.rooms[room] = conns
	}
	conns[conn] = struct{}{}
}

func (h *Hub) remove(room string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.rooms, room)
	}
}
