package session

import (
	"sort"
	"sync"

	"codecollab/internal/metrics"
	"codecollab/internal/models"
)

// Registry maps project ids to live rooms. It is created at process start and
// torn down with Close at shutdown. A room exists only while it has members.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRegistry() *Registry { return &Registry{rooms: make(map[string]*Room)} }

// Register adds c to the room, creating it if needed. live is true when this
// registration took the room from zero to one member.
func (h *Registry) Register(roomID string, c *Client, username string) (room *Room, live bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = NewRoom(roomID)
		h.rooms[roomID] = r
		metrics.RoomOpened()
	}
	return r, r.join(c, username) == 1
}

// Unregister removes the connection and evicts the room once it is empty.
// Unregistering a non-member is a no-op reporting ok=false.
func (h *Registry) Unregister(roomID, connID string) (username string, remaining int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, exists := h.rooms[roomID]
	if !exists {
		return "", 0, false
	}
	username, remaining, ok = r.leave(connID)
	if remaining == 0 {
		delete(h.rooms, roomID)
		metrics.RoomClosed()
	}
	return username, remaining, ok
}

func (h *Registry) Room(roomID string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomID]
	return r, ok
}

func (h *Registry) MembersOf(roomID string) []string {
	if r, ok := h.Room(roomID); ok {
		return r.Members()
	}
	return nil
}

func (h *Registry) Online(roomID string) []string {
	if r, ok := h.Room(roomID); ok {
		return r.Online()
	}
	return []string{}
}

// Broadcast sends frame to the room's members, skipping excluding when it is
// non-empty. Unknown rooms receive nothing.
func (h *Registry) Broadcast(roomID string, frame models.WSFrame, excluding string) int {
	r, ok := h.Room(roomID)
	if !ok {
		return 0
	}
	n := r.Broadcast(excluding, frame)
	metrics.Broadcast(frame.Type, n)
	return n
}

func (h *Registry) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Registry) RoomIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close disconnects every member. Each connection's handler then leaves its
// room as usual, and the last one out evicts it.
func (h *Registry) Close() {
	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()
	for _, r := range rooms {
		r.closeAll()
	}
}
