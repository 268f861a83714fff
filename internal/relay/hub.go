package relay

import (
	"encoding/json"
	"log"
	"sync"
)

// LeaderResolver reports whether a user may moderate a workspace, i.e.
// flip its collaboration lock. Backed by the workspace metadata store in
// production; a nil resolver permits every toggle.
type LeaderResolver interface {
	CanModerate(workspaceID, userID string) (bool, error)
}

type joinRequest struct {
	client *Client
	room   string
}

type toggleRequest struct {
	client  *Client
	room    string
	open    bool
	allowed bool
}

type updateRequest struct {
	client    *Client
	room      string
	elements  json.RawMessage
	viewState json.RawMessage
}

// Hub owns every room and serializes all room mutation on its run loop,
// so counts and lock state can never interleave within a room.
type Hub struct {
	rooms   map[string]*Room
	clients map[*Client]bool

	resolver LeaderResolver

	register   chan *Client
	unregister chan *Client
	join       chan joinRequest
	toggle     chan toggleRequest
	update     chan updateRequest

	mu sync.RWMutex
}

func NewHub(resolver LeaderResolver) *Hub {
	return &Hub{
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]bool),
		resolver:   resolver,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan joinRequest),
		toggle:     make(chan toggleRequest),
		update:     make(chan updateRequest),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("Client %s connected", client.id)

		case client := <-h.unregister:
			h.handleDisconnect(client)

		case req := <-h.join:
			h.handleJoin(req)

		case req := <-h.toggle:
			h.handleToggle(req)

		case req := <-h.update:
			h.handleUpdate(req)
		}
	}
}

func (h *Hub) handleJoin(req joinRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[req.room]
	if !ok {
		room = newRoom(req.room)
		h.rooms[req.room] = room
	}
	room.members[req.client] = true
	req.client.rooms[req.room] = true

	// Everyone, joiner included, sees the new count. The joiner also
	// needs the current lock state without waiting for the next toggle.
	room.broadcast(countMessage(req.room, room.size()), nil)
	req.client.enqueue(stateMessage(req.room, room.open))

	log.Printf("Client %s joined room %s (total: %d)", req.client.id, req.room, room.size())
}

func (h *Hub) handleDisconnect(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[client] {
		return
	}
	delete(h.clients, client)

	// Remove from rooms first so the count broadcast reflects only the
	// remaining members. A client that never joined triggers nothing.
	for key := range client.rooms {
		room, ok := h.rooms[key]
		if !ok {
			continue
		}
		delete(room.members, client)

		if room.size() == 0 {
			delete(h.rooms, key)
			log.Printf("Room %s closed (empty)", key)
			continue
		}
		room.broadcast(countMessage(key, room.size()), nil)
		log.Printf("Client %s left room %s (remaining: %d)", client.id, key, room.size())
	}

	close(client.send)
}

func (h *Hub) handleToggle(req toggleRequest) {
	if !req.allowed {
		req.client.enqueue(deniedMessage(req.room))
		log.Printf("Client %s denied collaboration toggle for room %s", req.client.id, req.room)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Nobody to notify, and lock state never outlives an empty room.
	room, ok := h.rooms[req.room]
	if !ok {
		log.Printf("Ignoring collaboration toggle for empty room %s", req.room)
		return
	}
	room.open = req.open

	// The sender hears the authoritative state back too.
	room.broadcast(stateMessage(req.room, req.open), nil)
	log.Printf("Room %s collaboration set to %v", req.room, req.open)
}

func (h *Hub) handleUpdate(req updateRequest) {
	if !hasElements(req.elements) {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	room, ok := h.rooms[req.room]
	if !ok {
		return
	}
	room.broadcast(updateMessage(req.elements, req.viewState), req.client)
}

// canModerate resolves toggle authorization. Called from the connection's
// read goroutine so a metadata lookup never stalls the run loop.
func (h *Hub) canModerate(workspaceID, userID string) bool {
	if h.resolver == nil {
		return true
	}
	allowed, err := h.resolver.CanModerate(workspaceID, userID)
	if err != nil {
		log.Printf("Leader lookup failed for workspace %s: %v", workspaceID, err)
		return false
	}
	return allowed
}

// Stats accessors used by the HTTP API.

func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetActiveRooms returns the member count of every live room.
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := make(map[string]int, len(h.rooms))
	for key, room := range h.rooms {
		active[key] = room.size()
	}
	return active
}

// GetRoomState reports a room's member count and lock state. ok is false
// when no such room is live.
func (h *Hub) GetRoomState(key string) (count int, open bool, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room, exists := h.rooms[key]
	if !exists {
		return 0, false, false
	}
	return room.size(), room.open, true
}
