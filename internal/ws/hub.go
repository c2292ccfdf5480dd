package ws

import (
	"context"
	"sync"

	"github.com/channelhub/internal/logger"
)

// Hub tracks connected clients and room membership and fans events out.
// Rooms are keyed by name (ChannelRoom) and hold user ids, not sockets, so a
// user entered into a room receives events on every open connection.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	rooms    map[string]map[string]struct{}
	total    int
	maxConns int

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[string]struct{}),
		maxConns:   maxConns,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[string]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
		// Last connection gone: drop the user from every room.
		for room, users := range h.rooms {
			delete(users, c.userID)
			if len(users) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// EnterRoom adds the users to a room. Membership survives until the user's
// last connection drops; on reconnect the ws handler re-enters their rooms.
func (h *Hub) EnterRoom(room string, userIDs ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, uid := range userIDs {
		if _, ok := h.rooms[room]; !ok {
			h.rooms[room] = make(map[string]struct{})
		}
		h.rooms[room][uid] = struct{}{}
	}
}

// LeaveRoom removes a user from a room.
func (h *Hub) LeaveRoom(room, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if users, ok := h.rooms[room]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomUserIDs returns the ids of users currently in a room.
func (h *Hub) RoomUserIDs(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := h.rooms[room]
	ids := make([]string, 0, len(users))
	for uid := range users {
		ids = append(ids, uid)
	}
	return ids
}

// IsOnline reports whether the user has at least one open connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// EmitToRoom sends an event to every user currently in the room.
func (h *Hub) EmitToRoom(room, event string, payload any) {
	h.EmitToUsers(h.RoomUserIDs(room), event, payload)
}

// EmitToUsers sends an event to each listed user (all their connections).
func (h *Hub) EmitToUsers(userIDs []string, event string, payload any) {
	out := Outgoing{Event: event, Payload: payload}
	for _, uid := range userIDs {
		h.sendToUser(uid, out)
	}
}

// HandleMessage dispatches incoming WebSocket messages. Only typing signals
// are accepted over the socket; everything else goes through HTTP.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg Incoming) {
	if msg.Type != TypeTyping || msg.ChannelID == "" {
		return
	}
	room := ChannelRoom(msg.ChannelID)
	ev := ChannelEvent{
		ChannelID: msg.ChannelID,
		Data:      EventData{Type: TypeTyping, Data: map[string]any{"user_id": c.userID}},
	}
	out := Outgoing{Event: EventChannel, Payload: ev}
	for _, uid := range h.RoomUserIDs(room) {
		if uid != c.userID {
			h.sendToUser(uid, out)
		}
	}
}

func (h *Hub) sendToUser(userID string, msg Outgoing) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg Outgoing) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
