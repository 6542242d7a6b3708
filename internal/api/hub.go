package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Hub tracks which local connections belong to which room and forwards each
// room's redis broadcast stream to them. Forwarding happens on a single
// subscriber goroutine, so every client of a room sees broadcasts in
// channel order, which is the registry's application order.
type Hub struct {
	redis  redis.UniversalClient
	prefix string

	mu    sync.RWMutex
	rooms map[string]map[string]*Client // room code -> conn id -> client
	conns map[string]*Client
}

type HubConfig struct {
	Redis  redis.UniversalClient
	Prefix string
}

func NewHub(c HubConfig) *Hub {
	return &Hub{
		redis:  c.Redis,
		prefix: c.Prefix,
		rooms:  make(map[string]map[string]*Client),
		conns:  make(map[string]*Client),
	}
}

// Run consumes room broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	sub := h.redis.PSubscribe(ctx, RoomChannelPattern(h.prefix))
	defer sub.Close()

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("api: hub receive: %w", err)
		}

		h.forward(CodeFromChannel(h.prefix, msg.Channel), []byte(msg.Payload))
	}
}

func (h *Hub) forward(code string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.rooms[code] {
		if !c.enqueue(payload) {
			// Client stopped draining; drop it rather than stall the room.
			slog.Warn("api: send buffer full, evicting slow client", "conn", id, "room", code)
			delete(h.rooms[code], id)
			c.closeSend()
		}
	}
}

// Register makes the connection known to the hub. It belongs to no room
// yet; the caller owns starting the write pump.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[c.id] = c
}

// Unregister drops the connection and any room membership it holds.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return
	}
	delete(h.conns, c.id)

	for code, clients := range h.rooms {
		if _, ok := clients[c.id]; ok {
			delete(clients, c.id)
			if len(clients) == 0 {
				delete(h.rooms, code)
			}
		}
	}

	c.closeSend()
}

// JoinRoom subscribes the connection to a room's broadcasts. The handler
// calls it before handing the intent to the registry, so the first snapshot
// cannot race past the subscription; a rejected intent rolls it back.
func (h *Hub) JoinRoom(c *Client, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return
	}

	if _, ok := h.rooms[code]; !ok {
		h.rooms[code] = make(map[string]*Client)
	}
	h.rooms[code][c.id] = c
}

// LeaveRoom unsubscribes the connection from a room's broadcasts.
func (h *Hub) LeaveRoom(c *Client, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.rooms[code]; ok {
		delete(clients, c.id)
		if len(clients) == 0 {
			delete(h.rooms, code)
		}
	}
}

// ConnCount reports the number of live connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}
