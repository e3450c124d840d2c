package ws

import (
	"sync"

	"chatgate/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Hub 管理本进程的房间成员，房间只在有成员时存在。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub() *Hub { return &Hub{rooms: make(map[string]map[*Client]struct{})} }

func (h *Hub) Join(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[roomID]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[roomID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) Leave(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[roomID]
	if room == nil {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, roomID)
	}
}

// Online 返回房间在本地的在线客户端数量。
func (h *Hub) Online(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Rooms 返回非空房间数。
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Deliver 以非阻塞方式把 msg 发给房间的本地成员，发送缓冲区已满的成员会被断开。
func (h *Hub) Deliver(roomID string, msg []byte) {
	var slow []*Client
	h.mu.RLock()
	for c := range h.rooms[roomID] {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("conn_id", c.ID).Str("room_id", roomID).Msg("send buffer full, dropping client")
		metrics.WsDroppedTotal.Inc()
		// Close announces the departure, which may deliver back into this
		// room or wait on the client's own in-flight join.
		go c.Close()
	}
}
