package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"chatgate/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// Client 表示一个已认证的连接，同一时间最多加入一个房间。
type Client struct {
	ID       string
	UserID   string
	Username string
	Email    string

	hub               *Hub
	bus               Broadcaster
	conn              *websocket.Conn
	send              chan []byte
	done              chan struct{}
	requireMembership bool
	now               func() time.Time

	// presence 保证 user_left 不会先于对应的 user_joined 发出。
	presence  sync.Mutex
	mu        sync.Mutex
	room      string
	state     State
	closeOnce sync.Once
}

func newClient(hub *Hub, bus Broadcaster, conn *websocket.Conn, userID, username, email string) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		Email:    email,
		hub:      hub,
		bus:      bus,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		now:      time.Now,
		state:    StateConnecting,
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room 返回当前房间，未加入任何房间时返回 ""。
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) authenticate() {
	c.mu.Lock()
	c.state = StateAuthenticated
	c.mu.Unlock()
	metrics.WsConnections.Inc()
	log.Info().Str("conn_id", c.ID).Str("user_id", c.UserID).Msg("ws connected")
}

// Close 离开当前房间并通知房间成员，然后释放连接，可重复调用。
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasAuthed := c.state == StateAuthenticated
		c.state = StateDisconnected
		c.mu.Unlock()

		c.presence.Lock()
		c.mu.Lock()
		room := c.room
		c.room = ""
		c.mu.Unlock()
		if room != "" {
			c.hub.Leave(room, c)
			_ = c.publish(room, EventUserLeft, Presence{UserID: c.UserID, Username: c.Username})
		}
		c.presence.Unlock()

		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		if wasAuthed {
			metrics.WsConnections.Dec()
		}
		log.Info().Str("conn_id", c.ID).Str("user_id", c.UserID).Msg("ws disconnected")
	})
}

func (c *Client) publish(roomID, event string, data interface{}) error {
	b, err := encode(event, nil, data)
	if err != nil {
		return err
	}
	if err := c.bus.Publish(context.Background(), roomID, b); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Str("event", event).Msg("publish room event")
		return err
	}
	return nil
}

// reply 只向当前客户端发送一帧，缓冲区满时丢弃。
func (c *Client) reply(event string, id *int64, data interface{}) {
	b, err := encode(event, id, data)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
		metrics.WsDroppedTotal.Inc()
	}
}

func (c *Client) ack(id *int64, a Ack) {
	if id == nil {
		return
	}
	c.reply(EventAck, id, a)
}

// handleFrame 分发一条入站消息。
func (c *Client) handleFrame(raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Debug().Str("conn_id", c.ID).Msg("malformed frame")
		return
	}
	switch f.Event {
	case EventJoinRoom:
		var req JoinRoomRequest
		_ = json.Unmarshal(f.Data, &req)
		c.ack(f.ID, c.joinRoom(req.RoomID))
	case EventSendMessage:
		var req SendMessageRequest
		_ = json.Unmarshal(f.Data, &req)
		c.ack(f.ID, c.sendMessage(req))
	default:
		c.ack(f.ID, Ack{Error: "unknown event"})
	}
}

func (c *Client) joinRoom(roomID string) Ack {
	if roomID == "" {
		return Ack{Error: "roomId is required"}
	}
	c.presence.Lock()
	defer c.presence.Unlock()

	c.mu.Lock()
	if c.state != StateAuthenticated {
		c.mu.Unlock()
		return Ack{Error: "not connected"}
	}
	prev := c.room
	if prev == roomID {
		c.mu.Unlock()
		return Ack{Success: true, RoomID: roomID}
	}
	if prev != "" {
		c.hub.Leave(prev, c)
	}
	c.hub.Join(roomID, c)
	c.room = roomID
	c.mu.Unlock()

	who := Presence{UserID: c.UserID, Username: c.Username}
	if prev != "" {
		_ = c.publish(prev, EventUserLeft, who)
	}
	_ = c.publish(roomID, EventUserJoined, who)
	log.Debug().Str("conn_id", c.ID).Str("room_id", roomID).Msg("joined room")
	return Ack{Success: true, RoomID: roomID}
}

func (c *Client) sendMessage(req SendMessageRequest) Ack {
	if req.RoomID == "" {
		return Ack{Error: "roomId is required"}
	}
	if c.requireMembership && c.Room() != req.RoomID {
		return Ack{Error: "not a member of room"}
	}
	msg := ChatMessage{
		UserID:    c.UserID,
		Username:  c.Username,
		Content:   req.Content,
		RoomID:    req.RoomID,
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
	}
	if err := c.publish(req.RoomID, EventNewMessage, msg); err != nil {
		return Ack{Error: "delivery failed"}
	}
	metrics.WsMessagesTotal.Inc()
	return Ack{Success: true}
}

func (c *Client) readPump() {
	defer c.Close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("ws read")
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
