package ws

import "encoding/json"

const (
	EventJoinRoom    = "join_room"
	EventSendMessage = "send_message"
	EventNewMessage  = "new_message"
	EventUserJoined  = "user_joined"
	EventUserLeft    = "user_left"
	EventAck         = "ack"
)

// Frame 是双向消息的统一信封。客户端需要 ack 时设置 ID，ack 中原样带回。
type Frame struct {
	Event string          `json:"event"`
	ID    *int64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

type SendMessageRequest struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

type ChatMessage struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	RoomID    string `json:"roomId"`
	Timestamp string `json:"timestamp"`
}

type Presence struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type Ack struct {
	Success bool   `json:"success"`
	RoomID  string `json:"roomId,omitempty"`
	Error   string `json:"error,omitempty"`
}

func encode(event string, id *int64, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, ID: id, Data: raw})
}
