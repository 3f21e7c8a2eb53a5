package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType — тип сообщения протокола
type MessageType string

const (
	MsgWorldTick    MessageType = "world_tick"
	MsgStateDelta   MessageType = "state_delta"
	MsgTickAck      MessageType = "tick_ack"
	MsgTradeSession MessageType = "trade_session"
	MsgSessionState MessageType = "session_state"
	MsgTimeSync     MessageType = "time_sync"
	MsgJoinRequest  MessageType = "join_request"
	MsgJoinResponse MessageType = "join_response"
)

// Message — конверт сообщения протокола.
// Полезная нагрузка остаётся сырым JSON и разбирается по Type.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix-миллисекунды серверных часов
	Payload   json.RawMessage `json:"payload"`
}

// NewMessage заворачивает полезную нагрузку в конверт
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации полезной нагрузки %s: %w", msgType, err)
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Payload:   data,
	}, nil
}

// DecodePayload разбирает полезную нагрузку сообщения в указанный тип
func (m *Message) DecodePayload(out interface{}) error {
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return fmt.Errorf("ошибка десериализации полезной нагрузки %s: %w", m.Type, err)
	}
	return nil
}

// TickAck — подтверждение клиентом полученного тика
type TickAck struct {
	ClientID string `json:"client_id"`
	TickID   uint64 `json:"tick_id"`
}

// TimeSyncPayload — широковещательная метка серверного времени
type TimeSyncPayload struct {
	ServerTime int64  `json:"server_time"` // Unix-миллисекунды
	TickID     uint64 `json:"tick_id"`
}

// JoinRequest — запрос подключения с токеном
type JoinRequest struct {
	Token string `json:"token"`
}

// JoinResponse — ответ сервера на запрос подключения
type JoinResponse struct {
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	PlayerID  string `json:"player_id,omitempty"`
}
