package domain

import (
	"encoding/json"
	"time"
)

// 房间事件类型
const (
	EventGameState  = "game_state"  // GameState 被插入或更新
	EventRoomClosed = "room_closed" // 房间被删除或过期清理
)

// RoomEvent 是变更流上传递的消息，作用域为单个房间。
type RoomEvent struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId"`
	GameID    string          `json:"gameId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Version   uint64          `json:"version,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NewGameStateEvent 根据写入后的 GameState 构造变更事件。
func NewGameStateEvent(state *GameState) RoomEvent {
	return RoomEvent{
		Type:      EventGameState,
		RoomID:    state.RoomID,
		GameID:    state.GameID,
		Payload:   json.RawMessage(state.Payload),
		Version:   state.Version,
		UpdatedAt: state.UpdatedAt,
	}
}
