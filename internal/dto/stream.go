package dto

import (
	"encoding/json"
	"time"
)

// 实时连接上发送给客户端的消息类型
const (
	StreamSnapshot   = "snapshot"    // 连接建立后的第一条状态，确立去重基线
	StreamUpdate     = "update"      // 计数严格大于上次的状态变更
	StreamRoomClosed = "room_closed" // 房间被删除或过期清理，服务端随后关闭连接
	StreamError      = "error"
)

// StreamMessage 是实时连接上的下行消息
type StreamMessage struct {
	Type      string          `json:"type"`
	GameID    string          `json:"gameId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Version   uint64          `json:"version"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
	Message   string          `json:"message,omitempty"`
}
