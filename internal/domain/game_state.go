package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// CheersGameID 是共享欢呼计数器使用的 gameId。
const CheersGameID = "cheers"

// GameState 保存某个房间内某个小游戏的共享状态。
// (RoomID, GameID) 为复合主键，每次写入整体替换 Payload。
type GameState struct {
	RoomID    string    `gorm:"type:varchar(36);primaryKey" json:"roomId"` // 所属房间 (外键关联 Room.ID)
	GameID    string    `gorm:"type:varchar(32);primaryKey" json:"gameId"` // 小游戏标识
	Payload   string    `gorm:"type:text;not null" json:"payload"`         // 不透明的 JSON 文本，本服务不解析其业务含义
	Version   uint64    `gorm:"not null;default:0" json:"version"`         // 每次写入递增，用作 CAS 令牌和客户端去重计数
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`                 // 最后写入时间
}

// CheersPayload 是 cheers 小游戏的状态结构。
type CheersPayload struct {
	CheersCount int64 `json:"cheersCount"`
}

// ParseCheers 解析 cheers 状态，空 Payload 视为计数 0。
func (g *GameState) ParseCheers() (CheersPayload, error) {
	var p CheersPayload
	if g == nil || g.Payload == "" || g.Payload == "null" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(g.Payload), &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal cheers payload: %w", err)
	}
	return p, nil
}
