package dto

import (
	"encoding/json"
	"time"

	"party-rooms/internal/domain"
)

// CreateRoomRequest 是创建房间的请求体，所有字段可选
type CreateRoomRequest struct {
	Password   *string `json:"password"`
	TTLSeconds *int64  `json:"ttlSeconds"`
	MaxPlayers *int    `json:"maxPlayers"`
}

// CreateRoomResponse 是创建房间成功后的响应
type CreateRoomResponse struct {
	Slug        string     `json:"slug"`
	HasPassword bool       `json:"hasPassword"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	MaxPlayers  int        `json:"maxPlayers"`
}

// RoomResponse 是按 slug 查询房间的响应
type RoomResponse struct {
	Room    domain.PublicRoom `json:"room"`
	Players []domain.Player   `json:"players"`
}

// JoinRoomRequest 是加入房间的请求体
type JoinRoomRequest struct {
	DisplayName string  `json:"displayName" binding:"required"`
	Password    *string `json:"password"`
	AsSpectator bool    `json:"asSpectator"`
}

// JoinRoomResponse 是加入成功后的响应，token 用于离开房间和建立实时连接
type JoinRoomResponse struct {
	Player  domain.Player   `json:"player"`
	Players []domain.Player `json:"players"`
	Token   string          `json:"token"`
}

// CheersResponse 是欢呼计数加一后的响应
type CheersResponse struct {
	CheersCount int64     `json:"cheersCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PutGameStateRequest 是整体替换游戏状态的请求体
type PutGameStateRequest struct {
	Payload json.RawMessage `json:"payload" binding:"required"`
}

// GameStateResponse 是游戏状态的响应
type GameStateResponse struct {
	GameID    string          `json:"gameId"`
	Payload   json.RawMessage `json:"payload"`
	Version   uint64          `json:"version"`
	UpdatedAt *time.Time      `json:"updatedAt"`
}

// NewGameStateResponse 从领域模型构造响应，从未写入的状态 updatedAt 为 null
func NewGameStateResponse(state *domain.GameState) GameStateResponse {
	resp := GameStateResponse{
		GameID:  state.GameID,
		Payload: json.RawMessage(state.Payload),
		Version: state.Version,
	}
	if len(resp.Payload) == 0 {
		resp.Payload = json.RawMessage("null")
	}
	if !state.UpdatedAt.IsZero() {
		t := state.UpdatedAt
		resp.UpdatedAt = &t
	}
	return resp
}

// ErrorBody 是所有错误响应的结构
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
