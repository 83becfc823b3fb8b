package domain

import "time"

// Player 表示房间内的一名参与者 (玩家或观众)。
type Player struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`                                   // 玩家唯一标识符 (UUID)
	RoomID      string    `gorm:"type:varchar(36);index;uniqueIndex:idx_room_seat;not null" json:"roomId"` // 所属房间 (外键关联 Room.ID)
	DisplayName string    `gorm:"type:varchar(32);not null" json:"displayName"`                            // 显示名称
	OrderIndex  int       `gorm:"not null" json:"orderIndex"`                                              // 加入顺序，只增不减，离开后不压缩
	IsSpectator bool      `gorm:"not null;default:false" json:"isSpectator"`                               // 观众不占用座位
	JoinedAt    time.Time `gorm:"not null" json:"joinedAt"`                                                // 加入时间

	// Seat 与 OrderIndex 相同，但只对非观众赋值。
	// (room_id, seat) 唯一，并发加入抢同一个序号时由唯一约束裁决。
	Seat *int `gorm:"uniqueIndex:idx_room_seat" json:"-"`
}
