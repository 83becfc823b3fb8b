package domain

import "time"

// Room 表示一个短期存在、通过 slug 访问的多人房间。
type Room struct {
	ID           string     `gorm:"type:varchar(36);primaryKey" json:"id"`             // 房间唯一标识符 (UUID)
	Slug         string     `gorm:"type:varchar(20);uniqueIndex;not null" json:"slug"` // 对外分享的短标识，全局唯一且创建后不可修改
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"createdAt"`                   // 创建时间 (GORM 自动填充)
	ExpiresAt    *time.Time `gorm:"index" json:"expiresAt"`                            // 过期时间，nil 表示永不过期
	PasswordHash *string    `gorm:"type:char(64)" json:"-"`                            // 房间密码摘要 (64 位十六进制)，从不对外输出
	MaxPlayers   int        `gorm:"not null" json:"maxPlayers"`                        // 非观众玩家的座位上限

	// 级联删除依赖数据库的外键约束，而不是在应用层逐表删除
	Players    []Player    `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"-"`
	GameStates []GameState `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"-"`
}

// HasPassword 报告房间是否受密码保护。
func (r *Room) HasPassword() bool {
	return r.PasswordHash != nil && *r.PasswordHash != ""
}

// IsExpired 报告房间在 now 时刻是否已在逻辑上被删除。
func (r *Room) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// PublicRoom 是房间的对外视图，不包含密码摘要。
type PublicRoom struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	HasPassword bool       `json:"hasPassword"`
	MaxPlayers  int        `json:"maxPlayers"`
}

// Public 返回房间的对外视图。
func (r *Room) Public() PublicRoom {
	return PublicRoom{
		ID:          r.ID,
		Slug:        r.Slug,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
		HasPassword: r.HasPassword(),
		MaxPlayers:  r.MaxPlayers,
	}
}
