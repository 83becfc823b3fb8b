package repository

import (
	"context"
	"time"

	"party-rooms/internal/domain"
)

// RoomStore 定义了房间、玩家和游戏状态的存储操作。
// 持久化实现 (GORM) 和开发用的内存实现遵守同一份契约。
type RoomStore interface {
	// CreateRoom 保存新房间。slug 冲突时返回 ErrDuplicateEntry，调用方负责换 slug 重试。
	CreateRoom(ctx context.Context, room *domain.Room) error

	// FindBySlug 根据 slug 查找房间，不存在时返回 ErrRoomNotFound。
	FindBySlug(ctx context.Context, slug string) (*domain.Room, error)

	// ListPlayers 返回房间内所有参与者，按 OrderIndex 升序。
	ListPlayers(ctx context.Context, roomID string) ([]domain.Player, error)

	// AddPlayer 在一个事务内检查容量、分配 OrderIndex 并写入玩家。
	// 座位已满返回 ErrCapacityReached；并发抢占同一序号返回 ErrSeatTaken (可重试)。
	AddPlayer(ctx context.Context, room *domain.Room, player *domain.Player) error

	// RemovePlayer 删除玩家，不压缩其他玩家的 OrderIndex。
	RemovePlayer(ctx context.Context, roomID, playerID string) error

	// GetGameState 读取 (roomID, gameID) 的状态，不存在时返回 ErrGameStateNotFound。
	GetGameState(ctx context.Context, roomID, gameID string) (*domain.GameState, error)

	// UpsertGameState 无条件整体替换 (roomID, gameID) 的 Payload，并递增版本号。
	UpsertGameState(ctx context.Context, roomID, gameID, payload string) (*domain.GameState, error)

	// CompareAndSwapGameState 仅当当前版本号等于 expectedVersion 时写入。
	// expectedVersion 为 0 表示记录必须尚不存在。不匹配时返回 ErrVersionConflict。
	CompareAndSwapGameState(ctx context.Context, roomID, gameID string, expectedVersion uint64, payload string) (*domain.GameState, error)

	// DeleteRoom 删除房间并级联删除其玩家和游戏状态。
	DeleteRoom(ctx context.Context, roomID string) error

	// DeleteExpiredRooms 批量删除 ExpiresAt 非空且早于 now 的房间，返回被删除的房间 ID。
	// 重复执行是幂等的。
	DeleteExpiredRooms(ctx context.Context, now time.Time) ([]string, error)
}
