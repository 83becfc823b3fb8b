package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"party-rooms/internal/domain"
	"party-rooms/internal/repository"
)

// MySQL 和 PostgreSQL 的约束冲突错误码
const (
	mysqlDuplicateEntry    = 1062
	mysqlForeignKeyMissing = 1452
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
)

// GormRoomStore 是 RoomStore 接口的 GORM 实现，支持 MySQL 和 PostgreSQL。
type GormRoomStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormRoomStore 创建 GormRoomStore 实例
func NewGormRoomStore(db *gorm.DB) *GormRoomStore {
	if db == nil {
		panic("database connection cannot be nil for GormRoomStore")
	}
	return &GormRoomStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// CreateRoom 实现保存新房间，slug 冲突映射为 ErrDuplicateEntry
func (r *GormRoomStore) CreateRoom(ctx context.Context, room *domain.Room) error {
	err := r.db.WithContext(ctx).Omit(clause.Associations).Create(room).Error
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create room (id: %s, slug: %s): %w", room.ID, room.Slug, err)
	}
	return nil
}

// FindBySlug 实现根据 slug 查找房间
func (r *GormRoomStore) FindBySlug(ctx context.Context, slug string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by slug '%s': %w", slug, err)
	}
	return &room, nil
}

// ListPlayers 实现按 OrderIndex 升序列出玩家
func (r *GormRoomStore) ListPlayers(ctx context.Context, roomID string) ([]domain.Player, error) {
	players := make([]domain.Player, 0)
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("order_index ASC").Order("joined_at ASC").
		Find(&players).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list players for room %s: %w", roomID, err)
	}
	return players, nil
}

// AddPlayer 实现在事务内检查容量、分配序号并写入玩家。
// 房间行加行锁；即使锁不生效，(room_id, seat) 唯一索引也会让并发加入中的一方失败。
func (r *GormRoomStore) AddPlayer(ctx context.Context, room *domain.Room, player *domain.Player) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 锁定房间行，确认房间仍然存在
		var locked domain.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "max_players").
			Where("id = ?", room.ID).
			First(&locked).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrRoomNotFound
			}
			return fmt.Errorf("gorm: lock room %s: %w", room.ID, err)
		}

		// 2. 检查容量 (观众不占座位)
		var seated int64
		if err := tx.Model(&domain.Player{}).
			Where("room_id = ? AND is_spectator = ?", room.ID, false).
			Count(&seated).Error; err != nil {
			return fmt.Errorf("gorm: count seated players in room %s: %w", room.ID, err)
		}
		if !player.IsSpectator && seated >= int64(locked.MaxPlayers) {
			return repository.ErrCapacityReached
		}

		// 3. 分配序号：当前最大序号 + 1，离开留下的空洞不回收
		var maxIndex int
		if err := tx.Model(&domain.Player{}).
			Select("COALESCE(MAX(order_index), -1)").
			Where("room_id = ? AND is_spectator = ?", room.ID, false).
			Scan(&maxIndex).Error; err != nil {
			return fmt.Errorf("gorm: read max order index in room %s: %w", room.ID, err)
		}
		player.RoomID = room.ID
		player.OrderIndex = maxIndex + 1
		player.Seat = nil
		if !player.IsSpectator {
			seat := player.OrderIndex
			player.Seat = &seat
		}

		// 4. 写入
		if err := tx.Create(player).Error; err != nil {
			if isUniqueViolation(err) {
				return repository.ErrSeatTaken
			}
			if isForeignKeyViolation(err) {
				return repository.ErrRoomNotFound
			}
			return fmt.Errorf("gorm: create player in room %s: %w", room.ID, err)
		}
		return nil
	})
	return err
}

// RemovePlayer 实现删除玩家
func (r *GormRoomStore) RemovePlayer(ctx context.Context, roomID, playerID string) error {
	result := r.db.WithContext(ctx).Where("room_id = ? AND id = ?", roomID, playerID).Delete(&domain.Player{})
	if result.Error != nil {
		return fmt.Errorf("gorm: remove player %s from room %s: %w", playerID, roomID, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrPlayerNotFound
	}
	return nil
}

// GetGameState 实现读取 (roomID, gameID) 的状态
func (r *GormRoomStore) GetGameState(ctx context.Context, roomID, gameID string) (*domain.GameState, error) {
	var state domain.GameState
	err := r.db.WithContext(ctx).Where("room_id = ? AND game_id = ?", roomID, gameID).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrGameStateNotFound
		}
		return nil, fmt.Errorf("gorm: get game state %s/%s: %w", roomID, gameID, err)
	}
	return &state, nil
}

// UpsertGameState 实现无条件替换，依赖 (room_id, game_id) 复合主键做 ON CONFLICT
func (r *GormRoomStore) UpsertGameState(ctx context.Context, roomID, gameID, payload string) (*domain.GameState, error) {
	now := r.now()
	var out domain.GameState
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state := domain.GameState{RoomID: roomID, GameID: gameID, Payload: payload, Version: 1, UpdatedAt: now}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "room_id"}, {Name: "game_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"payload":    payload,
				"updated_at": now,
				"version":    gorm.Expr("game_states.version + 1"),
			}),
		}).Create(&state).Error
		if err != nil {
			if isForeignKeyViolation(err) {
				return repository.ErrRoomNotFound
			}
			return fmt.Errorf("gorm: upsert game state %s/%s: %w", roomID, gameID, err)
		}
		// 版本号由数据库计算，写入后重新读取
		if err := tx.Where("room_id = ? AND game_id = ?", roomID, gameID).First(&out).Error; err != nil {
			return fmt.Errorf("gorm: reload game state %s/%s: %w", roomID, gameID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CompareAndSwapGameState 实现条件写入。expectedVersion 为 0 时只允许插入。
func (r *GormRoomStore) CompareAndSwapGameState(ctx context.Context, roomID, gameID string, expectedVersion uint64, payload string) (*domain.GameState, error) {
	now := r.now()
	state := &domain.GameState{RoomID: roomID, GameID: gameID, Payload: payload, Version: expectedVersion + 1, UpdatedAt: now}

	if expectedVersion == 0 {
		err := r.db.WithContext(ctx).Create(state).Error
		if err != nil {
			if isUniqueViolation(err) {
				return nil, repository.ErrVersionConflict
			}
			if isForeignKeyViolation(err) {
				return nil, repository.ErrRoomNotFound
			}
			return nil, fmt.Errorf("gorm: insert game state %s/%s: %w", roomID, gameID, err)
		}
		return state, nil
	}

	result := r.db.WithContext(ctx).Model(&domain.GameState{}).
		Where("room_id = ? AND game_id = ? AND version = ?", roomID, gameID, expectedVersion).
		Updates(map[string]interface{}{
			"payload":    payload,
			"version":    expectedVersion + 1,
			"updated_at": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("gorm: compare-and-swap game state %s/%s@%d: %w", roomID, gameID, expectedVersion, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, repository.ErrVersionConflict
	}
	return state, nil
}

// DeleteRoom 实现删除房间，玩家和游戏状态由外键 ON DELETE CASCADE 删除
func (r *GormRoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	result := r.db.WithContext(ctx).Where("id = ?", roomID).Delete(&domain.Room{})
	if result.Error != nil {
		return fmt.Errorf("gorm: delete room %s: %w", roomID, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrRoomNotFound
	}
	return nil
}

// DeleteExpiredRooms 实现批量删除过期房间，返回被删除的 ID
func (r *GormRoomStore) DeleteExpiredRooms(ctx context.Context, now time.Time) ([]string, error) {
	ids := make([]string, 0)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Room{}).
			Where("expires_at IS NOT NULL AND expires_at < ?", now.UTC()).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("gorm: select expired rooms: %w", err)
		}
		if len(ids) == 0 {
			return nil // 避免空的 IN 查询
		}
		if err := tx.Where("id IN ?", ids).Delete(&domain.Room{}).Error; err != nil {
			return fmt.Errorf("gorm: delete %d expired rooms: %w", len(ids), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// isUniqueViolation 识别唯一约束冲突 (MySQL 1062 / PostgreSQL 23505)
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntry
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// isForeignKeyViolation 识别外键缺失，即房间已被并发删除
func isForeignKeyViolation(err error) bool {
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlForeignKeyMissing
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolation
	}
	return false
}
