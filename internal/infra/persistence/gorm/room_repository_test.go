package gormpersistence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"party-rooms/internal/domain"
	gormpersistence "party-rooms/internal/infra/persistence/gorm"
	"party-rooms/internal/repository"
	"party-rooms/internal/testutil"
)

func newRoom(slug string, maxPlayers int, expiresAt *time.Time) *domain.Room {
	return &domain.Room{ID: uuid.NewString(), Slug: slug, MaxPlayers: maxPlayers, ExpiresAt: expiresAt}
}

func join(t *testing.T, store *gormpersistence.GormRoomStore, room *domain.Room, name string, spectator bool) domain.Player {
	t.Helper()
	p := domain.Player{ID: uuid.NewString(), DisplayName: name, IsSpectator: spectator, JoinedAt: time.Now().UTC()}
	require.NoError(t, store.AddPlayer(context.Background(), room, &p))
	return p
}

// 所有用例共享一个容器，每个用例使用独立的 slug
func TestGormRoomStore_Postgres(t *testing.T) {
	db := testutil.StartPostgres(t)
	store := gormpersistence.NewGormRoomStore(db)
	ctx := context.Background()

	t.Run("CreateAndFind", func(t *testing.T) {
		hash := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
		room := newRoom("find0001", 4, nil)
		room.PasswordHash = &hash
		require.NoError(t, store.CreateRoom(ctx, room))

		got, err := store.FindBySlug(ctx, "find0001")
		require.NoError(t, err)
		assert.Equal(t, room.ID, got.ID)
		require.NotNil(t, got.PasswordHash)
		assert.Equal(t, hash, *got.PasswordHash)
		assert.Nil(t, got.ExpiresAt)

		err = store.CreateRoom(ctx, newRoom("find0001", 4, nil))
		assert.True(t, errors.Is(err, repository.ErrDuplicateEntry), "重复 slug 应返回 ErrDuplicateEntry, got %v", err)

		_, err = store.FindBySlug(ctx, "missing1")
		assert.True(t, errors.Is(err, repository.ErrRoomNotFound))
	})

	t.Run("OrderIndexAndCapacity", func(t *testing.T) {
		room := newRoom("order001", 2, nil)
		require.NoError(t, store.CreateRoom(ctx, room))

		alice := join(t, store, room, "Alice", false)
		bob := join(t, store, room, "Bob", false)
		carol := join(t, store, room, "Carol", true)
		assert.Equal(t, 0, alice.OrderIndex)
		assert.Equal(t, 1, bob.OrderIndex)
		assert.Equal(t, 2, carol.OrderIndex)
		assert.Nil(t, carol.Seat)

		extra := domain.Player{ID: uuid.NewString(), DisplayName: "Dave", JoinedAt: time.Now().UTC()}
		err := store.AddPlayer(ctx, room, &extra)
		assert.True(t, errors.Is(err, repository.ErrCapacityReached))

		// 离开后不压缩序号，新玩家取 max+1
		require.NoError(t, store.RemovePlayer(ctx, room.ID, alice.ID))
		dave := join(t, store, room, "Dave", false)
		assert.Equal(t, 2, dave.OrderIndex)

		players, err := store.ListPlayers(ctx, room.ID)
		require.NoError(t, err)
		names := make([]string, 0, len(players))
		for _, p := range players {
			names = append(names, p.DisplayName)
		}
		assert.Equal(t, []string{"Bob", "Carol", "Dave"}, names)

		err = store.RemovePlayer(ctx, room.ID, alice.ID)
		assert.True(t, errors.Is(err, repository.ErrPlayerNotFound))
	})

	t.Run("ConcurrentJoinsRespectCapacity", func(t *testing.T) {
		room := newRoom("race0001", 8, nil)
		require.NoError(t, store.CreateRoom(ctx, room))

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			joined   int
			rejected int
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p := domain.Player{ID: uuid.NewString(), DisplayName: "p", JoinedAt: time.Now().UTC()}
				err := store.AddPlayer(ctx, room, &p)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					joined++
				case errors.Is(err, repository.ErrCapacityReached), errors.Is(err, repository.ErrSeatTaken):
					rejected++
				default:
					t.Errorf("unexpected AddPlayer error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 8, joined, "座位数不能超过 MaxPlayers")
		assert.Equal(t, 8, rejected)
		players, err := store.ListPlayers(ctx, room.ID)
		require.NoError(t, err)
		seen := make(map[int]bool)
		for _, p := range players {
			assert.False(t, seen[p.OrderIndex], "序号 %d 重复", p.OrderIndex)
			seen[p.OrderIndex] = true
		}
	})

	t.Run("GameStateVersions", func(t *testing.T) {
		room := newRoom("state001", 4, nil)
		require.NoError(t, store.CreateRoom(ctx, room))

		_, err := store.GetGameState(ctx, room.ID, "quiz")
		assert.True(t, errors.Is(err, repository.ErrGameStateNotFound))

		first, err := store.UpsertGameState(ctx, room.ID, "quiz", `{"round":1}`)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), first.Version)
		second, err := store.UpsertGameState(ctx, room.ID, "quiz", `{"round":2}`)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), second.Version)
		assert.JSONEq(t, `{"round":2}`, second.Payload)

		// CAS: 版本匹配才写入
		_, err = store.CompareAndSwapGameState(ctx, room.ID, "quiz", 1, `{"round":9}`)
		assert.True(t, errors.Is(err, repository.ErrVersionConflict))
		third, err := store.CompareAndSwapGameState(ctx, room.ID, "quiz", 2, `{"round":3}`)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), third.Version)

		// expectedVersion 0 只允许插入
		_, err = store.CompareAndSwapGameState(ctx, room.ID, "quiz", 0, `{}`)
		assert.True(t, errors.Is(err, repository.ErrVersionConflict))
		cheers, err := store.CompareAndSwapGameState(ctx, room.ID, domain.CheersGameID, 0, `{"cheersCount":1}`)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), cheers.Version)

		got, err := store.GetGameState(ctx, room.ID, "quiz")
		require.NoError(t, err)
		assert.Equal(t, uint64(3), got.Version)
		assert.JSONEq(t, `{"round":3}`, got.Payload)
	})

	t.Run("DeleteRoomCascades", func(t *testing.T) {
		room := newRoom("delete01", 4, nil)
		require.NoError(t, store.CreateRoom(ctx, room))
		join(t, store, room, "Alice", false)
		_, err := store.UpsertGameState(ctx, room.ID, "quiz", `{}`)
		require.NoError(t, err)

		require.NoError(t, store.DeleteRoom(ctx, room.ID))

		_, err = store.FindBySlug(ctx, "delete01")
		assert.True(t, errors.Is(err, repository.ErrRoomNotFound))
		players, err := store.ListPlayers(ctx, room.ID)
		require.NoError(t, err)
		assert.Empty(t, players, "玩家应随房间级联删除")
		_, err = store.GetGameState(ctx, room.ID, "quiz")
		assert.True(t, errors.Is(err, repository.ErrGameStateNotFound), "游戏状态应随房间级联删除")

		err = store.DeleteRoom(ctx, room.ID)
		assert.True(t, errors.Is(err, repository.ErrRoomNotFound))

		// 房间删除后写入状态触发外键错误
		_, err = store.UpsertGameState(ctx, room.ID, "quiz", `{}`)
		assert.True(t, errors.Is(err, repository.ErrRoomNotFound))
	})

	t.Run("DeleteExpiredRooms", func(t *testing.T) {
		now := time.Now().UTC()
		past := now.Add(-time.Minute)
		future := now.Add(time.Hour)
		expired := newRoom("expire01", 4, &past)
		live := newRoom("expire02", 4, &future)
		require.NoError(t, store.CreateRoom(ctx, expired))
		require.NoError(t, store.CreateRoom(ctx, live))
		join(t, store, expired, "Alice", false)

		ids, err := store.DeleteExpiredRooms(ctx, now)
		require.NoError(t, err)
		assert.Contains(t, ids, expired.ID)
		assert.NotContains(t, ids, live.ID)

		_, err = store.FindBySlug(ctx, "expire01")
		assert.True(t, errors.Is(err, repository.ErrRoomNotFound))
		_, err = store.FindBySlug(ctx, "expire02")
		assert.NoError(t, err)

		// 幂等
		ids, err = store.DeleteExpiredRooms(ctx, now)
		require.NoError(t, err)
		assert.NotContains(t, ids, expired.ID)
	})
}
