// Package memory 提供进程内的存储实现，仅用于本地开发和测试。
// 数据不持久化，重启即丢失，也无法在多实例之间共享；
// 只能通过 STORE_BACKEND=memory 显式启用，存储出错时不会自动切换到这里。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"party-rooms/internal/domain"
	"party-rooms/internal/repository"
)

// RoomStore 是 repository.RoomStore 的内存实现。
// 所有 map 由同一把锁保护，返回值都是副本。
type RoomStore struct {
	mu      sync.RWMutex
	rooms   map[string]*domain.Room                 // roomID -> room
	bySlug  map[string]string                       // slug -> roomID
	players map[string]map[string]*domain.Player    // roomID -> playerID -> player
	states  map[string]map[string]*domain.GameState // roomID -> gameID -> state
	now     func() time.Time
}

// NewRoomStore 创建空的内存存储
func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms:   make(map[string]*domain.Room),
		bySlug:  make(map[string]string),
		players: make(map[string]map[string]*domain.Player),
		states:  make(map[string]map[string]*domain.GameState),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock 替换写入 UpdatedAt 使用的时钟，用于测试
func (s *RoomStore) WithClock(now func() time.Time) *RoomStore {
	s.now = now
	return s
}

func (s *RoomStore) CreateRoom(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySlug[room.Slug]; exists {
		return repository.ErrDuplicateEntry
	}
	if _, exists := s.rooms[room.ID]; exists {
		return repository.ErrDuplicateEntry
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now()
	}
	stored := cloneRoom(room)
	s.rooms[room.ID] = stored
	s.bySlug[room.Slug] = room.ID
	s.players[room.ID] = make(map[string]*domain.Player)
	s.states[room.ID] = make(map[string]*domain.GameState)
	return nil
}

func (s *RoomStore) FindBySlug(ctx context.Context, slug string) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySlug[slug]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	return cloneRoom(s.rooms[id]), nil
}

func (s *RoomStore) ListPlayers(ctx context.Context, roomID string) ([]domain.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Player, 0, len(s.players[roomID]))
	for _, p := range s.players[roomID] {
		out = append(out, clonePlayer(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

// AddPlayer 在持锁期间完成容量检查、序号分配和写入，因此不会出现 ErrSeatTaken
func (s *RoomStore) AddPlayer(ctx context.Context, room *domain.Room, player *domain.Player) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.rooms[room.ID]
	if !ok {
		return repository.ErrRoomNotFound
	}
	seated, maxIndex := 0, -1
	for _, p := range s.players[room.ID] {
		if p.IsSpectator {
			continue
		}
		seated++
		if p.OrderIndex > maxIndex {
			maxIndex = p.OrderIndex
		}
	}
	if !player.IsSpectator && seated >= stored.MaxPlayers {
		return repository.ErrCapacityReached
	}

	player.RoomID = room.ID
	player.OrderIndex = maxIndex + 1
	player.Seat = nil
	if !player.IsSpectator {
		seat := player.OrderIndex
		player.Seat = &seat
	}
	if player.JoinedAt.IsZero() {
		player.JoinedAt = s.now()
	}
	p := clonePlayer(player)
	s.players[room.ID][player.ID] = &p
	return nil
}

func (s *RoomStore) RemovePlayer(ctx context.Context, roomID, playerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[roomID][playerID]; !ok {
		return repository.ErrPlayerNotFound
	}
	delete(s.players[roomID], playerID)
	return nil
}

func (s *RoomStore) GetGameState(ctx context.Context, roomID, gameID string) (*domain.GameState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[roomID][gameID]
	if !ok {
		return nil, repository.ErrGameStateNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *RoomStore) UpsertGameState(ctx context.Context, roomID, gameID, payload string) (*domain.GameState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	games, ok := s.states[roomID]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	st, exists := games[gameID]
	if !exists {
		st = &domain.GameState{RoomID: roomID, GameID: gameID}
		games[gameID] = st
	}
	st.Payload = payload
	st.Version++
	st.UpdatedAt = s.now()
	cp := *st
	return &cp, nil
}

func (s *RoomStore) CompareAndSwapGameState(ctx context.Context, roomID, gameID string, expectedVersion uint64, payload string) (*domain.GameState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	games, ok := s.states[roomID]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	var current uint64
	if st, exists := games[gameID]; exists {
		current = st.Version
	}
	if current != expectedVersion {
		return nil, repository.ErrVersionConflict
	}
	st := &domain.GameState{
		RoomID:    roomID,
		GameID:    gameID,
		Payload:   payload,
		Version:   expectedVersion + 1,
		UpdatedAt: s.now(),
	}
	games[gameID] = st
	cp := *st
	return &cp, nil
}

func (s *RoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.deleteLocked(roomID) {
		return repository.ErrRoomNotFound
	}
	return nil
}

func (s *RoomStore) DeleteExpiredRooms(ctx context.Context, now time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0)
	for id, room := range s.rooms {
		if room.IsExpired(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.deleteLocked(id)
	}
	return ids, nil
}

// deleteLocked 删除房间及其玩家和游戏状态，对应数据库的 ON DELETE CASCADE。调用方必须持有写锁。
func (s *RoomStore) deleteLocked(roomID string) bool {
	room, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	delete(s.bySlug, room.Slug)
	delete(s.rooms, roomID)
	delete(s.players, roomID)
	delete(s.states, roomID)
	return true
}

func cloneRoom(r *domain.Room) *domain.Room {
	cp := *r
	cp.Players = nil
	cp.GameStates = nil
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		cp.ExpiresAt = &t
	}
	if r.PasswordHash != nil {
		h := *r.PasswordHash
		cp.PasswordHash = &h
	}
	return &cp
}

func clonePlayer(p *domain.Player) domain.Player {
	cp := *p
	if p.Seat != nil {
		seat := *p.Seat
		cp.Seat = &seat
	}
	return cp
}
