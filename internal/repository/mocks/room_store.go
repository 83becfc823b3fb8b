// Package mocks 提供基于 testify/mock 的仓库接口实现，供服务层测试使用。
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"party-rooms/internal/domain"
	"party-rooms/internal/repository"
)

// RoomStore 是 repository.RoomStore 的 Mock 实现
type RoomStore struct {
	mock.Mock
}

var _ repository.RoomStore = (*RoomStore)(nil)

func (m *RoomStore) CreateRoom(ctx context.Context, room *domain.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

func (m *RoomStore) FindBySlug(ctx context.Context, slug string) (*domain.Room, error) {
	args := m.Called(ctx, slug)
	room, _ := args.Get(0).(*domain.Room)
	return room, args.Error(1)
}

func (m *RoomStore) ListPlayers(ctx context.Context, roomID string) ([]domain.Player, error) {
	args := m.Called(ctx, roomID)
	players, _ := args.Get(0).([]domain.Player)
	return players, args.Error(1)
}

func (m *RoomStore) AddPlayer(ctx context.Context, room *domain.Room, player *domain.Player) error {
	args := m.Called(ctx, room, player)
	return args.Error(0)
}

func (m *RoomStore) RemovePlayer(ctx context.Context, roomID, playerID string) error {
	args := m.Called(ctx, roomID, playerID)
	return args.Error(0)
}

func (m *RoomStore) GetGameState(ctx context.Context, roomID, gameID string) (*domain.GameState, error) {
	args := m.Called(ctx, roomID, gameID)
	state, _ := args.Get(0).(*domain.GameState)
	return state, args.Error(1)
}

func (m *RoomStore) UpsertGameState(ctx context.Context, roomID, gameID, payload string) (*domain.GameState, error) {
	args := m.Called(ctx, roomID, gameID, payload)
	state, _ := args.Get(0).(*domain.GameState)
	return state, args.Error(1)
}

func (m *RoomStore) CompareAndSwapGameState(ctx context.Context, roomID, gameID string, expectedVersion uint64, payload string) (*domain.GameState, error) {
	args := m.Called(ctx, roomID, gameID, expectedVersion, payload)
	state, _ := args.Get(0).(*domain.GameState)
	return state, args.Error(1)
}

func (m *RoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func (m *RoomStore) DeleteExpiredRooms(ctx context.Context, now time.Time) ([]string, error) {
	args := m.Called(ctx, now)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}
