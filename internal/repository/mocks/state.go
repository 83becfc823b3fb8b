package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"party-rooms/internal/domain"
	"party-rooms/internal/repository"
)

// ChangeFeed 是 repository.ChangeFeed 的 Mock 实现
type ChangeFeed struct {
	mock.Mock
}

var _ repository.ChangeFeed = (*ChangeFeed)(nil)

func (m *ChangeFeed) Publish(ctx context.Context, event domain.RoomEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *ChangeFeed) Subscribe(ctx context.Context, roomID string) (repository.FeedSubscription, error) {
	args := m.Called(ctx, roomID)
	sub, _ := args.Get(0).(repository.FeedSubscription)
	return sub, args.Error(1)
}

// AttemptStore 是 repository.AttemptStore 的 Mock 实现
type AttemptStore struct {
	mock.Mock
}

var _ repository.AttemptStore = (*AttemptStore)(nil)

func (m *AttemptStore) Record(ctx context.Context, key string, window time.Duration, now time.Time) error {
	args := m.Called(ctx, key, window, now)
	return args.Error(0)
}

func (m *AttemptStore) Count(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	args := m.Called(ctx, key, window, now)
	oldest, _ := args.Get(1).(time.Time)
	return args.Int(0), oldest, args.Error(2)
}

func (m *AttemptStore) Reset(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
