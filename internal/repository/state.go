package repository

import (
	"context"
	"time"

	"party-rooms/internal/domain"
)

// ChangeFeed 是按房间划分的变更流。
// 投递语义为至少一次，订阅方需要自行去重。
type ChangeFeed interface {
	// Publish 将事件发布到 event.RoomID 对应的频道。
	Publish(ctx context.Context, event domain.RoomEvent) error

	// Subscribe 订阅指定房间的频道。调用方负责在结束时 Close。
	Subscribe(ctx context.Context, roomID string) (FeedSubscription, error)
}

// FeedSubscription 是一个活跃的房间订阅。
type FeedSubscription interface {
	Events() <-chan domain.RoomEvent
	Close() error
}

// AttemptStore 保存滑动窗口内的尝试记录，供限流和登录锁定使用。
// 内存实现只适用于单实例部署，Redis 实现可在多实例间共享。
type AttemptStore interface {
	// Record 在 key 的窗口内记录一次发生于 now 的尝试。
	Record(ctx context.Context, key string, window time.Duration, now time.Time) error

	// Count 返回 (now-window, now] 内的尝试次数以及其中最早一次的时间。
	// 没有记录时 oldest 为零值。
	Count(ctx context.Context, key string, window time.Duration, now time.Time) (count int, oldest time.Time, err error)

	// Reset 清空 key 的所有记录。
	Reset(ctx context.Context, key string) error
}
