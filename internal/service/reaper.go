package service

import (
	"context"
	"time"

	"party-rooms/internal/repository"

	"github.com/sirupsen/logrus"
)

// SweepResult 是一次过期清理的结果，用于审计日志。
type SweepResult struct {
	Count   int      `json:"count"`
	RoomIDs []string `json:"roomIds"`
}

// ExpiryReaper 周期性地清理过期房间。
// 级联删除由存储层的外键约束完成，这里不逐表删除。
type ExpiryReaper struct {
	store repository.RoomStore
	feed  repository.ChangeFeed
	now   func() time.Time
}

// NewExpiryReaper 创建 ExpiryReaper 实例。
func NewExpiryReaper(store repository.RoomStore, feed repository.ChangeFeed) *ExpiryReaper {
	if store == nil || feed == nil {
		panic("RoomStore and ChangeFeed cannot be nil for ExpiryReaper")
	}
	return &ExpiryReaper{store: store, feed: feed, now: time.Now}
}

// WithClock 替换时钟，用于测试。
func (r *ExpiryReaper) WithClock(now func() time.Time) *ExpiryReaper {
	r.now = now
	return r
}

// Sweep 删除所有已过期的房间。重复执行是幂等的，没有可删除的房间时返回 Count 为 0。
func (r *ExpiryReaper) Sweep(ctx context.Context) (SweepResult, error) {
	now := r.now()
	logCtx := logrus.WithField("sweep_at", now.UTC().Format(time.RFC3339))

	ids, err := r.store.DeleteExpiredRooms(ctx, now)
	if err != nil {
		logCtx.WithError(err).Error("Expiry sweep failed")
		return SweepResult{}, mapRepoError(err)
	}
	if ids == nil {
		ids = []string{}
	}

	// 通知仍然连接着的客户端
	for _, id := range ids {
		publishRoomClosed(ctx, r.feed, id, now)
	}

	result := SweepResult{Count: len(ids), RoomIDs: ids}
	logCtx.WithFields(logrus.Fields{"count": result.Count, "room_ids": result.RoomIDs}).Info("Expiry sweep completed")
	return result, nil
}
