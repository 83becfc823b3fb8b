package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"party-rooms/internal/service"
)

// Sweeper 执行一次过期清理，由 service.ExpiryReaper 实现
type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepResult, error)
}

// ExpirySweepHandler 处理周期性的过期房间清理任务
type ExpirySweepHandler struct {
	sweeper Sweeper
}

// NewExpirySweepHandler 创建 Handler 实例
func NewExpirySweepHandler(sweeper Sweeper) *ExpirySweepHandler {
	if sweeper == nil {
		panic("Sweeper cannot be nil for ExpirySweepHandler")
	}
	return &ExpirySweepHandler{sweeper: sweeper}
}

// ProcessTask 实现 asynq.Handler 接口。清理是幂等的，失败时交给 asynq 重试。
func (h *ExpirySweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
	logCtx.Info("Processing room expiry sweep task...")

	result, err := h.sweeper.Sweep(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Room expiry sweep failed")
		return fmt.Errorf("expiry sweep: %w", err)
	}

	logCtx.WithFields(logrus.Fields{"count": result.Count, "room_ids": result.RoomIDs}).Info("Room expiry sweep task processed successfully")
	return nil
}
