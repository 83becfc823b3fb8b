package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeRoomExpirySweep = "rooms:expiry_sweep" // 过期房间清理任务类型
)

// RoomExpirySweepPayload 是过期清理任务的数据，周期任务不需要参数，
// 只记录调度时间便于排查
type RoomExpirySweepPayload struct {
	ScheduledAt time.Time `json:"scheduledAt"`
}

// NewRoomExpirySweepTask 创建一个过期清理任务。
// Unique 保证多个调度器实例在同一周期内只入队一次。
func NewRoomExpirySweepTask(interval time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(RoomExpirySweepPayload{ScheduledAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue("default"), asynq.MaxRetry(3)}
	if interval > 0 {
		opts = append(opts, asynq.Unique(interval), asynq.Timeout(interval))
	}
	return asynq.NewTask(TypeRoomExpirySweep, payload, opts...), nil
}
