package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"party-rooms/internal/tasks"
)

// WorkerServer 封装了 Asynq Worker Server 的启动和关闭逻辑
type WorkerServer struct {
	server  *asynq.Server
	log     *logrus.Entry
	sweeper Sweeper
}

// NewWorkerServer 创建一个新的 WorkerServer 实例
func NewWorkerServer(redisOpt asynq.RedisClientOpt, sweeper Sweeper, logger *logrus.Logger) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 2, // 只有周期性的清理任务
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID := ""
				if rw := task.ResultWriter(); rw != nil {
					taskID = rw.TaskID()
				}
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{
		server:  server,
		log:     logEntry,
		sweeper: sweeper,
	}
}

// NewServeMux 注册所有任务处理器
func NewServeMux(sweeper Sweeper) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeRoomExpirySweep, NewExpirySweepHandler(sweeper).ProcessTask)
	return mux
}

// Start 在后台启动 Worker Server，立即返回。信号处理由调用方负责。
func (ws *WorkerServer) Start() error {
	ws.log.Info("Worker server starting...")
	if err := ws.server.Start(NewServeMux(ws.sweeper)); err != nil {
		if errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Info("Worker server already stopped.")
			return nil
		}
		return fmt.Errorf("could not start worker server: %w", err)
	}
	return nil
}

// Shutdown 优雅地关闭 Worker Server
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
