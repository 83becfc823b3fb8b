package repository

import "errors"

// 通用的存储库错误
var (
	// ErrNotFound 表示请求的记录未找到
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry 表示尝试插入的数据违反了唯一约束 (例如 slug 冲突)
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
	// ErrVersionConflict 表示 CAS 写入时版本号已被其他写入者修改
	ErrVersionConflict = errors.New("repository: version conflict")
	// ErrSeatTaken 表示并发加入时序号被抢占，调用方应重试
	ErrSeatTaken = errors.New("repository: seat already taken")
	// ErrCapacityReached 表示房间的非观众座位已满
	ErrCapacityReached = errors.New("repository: room capacity reached")
)

// 特定资源的错误 (基于通用错误)
var (
	ErrRoomNotFound      = ErrNotFound
	ErrPlayerNotFound    = ErrNotFound
	ErrGameStateNotFound = ErrNotFound
)
