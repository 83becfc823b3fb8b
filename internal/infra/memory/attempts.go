package memory

import (
	"context"
	"sync"
	"time"
)

// defaultSweepEvery 是两次全量清理之间的 Record 调用次数
const defaultSweepEvery = 256

// AttemptStore 是 repository.AttemptStore 的进程内实现：每个 key 一个按时间排序的时间戳切片。
// 只适用于单实例部署。
// 只 Record 不 Count 的 key (例如每个 IP 一次失败后再也不来) 由 Record 周期性的全量清理回收。
type AttemptStore struct {
	mu         sync.Mutex
	attempts   map[string]*attemptLog
	records    int
	sweepEvery int
}

// attemptLog 保存一个 key 的时间戳以及最近一次记录时使用的窗口
type attemptLog struct {
	times  []time.Time
	window time.Duration
}

// NewAttemptStore 创建空的尝试记录存储
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[string]*attemptLog), sweepEvery: defaultSweepEvery}
}

// WithSweepEvery 设置每多少次 Record 做一次全量清理，n <= 0 时保持默认值
func (s *AttemptStore) WithSweepEvery(n int) *AttemptStore {
	if n > 0 {
		s.sweepEvery = n
	}
	return s
}

// Len 返回当前保存的 key 数量
func (s *AttemptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func (s *AttemptStore) Record(ctx context.Context, key string, window time.Duration, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.attempts[key]
	if !ok {
		entry = &attemptLog{}
		s.attempts[key] = entry
	}
	entry.times = append(prune(entry.times, now.Add(-window)), now)
	entry.window = window

	s.records++
	if s.records >= s.sweepEvery {
		s.records = 0
		s.sweep(now)
	}
	return nil
}

// sweep 删除所有记录都已滑出各自窗口的 key，调用方必须持有锁
func (s *AttemptStore) sweep(now time.Time) {
	for key, entry := range s.attempts {
		entry.times = prune(entry.times, now.Add(-entry.window))
		if len(entry.times) == 0 {
			delete(s.attempts, key)
		}
	}
}

func (s *AttemptStore) Count(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.attempts[key]
	if !ok {
		return 0, time.Time{}, nil
	}
	kept := prune(entry.times, now.Add(-window))
	if len(kept) == 0 {
		delete(s.attempts, key)
		return 0, time.Time{}, nil
	}
	entry.times = kept

	count := 0
	var oldest time.Time
	for _, t := range kept {
		if t.After(now) {
			continue
		}
		if count == 0 {
			oldest = t
		}
		count++
	}
	return count, oldest, nil
}

func (s *AttemptStore) Reset(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, key)
	return nil
}

// prune 丢弃 windowStart 及之前的记录，返回 (windowStart, ...] 内的部分
func prune(times []time.Time, windowStart time.Time) []time.Time {
	idx := len(times)
	for i, t := range times {
		if t.After(windowStart) {
			idx = i
			break
		}
	}
	return times[idx:]
}
