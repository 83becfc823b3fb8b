package redisstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const defaultKeyPrefix = "pr:" // party rooms

// keyspace 统一生成带前缀的 Redis key
type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return keyspace{prefix: prefix}
}

func (k keyspace) attemptsKey(key string) string {
	return fmt.Sprintf("%sattempts:%s", k.prefix, key)
}

func (k keyspace) roomEventsChannel(roomID string) string {
	return fmt.Sprintf("%sroom:%s:events", k.prefix, roomID)
}

// RedisAttemptStore 是 AttemptStore 的 Redis 实现 (有序集合形式的滑动窗口日志)。
// score 为毫秒时间戳，member 附带随机后缀以区分同一毫秒内的多次尝试。
type RedisAttemptStore struct {
	client *redis.Client
	keys   keyspace
}

// NewRedisAttemptStore 创建 RedisAttemptStore 实例
func NewRedisAttemptStore(client *redis.Client, keyPrefix string) *RedisAttemptStore {
	if client == nil {
		panic("redis client cannot be nil for RedisAttemptStore")
	}
	return &RedisAttemptStore{client: client, keys: newKeyspace(keyPrefix)}
}

// Record 记录一次尝试，同时清理窗口外的记录并刷新过期时间
func (s *RedisAttemptStore) Record(ctx context.Context, key string, window time.Duration, now time.Time) error {
	k := s.keys.attemptsKey(key)
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, k, &redis.Z{Score: float64(nowMs), Member: member})
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(nowMs-window.Milliseconds(), 10))
	pipe.PExpire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to record attempt on key %s: %w", k, err)
	}
	return nil
}

// Count 返回 (now-window, now] 内的尝试次数和最早一次的时间
func (s *RedisAttemptStore) Count(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	k := s.keys.attemptsKey(key)
	nowMs := now.UnixMilli()
	minScore := "(" + strconv.FormatInt(nowMs-window.Milliseconds(), 10)
	maxScore := strconv.FormatInt(nowMs, 10)

	pipe := s.client.Pipeline()
	countCmd := pipe.ZCount(ctx, k, minScore, maxScore)
	oldestCmd := pipe.ZRangeByScoreWithScores(ctx, k, &redis.ZRangeBy{Min: minScore, Max: maxScore, Offset: 0, Count: 1})
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, time.Time{}, fmt.Errorf("redis: failed to count attempts on key %s: %w", k, err)
	}

	count, err := countCmd.Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: failed to read attempt count on key %s: %w", k, err)
	}
	var oldest time.Time
	if zs := oldestCmd.Val(); len(zs) > 0 {
		oldest = time.UnixMilli(int64(zs[0].Score))
	}
	return int(count), oldest, nil
}

// Reset 删除 key 的全部记录
func (s *RedisAttemptStore) Reset(ctx context.Context, key string) error {
	k := s.keys.attemptsKey(key)
	if err := s.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("redis: failed to reset attempts on key %s: %w", k, err)
	}
	return nil
}
