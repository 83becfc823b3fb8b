package service

import (
	"context"
	"fmt"
	"time"

	"party-rooms/internal/repository"

	"github.com/sirupsen/logrus"
)

// LimitStatus 是一次限流检查的结果。
type LimitStatus struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter 返回距离 ResetAt 的时长，最少 1 秒。
func (s LimitStatus) RetryAfter(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}

// RateLimiter 基于 AttemptStore 的滑动窗口计数器。
// 计数存储可替换 (内存或 Redis)，调用签名不变。
type RateLimiter struct {
	store  repository.AttemptStore
	max    int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRateLimiter 创建限流器。prefix 用于隔离不同用途的 key。
func NewRateLimiter(store repository.AttemptStore, prefix string, max int, window time.Duration) *RateLimiter {
	if store == nil {
		panic("AttemptStore cannot be nil for RateLimiter")
	}
	if max <= 0 {
		panic("max must be positive for RateLimiter")
	}
	if window <= 0 {
		panic("window duration must be positive for RateLimiter")
	}
	return &RateLimiter{store: store, max: max, window: window, prefix: prefix, now: time.Now}
}

// WithClock 替换时钟，用于测试。
func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	l.now = now
	return l
}

func (l *RateLimiter) key(k string) string { return l.prefix + k }

// RecordAttempt 在窗口内记录一次尝试。
func (l *RateLimiter) RecordAttempt(ctx context.Context, key string) error {
	if err := l.store.Record(ctx, l.key(key), l.window, l.now()); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// CheckLimit 返回 key 当前的限流状态，不记录尝试。
func (l *RateLimiter) CheckLimit(ctx context.Context, key string) (LimitStatus, error) {
	now := l.now()
	count, oldest, err := l.store.Count(ctx, l.key(key), l.window, now)
	if err != nil {
		return LimitStatus{}, fmt.Errorf("check limit: %w", err)
	}
	return l.status(count, oldest, now), nil
}

// Allow 检查并在允许时记录一次尝试，用于普通的请求限流。
func (l *RateLimiter) Allow(ctx context.Context, key string) (LimitStatus, error) {
	status, err := l.CheckLimit(ctx, key)
	if err != nil || !status.Allowed {
		return status, err
	}
	if err := l.RecordAttempt(ctx, key); err != nil {
		return status, err
	}
	status.Remaining--
	return status, nil
}

// Reset 清空 key 的计数。
func (l *RateLimiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, l.key(key))
}

func (l *RateLimiter) status(count int, oldest, now time.Time) LimitStatus {
	resetAt := now
	if !oldest.IsZero() {
		resetAt = oldest.Add(l.window)
	}
	remaining := l.max - count
	if remaining < 0 {
		remaining = 0
	}
	return LimitStatus{Allowed: count < l.max, Remaining: remaining, ResetAt: resetAt}
}

// LoginAttemptGuard 针对房间密码的失败尝试进行锁定。
// 有效计数取 IP 维度和账号 (房间) 维度的最大值：
// 轮换 IP 无法绕过房间锁定，单个 IP 的噪声也只会先耗尽该 IP 自己的配额。
type LoginAttemptGuard struct {
	byIP      *RateLimiter
	byAccount *RateLimiter
}

// NewLoginAttemptGuard 创建登录尝试守卫，两个维度共享同一阈值和窗口。
func NewLoginAttemptGuard(store repository.AttemptStore, maxAttempts int, window time.Duration) *LoginAttemptGuard {
	return &LoginAttemptGuard{
		byIP:      NewRateLimiter(store, "login:ip:", maxAttempts, window),
		byAccount: NewRateLimiter(store, "login:acct:", maxAttempts, window),
	}
}

// WithClock 替换时钟，用于测试。
func (g *LoginAttemptGuard) WithClock(now func() time.Time) *LoginAttemptGuard {
	g.byIP.WithClock(now)
	g.byAccount.WithClock(now)
	return g
}

// Check 返回 (ip, account) 组合的锁定状态。
func (g *LoginAttemptGuard) Check(ctx context.Context, ip, account string) (LimitStatus, error) {
	ipStatus, err := g.byIP.CheckLimit(ctx, ip)
	if err != nil {
		return LimitStatus{}, err
	}
	acctStatus, err := g.byAccount.CheckLimit(ctx, account)
	if err != nil {
		return LimitStatus{}, err
	}
	// Remaining 越小说明计数越大，取计数较大的一方
	if acctStatus.Remaining < ipStatus.Remaining {
		return acctStatus, nil
	}
	if ipStatus.Remaining < acctStatus.Remaining {
		return ipStatus, nil
	}
	if acctStatus.ResetAt.After(ipStatus.ResetAt) {
		return acctStatus, nil
	}
	return ipStatus, nil
}

// RecordFailure 同时在两个维度记录一次失败。
func (g *LoginAttemptGuard) RecordFailure(ctx context.Context, ip, account string) error {
	if err := g.byIP.RecordAttempt(ctx, ip); err != nil {
		return err
	}
	if err := g.byAccount.RecordAttempt(ctx, account); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"client_ip": ip, "account": account}).Debug("Login failure recorded")
	return nil
}
