package service

import (
	"errors"
	"fmt"
	"time"

	"party-rooms/internal/repository"
)

var (
	ErrInvalidSlug      = errors.New("invalid room slug")
	ErrInvalidInput     = errors.New("invalid input")
	ErrRoomNotFound     = errors.New("room not found")
	ErrWrongPassword    = errors.New("wrong room password")
	ErrRoomFull         = errors.New("room is full")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrStoreUnavailable = errors.New("room store unavailable")
	ErrInternalServer   = errors.New("internal server error")
)

// RateLimitError 表示请求被限流，携带重试提示。
type RateLimitError struct {
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

// ValidationError 描述未通过校验的字段，errors.Is(err, ErrInvalidInput) 为真。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// mapRepoError 将仓库层错误映射为服务层错误。
// 超时、取消以及其他未识别的错误都视为存储不可用 (可重试)。
func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrRoomNotFound
	case errors.Is(err, repository.ErrCapacityReached):
		return ErrRoomFull
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
