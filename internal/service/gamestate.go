package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"party-rooms/internal/domain"
	"party-rooms/internal/repository"

	"github.com/sirupsen/logrus"
)

const (
	maxPayloadBytes   = 16 * 1024
	maxUpdateAttempts = 10
	casBackoffBase    = 2 * time.Millisecond
)

var gameIDPattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

// ValidateGameID 校验路由参数中的 gameId。
func ValidateGameID(gameID string) error {
	if !gameIDPattern.MatchString(gameID) {
		return &ValidationError{Field: "gameId", Reason: "must match ^[a-z0-9_-]{1,32}$"}
	}
	return nil
}

// GameStateService 负责读取和写入房间内的小游戏状态，并在写入后发布变更事件。
type GameStateService struct {
	store repository.RoomStore
	feed  repository.ChangeFeed
	now   func() time.Time
}

// NewGameStateService 创建 GameStateService 实例。
func NewGameStateService(store repository.RoomStore, feed repository.ChangeFeed) *GameStateService {
	if store == nil || feed == nil {
		panic("RoomStore and ChangeFeed cannot be nil for GameStateService")
	}
	return &GameStateService{store: store, feed: feed, now: time.Now}
}

// WithClock 替换时钟，用于测试。
func (s *GameStateService) WithClock(now func() time.Time) *GameStateService {
	s.now = now
	return s
}

// GetState 读取状态。尚未写入过的 gameId 返回 Payload 为 "null"、Version 为 0 的空状态。
// 所有读写都要求 claims 属于房间的现有成员。
func (s *GameStateService) GetState(ctx context.Context, slug, gameID string, claims *PlayerClaims) (*domain.GameState, error) {
	if err := ValidateGameID(gameID); err != nil {
		return nil, err
	}
	room, err := findMemberRoom(ctx, s.store, slug, claims, s.now())
	if err != nil {
		return nil, err
	}
	state, err := s.store.GetGameState(ctx, room.ID, gameID)
	if err != nil {
		if errors.Is(err, repository.ErrGameStateNotFound) {
			return &domain.GameState{RoomID: room.ID, GameID: gameID, Payload: "null"}, nil
		}
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": room.ID, "game_id": gameID}).Error("Failed to get game state")
		return nil, mapRepoError(err)
	}
	return state, nil
}

// LoadState 按房间 ID 读取状态，供实时连接发送 snapshot。语义同 GetState。
func (s *GameStateService) LoadState(ctx context.Context, roomID, gameID string) (*domain.GameState, error) {
	state, err := s.store.GetGameState(ctx, roomID, gameID)
	if err != nil {
		if errors.Is(err, repository.ErrGameStateNotFound) {
			return &domain.GameState{RoomID: roomID, GameID: gameID, Payload: "null"}, nil
		}
		return nil, mapRepoError(err)
	}
	return state, nil
}

// PutState 整体替换状态 (合并由调用方负责)。
func (s *GameStateService) PutState(ctx context.Context, slug, gameID string, payload json.RawMessage, claims *PlayerClaims) (*domain.GameState, error) {
	// 1. 校验 (在任何 I/O 之前)
	if err := ValidateGameID(gameID); err != nil {
		return nil, err
	}
	if err := validatePayload(payload); err != nil {
		return nil, err
	}
	room, err := findMemberRoom(ctx, s.store, slug, claims, s.now())
	if err != nil {
		return nil, err
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": room.ID, "game_id": gameID})

	// 2. 写入
	state, err := s.store.UpsertGameState(ctx, room.ID, gameID, string(payload))
	if err != nil {
		logCtx.WithError(err).Error("Failed to upsert game state")
		return nil, mapRepoError(err)
	}

	// 3. 发布变更
	s.publish(ctx, state)
	logCtx.WithField("version", state.Version).Debug("Game state replaced")
	return state, nil
}

// UpdateState 以 CAS 循环执行读-改-写：mutate 基于当前状态计算新 Payload，
// 版本号冲突时重新读取再计算。循环中不持有任何进程内锁。
func (s *GameStateService) UpdateState(ctx context.Context, slug, gameID string, claims *PlayerClaims, mutate func(current *domain.GameState) (string, error)) (*domain.GameState, error) {
	if err := ValidateGameID(gameID); err != nil {
		return nil, err
	}
	room, err := findMemberRoom(ctx, s.store, slug, claims, s.now())
	if err != nil {
		return nil, err
	}
	return s.updateRoomState(ctx, room.ID, gameID, mutate)
}

func (s *GameStateService) updateRoomState(ctx context.Context, roomID, gameID string, mutate func(current *domain.GameState) (string, error)) (*domain.GameState, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "game_id": gameID})

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		// 1. 读取当前版本
		current, err := s.store.GetGameState(ctx, roomID, gameID)
		if err != nil {
			if !errors.Is(err, repository.ErrGameStateNotFound) {
				logCtx.WithError(err).Error("Failed to read game state for update")
				return nil, mapRepoError(err)
			}
			current = &domain.GameState{RoomID: roomID, GameID: gameID}
		}

		// 2. 计算新值
		next, err := mutate(current)
		if err != nil {
			return nil, err
		}
		if err := validatePayload(json.RawMessage(next)); err != nil {
			return nil, err
		}

		// 3. 条件写入
		state, err := s.store.CompareAndSwapGameState(ctx, roomID, gameID, current.Version, next)
		if err == nil {
			s.publish(ctx, state)
			return state, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			logCtx.WithError(err).Error("Failed to write game state")
			return nil, mapRepoError(err)
		}
		logCtx.Debugf("Version conflict at %d, retrying (attempt %d)", current.Version, attempt)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, ctx.Err())
		case <-time.After(casBackoffBase * time.Duration(attempt)):
		}
	}
	logCtx.Warnf("Game state update gave up after %d conflicting attempts", maxUpdateAttempts)
	return nil, fmt.Errorf("%w: too much write contention", ErrStoreUnavailable)
}

// IncrementCheers 将房间的欢呼计数加一，并发调用不会丢失增量。
func (s *GameStateService) IncrementCheers(ctx context.Context, slug string, claims *PlayerClaims) (domain.CheersPayload, *domain.GameState, error) {
	var result domain.CheersPayload
	state, err := s.UpdateState(ctx, slug, domain.CheersGameID, claims, func(current *domain.GameState) (string, error) {
		p, err := current.ParseCheers()
		if err != nil {
			// 无法解析的旧数据从 0 重新开始计数
			logrus.WithError(err).WithField("room_id", current.RoomID).Warn("Corrupt cheers payload, resetting count")
			p = domain.CheersPayload{}
		}
		p.CheersCount++
		raw, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInternalServer, err)
		}
		result = p
		return string(raw), nil
	})
	if err != nil {
		return result, nil, err
	}
	return result, state, nil
}

func (s *GameStateService) publish(ctx context.Context, state *domain.GameState) {
	if err := s.feed.Publish(ctx, domain.NewGameStateEvent(state)); err != nil {
		// 状态已经提交，订阅方会在重连的 snapshot 中追上
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": state.RoomID, "game_id": state.GameID}).Warn("Failed to publish game state event")
	}
}

func validatePayload(payload json.RawMessage) error {
	if len(payload) == 0 {
		return &ValidationError{Field: "payload", Reason: "is required"}
	}
	if len(payload) > maxPayloadBytes {
		return &ValidationError{Field: "payload", Reason: fmt.Sprintf("exceeds %d bytes", maxPayloadBytes)}
	}
	if !json.Valid(payload) {
		return &ValidationError{Field: "payload", Reason: "must be valid JSON"}
	}
	return nil
}
