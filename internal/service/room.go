package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"party-rooms/internal/domain"
	"party-rooms/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	maxDisplayNameLen   = 32
	maxPasswordLen      = 64
	maxRoomCapacity     = 64
	createRoomAttempts  = 5
	joinSeatAttempts    = 5
	defaultRoomCapacity = 8
)

// RoomOptions 是 RoomService 的可调参数。
type RoomOptions struct {
	DefaultMaxPlayers int
	MaxTTL            time.Duration
}

// CreateRoomInput 是创建房间的参数，字段均可选。
type CreateRoomInput struct {
	Password   *string
	TTLSeconds *int64
	MaxPlayers *int
}

// JoinRoomInput 是加入房间的参数。
type JoinRoomInput struct {
	Slug        string
	DisplayName string
	Password    *string
	AsSpectator bool
	ClientIP    string
}

// JoinRoomResult 是加入成功后的结果。
type JoinRoomResult struct {
	Player  domain.Player
	Players []domain.Player
	Token   string
}

// RoomService 负责房间创建、查询、加入和离开。
type RoomService struct {
	store   repository.RoomStore
	feed    repository.ChangeFeed
	slugs   *SlugGenerator
	creds   *CredentialGuard
	guard   *LoginAttemptGuard
	tokens  *TokenIssuer
	options RoomOptions
	now     func() time.Time
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(
	store repository.RoomStore,
	feed repository.ChangeFeed,
	slugs *SlugGenerator,
	creds *CredentialGuard,
	guard *LoginAttemptGuard,
	tokens *TokenIssuer,
	options RoomOptions,
) *RoomService {
	if store == nil || feed == nil || slugs == nil || creds == nil || guard == nil || tokens == nil {
		panic("all dependencies must be non-nil for RoomService")
	}
	if options.DefaultMaxPlayers <= 0 {
		options.DefaultMaxPlayers = defaultRoomCapacity
	}
	if options.MaxTTL <= 0 {
		options.MaxTTL = 72 * time.Hour
	}
	return &RoomService{
		store:   store,
		feed:    feed,
		slugs:   slugs,
		creds:   creds,
		guard:   guard,
		tokens:  tokens,
		options: options,
		now:     time.Now,
	}
}

// WithClock 替换时钟，用于测试。
func (s *RoomService) WithClock(now func() time.Time) *RoomService {
	s.now = now
	return s
}

// CreateRoom 创建一个新房间，返回不含密码摘要的对外视图。
func (s *RoomService) CreateRoom(ctx context.Context, in CreateRoomInput) (*domain.PublicRoom, error) {
	// 1. 校验输入 (在任何 I/O 之前)
	maxPlayers := s.options.DefaultMaxPlayers
	if in.MaxPlayers != nil {
		if *in.MaxPlayers < 1 || *in.MaxPlayers > maxRoomCapacity {
			return nil, &ValidationError{Field: "maxPlayers", Reason: fmt.Sprintf("must be between 1 and %d", maxRoomCapacity)}
		}
		maxPlayers = *in.MaxPlayers
	}
	now := s.now().UTC()
	var expiresAt *time.Time
	if in.TTLSeconds != nil {
		ttl := time.Duration(*in.TTLSeconds) * time.Second
		if *in.TTLSeconds <= 0 || ttl > s.options.MaxTTL {
			return nil, &ValidationError{Field: "ttlSeconds", Reason: fmt.Sprintf("must be between 1 and %d", int64(s.options.MaxTTL/time.Second))}
		}
		t := now.Add(ttl)
		expiresAt = &t
	}
	var passwordHash *string
	if in.Password != nil && *in.Password != "" {
		if utf8.RuneCountInString(*in.Password) > maxPasswordLen {
			return nil, &ValidationError{Field: "password", Reason: "too long"}
		}
		h := s.creds.HashPassword(*in.Password)
		passwordHash = &h
	}

	// 2. 生成 slug 并保存，slug 冲突时重试
	for attempt := 1; attempt <= createRoomAttempts; attempt++ {
		room := &domain.Room{
			ID:           uuid.NewString(),
			Slug:         s.slugs.Generate(),
			CreatedAt:    now,
			ExpiresAt:    expiresAt,
			PasswordHash: passwordHash,
			MaxPlayers:   maxPlayers,
		}
		logCtx := logrus.WithFields(logrus.Fields{"room_id": room.ID, "slug": room.Slug})

		err := s.store.CreateRoom(ctx, room)
		if err == nil {
			logCtx.WithField("has_password", room.HasPassword()).Info("Room created successfully")
			public := room.Public()
			return &public, nil
		}
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.Warnf("Generated slug already exists, retrying (attempt %d)...", attempt)
			continue
		}
		logCtx.WithError(err).Error("Failed to save new room")
		return nil, mapRepoError(err)
	}
	logrus.Errorf("Failed to generate a unique slug after %d attempts", createRoomAttempts)
	return nil, fmt.Errorf("%w: slug space exhausted after %d attempts", ErrInternalServer, createRoomAttempts)
}

// GetRoom 根据 slug 查询房间及其玩家列表。
func (s *RoomService) GetRoom(ctx context.Context, slug string) (*domain.Room, []domain.Player, error) {
	room, err := s.findActiveRoom(ctx, slug)
	if err != nil {
		return nil, nil, err
	}
	players, err := s.store.ListPlayers(ctx, room.ID)
	if err != nil {
		logrus.WithError(err).WithField("room_id", room.ID).Error("Failed to list players")
		return nil, nil, mapRepoError(err)
	}
	return room, players, nil
}

// AuthorizePlayer 确认令牌持有者仍是房间成员，返回房间。
func (s *RoomService) AuthorizePlayer(ctx context.Context, slug string, claims *PlayerClaims) (*domain.Room, error) {
	return findMemberRoom(ctx, s.store, slug, claims, s.now())
}

// JoinRoom 校验密码和容量后把参与者加入房间，并签发玩家令牌。
func (s *RoomService) JoinRoom(ctx context.Context, in JoinRoomInput) (*JoinRoomResult, error) {
	// 1. 校验输入
	if err := ValidateSlug(in.Slug); err != nil {
		return nil, err
	}
	name, err := normalizeDisplayName(in.DisplayName)
	if err != nil {
		return nil, err
	}
	logCtx := logrus.WithFields(logrus.Fields{"slug": in.Slug, "client_ip": in.ClientIP, "spectator": in.AsSpectator})

	// 2. 检查锁定状态 (IP 与房间两个维度)
	status, err := s.guard.Check(ctx, in.ClientIP, in.Slug)
	if err != nil {
		logCtx.WithError(err).Error("Failed to check login attempts")
		return nil, mapRepoError(err)
	}
	now := s.now()
	if !status.Allowed {
		logCtx.Warn("Join rejected: too many failed password attempts")
		return nil, &RateLimitError{ResetAt: status.ResetAt, RetryAfter: status.RetryAfter(now)}
	}

	// 3. 查找房间
	room, err := s.findActiveRoom(ctx, in.Slug)
	if err != nil {
		return nil, err
	}
	logCtx = logCtx.WithField("room_id", room.ID)

	// 4. 校验密码
	if room.HasPassword() {
		provided := ""
		if in.Password != nil {
			provided = *in.Password
		}
		if !s.creds.VerifyPassword(provided, *room.PasswordHash) {
			if err := s.guard.RecordFailure(ctx, in.ClientIP, in.Slug); err != nil {
				logCtx.WithError(err).Error("Failed to record login failure")
			}
			logCtx.Warn("Join rejected: wrong password")
			return nil, ErrWrongPassword
		}
	}

	// 5. 写入玩家，序号被并发抢占时重试
	player := domain.Player{
		RoomID:      room.ID,
		DisplayName: name,
		IsSpectator: in.AsSpectator,
	}
	for attempt := 1; ; attempt++ {
		player.ID = uuid.NewString()
		player.JoinedAt = s.now().UTC()
		err = s.store.AddPlayer(ctx, room, &player)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrSeatTaken) && attempt < joinSeatAttempts {
			logCtx.Debugf("Seat taken by concurrent join, retrying (attempt %d)", attempt)
			continue
		}
		if errors.Is(err, repository.ErrCapacityReached) {
			logCtx.Info("Join rejected: room is full")
			return nil, ErrRoomFull
		}
		logCtx.WithError(err).Error("Failed to add player")
		return nil, mapRepoError(err)
	}
	logCtx = logCtx.WithFields(logrus.Fields{"player_id": player.ID, "order_index": player.OrderIndex})

	// 6. 签发令牌并返回最新的玩家列表
	token, err := s.tokens.Issue(room.ID, player.ID, room.Slug)
	if err != nil {
		logCtx.WithError(err).Error("Failed to issue player token")
		return nil, ErrInternalServer
	}
	players, err := s.store.ListPlayers(ctx, room.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list players after join")
		return nil, mapRepoError(err)
	}
	logCtx.Info("Player joined room successfully")
	return &JoinRoomResult{Player: player, Players: players, Token: token}, nil
}

// LeaveRoom 删除令牌对应的玩家，其他玩家的 OrderIndex 不变。
func (s *RoomService) LeaveRoom(ctx context.Context, slug string, claims *PlayerClaims) error {
	if err := ValidateSlug(slug); err != nil {
		return err
	}
	if claims == nil || claims.Slug != slug {
		return ErrUnauthorized
	}
	logCtx := logrus.WithFields(logrus.Fields{"slug": slug, "room_id": claims.RoomID, "player_id": claims.PlayerID})
	if err := s.store.RemovePlayer(ctx, claims.RoomID, claims.PlayerID); err != nil {
		if errors.Is(err, repository.ErrPlayerNotFound) {
			// 已经离开，重复调用视为成功
			logCtx.Debug("Player already left")
			return nil
		}
		logCtx.WithError(err).Error("Failed to remove player")
		return mapRepoError(err)
	}
	logCtx.Info("Player left room")
	return nil
}

// DeleteRoom 显式删除房间 (级联删除玩家和游戏状态)，并通知订阅者。
func (s *RoomService) DeleteRoom(ctx context.Context, slug string) error {
	room, err := s.findActiveRoom(ctx, slug)
	if err != nil {
		return err
	}
	logCtx := logrus.WithFields(logrus.Fields{"slug": slug, "room_id": room.ID})
	if err := s.store.DeleteRoom(ctx, room.ID); err != nil && !errors.Is(err, repository.ErrRoomNotFound) {
		logCtx.WithError(err).Error("Failed to delete room")
		return mapRepoError(err)
	}
	publishRoomClosed(ctx, s.feed, room.ID, s.now())
	logCtx.Info("Room deleted")
	return nil
}

// findActiveRoom 校验 slug 并查找未过期的房间。过期房间在逻辑上已删除，按未找到处理。
func (s *RoomService) findActiveRoom(ctx context.Context, slug string) (*domain.Room, error) {
	return findActiveRoom(ctx, s.store, slug, s.now())
}

func findActiveRoom(ctx context.Context, store repository.RoomStore, slug string, now time.Time) (*domain.Room, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}
	room, err := store.FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logrus.WithError(err).WithField("slug", slug).Error("Failed to find room by slug")
		return nil, mapRepoError(err)
	}
	if room.IsExpired(now) {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// findMemberRoom 查找房间并确认令牌属于该房间、玩家仍在房间内。
// 已离开的玩家持有的令牌签名仍然有效，因此必须查一次玩家列表。
func findMemberRoom(ctx context.Context, store repository.RoomStore, slug string, claims *PlayerClaims, now time.Time) (*domain.Room, error) {
	room, err := findActiveRoom(ctx, store, slug, now)
	if err != nil {
		return nil, err
	}
	if claims == nil || claims.RoomID != room.ID || claims.Slug != room.Slug {
		return nil, ErrUnauthorized
	}
	players, err := store.ListPlayers(ctx, room.ID)
	if err != nil {
		logrus.WithError(err).WithField("room_id", room.ID).Error("Failed to list players for membership check")
		return nil, mapRepoError(err)
	}
	for _, p := range players {
		if p.ID == claims.PlayerID {
			return room, nil
		}
	}
	logrus.WithFields(logrus.Fields{"room_id": room.ID, "player_id": claims.PlayerID}).Warn("Token holder is no longer in the room")
	return nil, ErrUnauthorized
}

func publishRoomClosed(ctx context.Context, feed repository.ChangeFeed, roomID string, now time.Time) {
	event := domain.RoomEvent{Type: domain.EventRoomClosed, RoomID: roomID, UpdatedAt: now.UTC()}
	if err := feed.Publish(ctx, event); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("Failed to publish room_closed event")
	}
}

// normalizeDisplayName 去除首尾空白并校验长度和字符。
func normalizeDisplayName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(name)
	if n == 0 || n > maxDisplayNameLen {
		return "", &ValidationError{Field: "displayName", Reason: fmt.Sprintf("must be 1 to %d characters", maxDisplayNameLen)}
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", &ValidationError{Field: "displayName", Reason: "contains control characters"}
		}
	}
	return name, nil
}
