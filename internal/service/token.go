package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// PlayerClaims 是加入房间后签发的玩家令牌内容。
type PlayerClaims struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
	Slug     string `json:"slug"`
	jwt.RegisteredClaims
}

// TokenIssuer 负责签发和校验玩家令牌 (HS256)。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer 创建 TokenIssuer。secret 不能为空。
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret cannot be empty")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue 为玩家签发令牌。
func (t *TokenIssuer) Issue(roomID, playerID, slug string) (string, error) {
	now := t.now()
	claims := PlayerClaims{
		RoomID:   roomID,
		PlayerID: playerID,
		Slug:     slug,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse 校验令牌签名与有效期，返回其中的玩家信息。
func (t *TokenIssuer) Parse(tokenStr string) (*PlayerClaims, error) {
	claims := &PlayerClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		// 只接受 HMAC 签名
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid || claims.RoomID == "" || claims.PlayerID == "" {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, errors.New("invalid token claims"))
	}
	return claims, nil
}
