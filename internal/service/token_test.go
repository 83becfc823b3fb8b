package service_test

import (
	"errors"
	"testing"
	"time"

	"party-rooms/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_IssueAndParse(t *testing.T) {
	issuer, err := service.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue("room-1", "player-1", "abc123")
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "room-1", claims.RoomID)
	assert.Equal(t, "player-1", claims.PlayerID)
	assert.Equal(t, "abc123", claims.Slug)
}

func TestTokenIssuer_RejectsForeignAndTamperedTokens(t *testing.T) {
	issuer, _ := service.NewTokenIssuer("test-secret", time.Hour)
	other, _ := service.NewTokenIssuer("other-secret", time.Hour)
	token, err := other.Issue("room-1", "player-1", "abc123")
	require.NoError(t, err)

	_, err = issuer.Parse(token)
	assert.True(t, errors.Is(err, service.ErrUnauthorized), "其他密钥签发的令牌应被拒绝")

	_, err = issuer.Parse(token + "x")
	assert.True(t, errors.Is(err, service.ErrUnauthorized))

	_, err = issuer.Parse("not-a-jwt")
	assert.True(t, errors.Is(err, service.ErrUnauthorized))
}

func TestTokenIssuer_RejectsExpiredToken(t *testing.T) {
	issuer, _ := service.NewTokenIssuer("test-secret", time.Nanosecond)
	token, err := issuer.Issue("room-1", "player-1", "abc123")
	require.NoError(t, err)

	_, err = issuer.Parse(token)
	assert.True(t, errors.Is(err, service.ErrUnauthorized))
}

func TestNewTokenIssuer_EmptySecret(t *testing.T) {
	_, err := service.NewTokenIssuer("", time.Hour)
	assert.Error(t, err)
}
