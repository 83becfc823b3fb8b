package middleware

import (
	"errors"
	"net/http"
	"strings"

	"party-rooms/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	playerClaimsKey   = "player_claims"
	adminSecretHeader = "X-Admin-Secret"
)

// ErrMissingAuthHeader 表示缺少 Authorization 头
var ErrMissingAuthHeader = errors.New("missing Authorization header")

// PlayerToken 返回一个校验玩家令牌的中间件，令牌来自加入房间时的响应。
// 令牌中的 slug 必须与路由参数一致。
func PlayerToken(tokens *service.TokenIssuer) gin.HandlerFunc {
	if tokens == nil {
		panic("TokenIssuer cannot be nil for PlayerToken middleware")
	}

	return func(c *gin.Context) {
		// 1. 从请求头提取 Token
		tokenStr, err := extractToken(c)
		if err != nil {
			logrus.WithError(err).Debug("PlayerToken middleware: no usable bearer token")
			abortUnauthorized(c)
			return
		}

		// 2. 验证签名和有效期
		claims, err := tokens.Parse(tokenStr)
		if err != nil {
			logrus.WithError(err).Warn("PlayerToken middleware: Invalid token")
			abortUnauthorized(c)
			return
		}

		// 3. 令牌只对签发它的房间有效
		if slug := c.Param("slug"); slug != "" && slug != claims.Slug {
			logrus.WithFields(logrus.Fields{"slug": slug, "player_id": claims.PlayerID}).Warn("PlayerToken middleware: token issued for another room")
			abortUnauthorized(c)
			return
		}

		c.Set(playerClaimsKey, claims)
		logrus.WithField("player_id", claims.PlayerID).Debug("PlayerToken middleware: player authenticated")
		c.Next()
	}
}

// PlayerClaimsFrom 返回 PlayerToken 中间件写入的玩家信息
func PlayerClaimsFrom(c *gin.Context) (*service.PlayerClaims, bool) {
	v, ok := c.Get(playerClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*service.PlayerClaims)
	return claims, ok
}

// AdminSecret 返回一个校验 X-Admin-Secret 请求头的中间件。
// secret 为空时由 devFallback 决定是否放行，生产配置中 devFallback 必须为 false。
func AdminSecret(secret string, devFallback bool) gin.HandlerFunc {
	if secret == "" && devFallback {
		logrus.Warn("AdminSecret middleware: no admin secret configured, privileged routes are open (development fallback)")
	}

	return func(c *gin.Context) {
		if !service.VerifySecret(c.GetHeader(adminSecretHeader), secret, devFallback) {
			logrus.WithField("client_ip", c.ClientIP()).Warn("AdminSecret middleware: rejected privileged request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin secret", "code": "UNAUTHORIZED"})
			return
		}
		c.Next()
	}
}

// extractToken 从 Authorization 头中提取 Bearer Token
func extractToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.New("malformed Authorization header")
	}
	return parts[1], nil
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired player token", "code": "UNAUTHORIZED"})
}
