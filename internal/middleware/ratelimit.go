package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"party-rooms/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RateLimit 返回一个按客户端 IP 限流的中间件。
// 计数存储由 limiter 决定 (单实例用内存，多实例用 Redis)。
func RateLimit(limiter *service.RateLimiter) gin.HandlerFunc {
	if limiter == nil {
		panic("RateLimiter cannot be nil for RateLimit middleware")
	}

	return func(c *gin.Context) {
		// 注意：如果服务在反向代理后面，需要配置 gin 的 TrustedProxies 才能拿到真实 IP
		ip := c.ClientIP()

		status, err := limiter.Allow(c.Request.Context(), ip)
		if err != nil {
			logrus.WithError(err).WithField("client_ip", ip).Error("RateLimit: counter store failed")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "rate limiting unavailable", "code": "STORE_UNAVAILABLE"})
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(status.Remaining))
		if !status.Allowed {
			retry := int(math.Ceil(status.RetryAfter(time.Now()).Seconds()))
			c.Header("Retry-After", strconv.Itoa(retry))
			logrus.WithField("client_ip", ip).Warn("RateLimit: too many requests")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests", "code": "RATE_LIMITED"})
			return
		}

		c.Next()
	}
}
