package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// Timeout 为请求的 context 设置截止时间，存储和变更流调用超时后返回错误而不是一直挂起。
// 处理函数把截止时间触发的存储错误映射为 STORE_UNAVAILABLE。
func Timeout(d time.Duration) gin.HandlerFunc {
	if d <= 0 {
		panic("timeout must be positive for Timeout middleware")
	}
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
