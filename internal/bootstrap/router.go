package bootstrap

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	httpHandler "party-rooms/internal/handler/http"
	wsHandler "party-rooms/internal/handler/websocket"
	"party-rooms/internal/middleware"
	"party-rooms/internal/service"
)

// RouterDeps 汇总路由需要的处理器和中间件依赖
type RouterDeps struct {
	Config     *Config
	Log        *logrus.Logger
	Tokens     *service.TokenIssuer
	APILimiter *service.RateLimiter
	Rooms      *httpHandler.RoomHandler
	GameStates *httpHandler.GameStateHandler
	Admin      *httpHandler.AdminHandler
	WebSocket  *wsHandler.WebSocketHandler
}

// NewRouter 创建 Gin Engine 并注册全部路由
func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(deps.Log))
	router.Use(corsMiddleware(cfg.CORSAllowedOrigin))

	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })

	// --- REST 接口：按 IP 限流，并给每个请求的存储调用设置截止时间 ---
	api := router.Group("/api")
	api.Use(middleware.RateLimit(deps.APILimiter), middleware.Timeout(cfg.RequestTimeout))
	roomRoutes := api.Group("/rooms")
	{
		roomRoutes.POST("", deps.Rooms.CreateRoom)
		roomRoutes.GET("/:slug", deps.Rooms.GetRoom)
		roomRoutes.POST("/:slug/join", deps.Rooms.JoinRoom)
	}
	// 以下接口只对房间成员开放，令牌在加入房间时签发
	memberRoutes := roomRoutes.Group("/:slug")
	memberRoutes.Use(middleware.PlayerToken(deps.Tokens))
	{
		memberRoutes.DELETE("/players/me", deps.Rooms.LeaveRoom)
		memberRoutes.POST("/cheers", deps.GameStates.IncrementCheers)
		memberRoutes.GET("/games/:gameId/state", deps.GameStates.GetState)
		memberRoutes.PUT("/games/:gameId/state", deps.GameStates.PutState)
		memberRoutes.POST("/games/:gameId/state", deps.GameStates.PutState)
	}
	adminRoutes := api.Group("/admin")
	adminRoutes.Use(middleware.AdminSecret(cfg.AdminSecret, cfg.AdminDevFallback))
	{
		adminRoutes.DELETE("/rooms/:slug", deps.Admin.DeleteRoom)
		adminRoutes.POST("/sweep", deps.Admin.Sweep)
	}

	// --- WebSocket 是长连接，不套用请求超时 ---
	wsRoutes := router.Group("/ws")
	wsRoutes.Use(middleware.RateLimit(deps.APILimiter))
	{
		wsRoutes.GET("/rooms/:slug", deps.WebSocket.HandleConnection)
	}
	return router
}

func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-Admin-Secret")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Retry-After, X-RateLimit-Remaining")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志。
// 查询串里可能带有玩家令牌，所以只记录路径。
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next() // 处理请求
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
		})

		if errorMessage != "" {
			entry.Error(errorMessage)
			return
		}
		// 区分状态码记录日志级别
		switch {
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
