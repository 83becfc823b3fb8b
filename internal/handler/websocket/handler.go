package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"party-rooms/internal/hub"
	"party-rooms/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler 负责校验实时连接请求、升级连接并把客户端注册到 Hub
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	hub         *hub.Hub
	roomService *service.RoomService
	tokens      *service.TokenIssuer
	opTimeout   time.Duration // 升级前存储调用的超时
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。allowedOrigin 为空时不校验 Origin。
func NewWebSocketHandler(h *hub.Hub, roomService *service.RoomService, tokens *service.TokenIssuer, allowedOrigin string, opTimeout time.Duration) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if roomService == nil {
		panic("RoomService cannot be nil for WebSocketHandler")
	}
	if tokens == nil {
		panic("TokenIssuer cannot be nil for WebSocketHandler")
	}
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "" || origin == "" || origin == allowedOrigin
		},
	}

	return &WebSocketHandler{
		upgrader:    upgrader,
		hub:         h,
		roomService: roomService,
		tokens:      tokens,
		opTimeout:   opTimeout,
	}
}

// HandleConnection 处理实时连接请求
// URL 格式: /ws/rooms/:slug?gameId=<id>&token=<player token>
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	slug := c.Param("slug")
	gameID := c.Query("gameId")
	logCtx := logrus.WithFields(logrus.Fields{"slug": slug, "game_id": gameID, "client_ip": c.ClientIP()})

	// 1. 校验参数 (在任何 I/O 之前)
	if err := service.ValidateSlug(slug); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_SLUG"})
		return
	}
	if err := service.ValidateGameID(gameID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_FAILED"})
		return
	}

	// 2. 校验玩家令牌，令牌必须属于该房间
	claims, err := h.tokens.Parse(c.Query("token"))
	if err != nil || claims.Slug != slug {
		logCtx.Warn("WS Handler: Invalid or mismatched player token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired player token", "code": "UNAUTHORIZED"})
		return
	}
	logCtx = logCtx.WithField("player_id", claims.PlayerID)

	// 3. 确认房间仍然存在且玩家没有离开，存储调用受请求超时约束
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opTimeout)
	room, err := h.roomService.AuthorizePlayer(ctx, slug, claims)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found", "code": "ROOM_NOT_FOUND"})
		case errors.Is(err, service.ErrUnauthorized):
			logCtx.Warn("WS Handler: Token holder is not a member of the room")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired player token", "code": "UNAUTHORIZED"})
		default:
			logCtx.WithError(err).Error("WS Handler: Error checking room membership")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to validate room", "code": "STORE_UNAVAILABLE"})
		}
		return
	}

	// 4. 升级连接
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了 HTTP 错误响应
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	// 5. 注册到 Hub 并启动读写 goroutine
	client := hub.NewClient(h.hub, conn, room.ID, claims.PlayerID, gameID)
	if !h.hub.QueueMessage(hub.HubMessage{Type: hub.MessageRegister, Client: client}) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		return
	}
	client.Run()
	logCtx.WithField("client_id", client.ID()).Info("WS Handler: Client connected")
}
