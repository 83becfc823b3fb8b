package http

import (
	"net/http"

	"party-rooms/internal/dto"
	"party-rooms/internal/middleware"
	"party-rooms/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GameStateHandler 处理小游戏状态的读写和欢呼计数，需要 PlayerToken 中间件
type GameStateHandler struct {
	states *service.GameStateService
}

// NewGameStateHandler 创建 GameStateHandler 实例
func NewGameStateHandler(states *service.GameStateService) *GameStateHandler {
	if states == nil {
		panic("GameStateService cannot be nil for GameStateHandler")
	}
	return &GameStateHandler{states: states}
}

// GetState 返回 (slug, gameId) 的当前状态
func (h *GameStateHandler) GetState(c *gin.Context) {
	claims, ok := playerClaims(c)
	if !ok {
		return
	}
	state, err := h.states.GetState(c.Request.Context(), c.Param("slug"), c.Param("gameId"), claims)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, dto.NewGameStateResponse(state))
}

// PutState 整体替换 (slug, gameId) 的状态
func (h *GameStateHandler) PutState(c *gin.Context) {
	slug := c.Param("slug")
	if err := service.ValidateSlug(slug); err != nil {
		HandleServiceError(c, err)
		return
	}
	claims, ok := playerClaims(c)
	if !ok {
		return
	}
	var req dto.PutGameStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, CodeValidationFailed, "payload is required")
		return
	}
	state, err := h.states.PutState(c.Request.Context(), slug, c.Param("gameId"), req.Payload, claims)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, dto.NewGameStateResponse(state))
}

// IncrementCheers 将房间的欢呼计数加一
func (h *GameStateHandler) IncrementCheers(c *gin.Context) {
	claims, ok := playerClaims(c)
	if !ok {
		return
	}
	cheers, state, err := h.states.IncrementCheers(c.Request.Context(), c.Param("slug"), claims)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, dto.CheersResponse{CheersCount: cheers.CheersCount, UpdatedAt: state.UpdatedAt})
}

// playerClaims 读取 PlayerToken 中间件写入的玩家信息，缺失时直接返回 401
func playerClaims(c *gin.Context) (*service.PlayerClaims, bool) {
	claims, ok := middleware.PlayerClaimsFrom(c)
	if !ok {
		logrus.WithField("path", c.FullPath()).Warn("Handler: player claims not found in context, middleware missing?")
		HandleServiceError(c, service.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}
