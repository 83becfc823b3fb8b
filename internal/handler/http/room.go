package http

import (
	"errors"
	"io"
	"net/http"

	"party-rooms/internal/dto"
	"party-rooms/internal/middleware"
	"party-rooms/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RoomHandler 封装了与房间管理相关的 HTTP 处理逻辑
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	if roomService == nil {
		panic("RoomService cannot be nil for RoomHandler")
	}
	return &RoomHandler{roomService: roomService}
}

// CreateRoom 处理创建新房间的请求，请求体可以为空
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req dto.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		ErrorResponse(c, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), service.CreateRoomInput{
		Password:   req.Password,
		TTLSeconds: req.TTLSeconds,
		MaxPlayers: req.MaxPlayers,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, dto.CreateRoomResponse{
		Slug:        room.Slug,
		HasPassword: room.HasPassword,
		ExpiresAt:   room.ExpiresAt,
		MaxPlayers:  room.MaxPlayers,
	})
}

// GetRoom 根据 slug 返回房间和玩家列表
func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, players, err := h.roomService.GetRoom(c.Request.Context(), c.Param("slug"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, dto.RoomResponse{Room: room.Public(), Players: players})
}

// JoinRoom 处理加入房间的请求
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	slug := c.Param("slug")
	// slug 先于请求体校验，格式错误的 slug 统一返回 INVALID_SLUG
	if err := service.ValidateSlug(slug); err != nil {
		HandleServiceError(c, err)
		return
	}
	var req dto.JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, CodeValidationFailed, "displayName is required")
		return
	}

	result, err := h.roomService.JoinRoom(c.Request.Context(), service.JoinRoomInput{
		Slug:        slug,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		AsSpectator: req.AsSpectator,
		ClientIP:    c.ClientIP(),
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, dto.JoinRoomResponse{
		Player:  result.Player,
		Players: result.Players,
		Token:   result.Token,
	})
}

// LeaveRoom 删除令牌对应的玩家，需要 PlayerToken 中间件
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	claims, ok := middleware.PlayerClaimsFrom(c)
	if !ok {
		logrus.Warn("Handler.LeaveRoom: player claims not found in context, middleware missing?")
		HandleServiceError(c, service.ErrUnauthorized)
		return
	}
	if err := h.roomService.LeaveRoom(c.Request.Context(), c.Param("slug"), claims); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
