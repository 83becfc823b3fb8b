package http

import (
	"net/http"

	"party-rooms/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminHandler 处理需要管理员密钥的接口
type AdminHandler struct {
	roomService *service.RoomService
	reaper      *service.ExpiryReaper
}

// NewAdminHandler 创建 AdminHandler 实例
func NewAdminHandler(roomService *service.RoomService, reaper *service.ExpiryReaper) *AdminHandler {
	if roomService == nil || reaper == nil {
		panic("RoomService and ExpiryReaper cannot be nil for AdminHandler")
	}
	return &AdminHandler{roomService: roomService, reaper: reaper}
}

// DeleteRoom 显式删除房间
func (h *AdminHandler) DeleteRoom(c *gin.Context) {
	slug := c.Param("slug")
	if err := h.roomService.DeleteRoom(c.Request.Context(), slug); err != nil {
		HandleServiceError(c, err)
		return
	}
	logrus.WithFields(logrus.Fields{"slug": slug, "client_ip": c.ClientIP()}).Info("Handler.DeleteRoom: room deleted by admin")
	c.Status(http.StatusNoContent)
}

// Sweep 立即执行一次过期清理
func (h *AdminHandler) Sweep(c *gin.Context) {
	result, err := h.reaper.Sweep(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, result)
}
