package http

import (
	"party-rooms/internal/dto"

	"github.com/gin-gonic/gin"
)

func ErrorResponse(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, dto.ErrorBody{Error: message, Code: code})
}

func SuccessResponse(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
