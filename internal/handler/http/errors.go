package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"party-rooms/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 稳定的机器可读错误码
const (
	CodeInvalidSlug      = "INVALID_SLUG"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeWrongPassword    = "WRONG_PASSWORD"
	CodeRoomNotFound     = "ROOM_NOT_FOUND"
	CodeRoomFull         = "ROOM_FULL"
	CodeRateLimited      = "RATE_LIMITED"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeInternal         = "INTERNAL"
)

// HandleServiceError 把服务层错误映射为 HTTP 状态码和错误码
func HandleServiceError(c *gin.Context, err error) {
	var rateErr *service.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		secs := int(math.Ceil(rateErr.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		ErrorResponse(c, http.StatusTooManyRequests, CodeRateLimited, rateErr.Error())
	case errors.Is(err, service.ErrInvalidSlug):
		ErrorResponse(c, http.StatusBadRequest, CodeInvalidSlug, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		ErrorResponse(c, http.StatusBadRequest, CodeValidationFailed, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		ErrorResponse(c, http.StatusUnauthorized, CodeUnauthorized, "invalid or expired credentials")
	case errors.Is(err, service.ErrWrongPassword):
		ErrorResponse(c, http.StatusForbidden, CodeWrongPassword, err.Error())
	case errors.Is(err, service.ErrRoomNotFound):
		ErrorResponse(c, http.StatusNotFound, CodeRoomNotFound, err.Error())
	case errors.Is(err, service.ErrRoomFull):
		ErrorResponse(c, http.StatusConflict, CodeRoomFull, err.Error())
	case errors.Is(err, service.ErrStoreUnavailable):
		// 详细原因只写日志，不返回给客户端
		logrus.WithError(err).Warn("Store unavailable while handling request")
		ErrorResponse(c, http.StatusServiceUnavailable, CodeStoreUnavailable, "room store unavailable, retry later")
	default:
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred")
	}
}
