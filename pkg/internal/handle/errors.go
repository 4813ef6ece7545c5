package handle

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	ctxPkg "github.com/yeisme/panvault/pkg/context"
	"github.com/yeisme/panvault/pkg/internal/service"
	"github.com/yeisme/panvault/pkg/internal/types"
	"github.com/yeisme/panvault/pkg/rule"
)

// statusOf 业务错误到 HTTP 状态与错误码的唯一映射.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUserRequired):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, service.ErrQuotaExceeded):
		return http.StatusRequestEntityTooLarge, "quota_exceeded"
	case errors.Is(err, service.ErrDuplicateName):
		return http.StatusConflict, "duplicate_name"
	case errors.Is(err, service.ErrInconsistentPurge):
		return http.StatusConflict, "inconsistent_state"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrTransferFailed):
		return http.StatusBadGateway, "transfer_failed"
	case errors.Is(err, service.ErrStagingIO):
		return http.StatusInternalServerError, "staging_io"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError 写出统一错误体，5xx 记录日志.
func writeError(c *gin.Context, err error) {
	status, code := statusOf(err)

	if status >= http.StatusInternalServerError {
		l := ctxPkg.LoggerFrom(c.Request.Context())
		l.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		_ = c.Error(err)
	}

	c.AbortWithStatusJSON(status, types.ErrorResponse{Code: code, Message: err.Error(), Fields: rule.Errors(err)})
}

// badRequest 请求绑定或校验失败.
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, types.ErrorResponse{
		Code: "invalid_request", Message: err.Error(), Fields: rule.Errors(err),
	})
}
