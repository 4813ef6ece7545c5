// Package handle 提供 HTTP 请求处理器的实现.
package handle

import (
	"github.com/yeisme/panvault/pkg/internal/service"
)

// Handler 业务处理器，依赖由应用层注入.
type Handler struct {
	uploads   *service.UploadManager
	ledger    *service.QuotaLedger
	lifecycle *service.LifecycleService
}

// New 创建处理器.
func New(uploads *service.UploadManager, ledger *service.QuotaLedger, lifecycle *service.LifecycleService) *Handler {
	return &Handler{uploads: uploads, ledger: ledger, lifecycle: lifecycle}
}
