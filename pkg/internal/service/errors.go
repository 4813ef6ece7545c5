package service

import "errors"

// 业务错误，handle 层据此映射 HTTP 状态码.
var (
	// ErrQuotaExceeded 空间不足，包括秒传命中但剩余空间不够.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrDuplicateName 重命名多次仍然冲突.
	ErrDuplicateName = errors.New("duplicate file name")
	// ErrStagingIO 分片暂存读写失败，会话已被清理.
	ErrStagingIO = errors.New("staging io failed")
	// ErrTransferFailed 合并任务无法投递，文件已标记为失败.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrInconsistentPurge 实际影响行数与请求不一致，事务已回滚.
	ErrInconsistentPurge = errors.New("inconsistent batch update")
	// ErrUserRequired 缺少用户身份.
	ErrUserRequired = errors.New("user required")
	// ErrInvalidRequest 参数不合法.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound 文件不存在.
	ErrNotFound = errors.New("file not found")
)
