package queue

import "time"

// EventHeader 定义所有事件的通用头部元数据.
type EventHeader struct {
	// Topic 冗余记录消息主题，便于离线处理或转储后定位来源主题.
	Topic string `json:"topic"`
	// TraceID 分布式追踪/关联 ID.
	TraceID string `json:"trace_id,omitempty"`
	// Producer 生产者服务名或节点标识.
	Producer string `json:"producer,omitempty"`
	// OccurredAt 事件发生时间（UTC）.
	OccurredAt time.Time `json:"occurred_at"`
	// Version 事件负载版本.
	Version string `json:"version,omitempty"`
}

// Message 是统一的消息封装，Header + Payload.
type Message[T any] struct {
	Header  EventHeader `json:"header"`
	Payload T           `json:"payload"`
}

// -------------------------- 上传合并领域 --------------------------

// FinalizeRequestedPayload 请求把暂存分片合并为最终对象.
type FinalizeRequestedPayload struct {
	UserID       string `json:"user_id"`
	FileID       string `json:"file_id"`
	FileName     string `json:"file_name"`
	ParentID     string `json:"parent_id"`
	ContentHash  string `json:"content_hash"`
	Size         int64  `json:"size"`
	Chunks       int    `json:"chunks"`
	StagingDir   string `json:"staging_dir"`
	PhysicalPath string `json:"physical_path"`
}

// FinalizeResultPayload 合并结果（成功与失败共用）.
type FinalizeResultPayload struct {
	UserID       string `json:"user_id"`
	FileID       string `json:"file_id"`
	PhysicalPath string `json:"physical_path,omitempty"`
	Size         int64  `json:"size,omitempty"`
	Skipped      bool   `json:"skipped,omitempty"` // 目标对象已存在，未重复写入
	Error        string `json:"error,omitempty"`
}

// -------------------------- 文件生命周期领域 --------------------------

// FileLifecyclePayload 一批文件的生命周期变更.
type FileLifecyclePayload struct {
	UserID  string   `json:"user_id"`
	FileIDs []string `json:"file_ids"`
	// Bytes 本次操作释放的字节数，仅 purged 有值.
	Bytes int64 `json:"bytes,omitempty"`
	// Reason 触发来源：user / sweep.
	Reason string `json:"reason,omitempty"`
}
