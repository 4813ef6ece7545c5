package types

import "mime/multipart"

// UploadStatus 分片上传接口返回的状态.
type UploadStatus string

const (
	UploadStatusUploading UploadStatus = "uploading"      // 还需要更多分片
	UploadStatusInstant   UploadStatus = "upload_seconds" // 秒传完成
	UploadStatusFinished  UploadStatus = "upload_finish"  // 分片齐全，已交给合并
)

// UploadChunkForm 分片上传表单（multipart/form-data）.
type UploadChunkForm struct {
	File       *multipart.FileHeader `form:"file"       rule:"required"`
	FileID     string                `form:"fileId"     rule:"omitempty,max=32,alphanum"`
	ChunkIndex int                   `form:"chunkIndex" rule:"min=0"`
	Chunks     int                   `form:"chunks"     rule:"required,min=1,gtfield=ChunkIndex"`
	FileMD5    string                `form:"fileMd5"    rule:"required,max=64"`
	FileName   string                `form:"fileName"   rule:"required,filename"`
	FilePid    string                `form:"filePid"    rule:"omitempty,max=32"`
	FileSize   int64                 `form:"fileSize"   rule:"min=0"`
}

// UploadResponse 分片上传结果.
type UploadResponse struct {
	FileID string       `json:"fileId"`
	Status UploadStatus `json:"status"`
}

// SpaceResponse 用户空间使用情况.
type SpaceResponse struct {
	UsedBytes  int64 `json:"usedBytes"`
	TotalBytes int64 `json:"totalBytes"`
}

// ErrorResponse 统一错误响应.
type ErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}
