package types

import "time"

// FileIDsRequest 批量文件操作请求.
type FileIDsRequest struct {
	FileIDs []string `json:"fileIds" rule:"required,min=1,max=1000,dive,required,max=32"`
}

// AffectedResponse 批量操作影响的记录数.
type AffectedResponse struct {
	Affected int64 `json:"affected"`
}

// RecycledItem 回收站列表项.
type RecycledItem struct {
	FileID       string       `json:"fileId"`
	FilePid      string       `json:"filePid"`
	FileName     string       `json:"fileName"`
	FileSize     int64        `json:"fileSize"`
	FileCategory FileCategory `json:"fileCategory"`
	RecoveryTime time.Time    `json:"recoveryTime"`
}

// RecycledListResponse 回收站列表.
type RecycledListResponse struct {
	Items []RecycledItem `json:"items"`
	Total int            `json:"total"`
}
