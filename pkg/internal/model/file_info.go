// Package model 定义持久化实体.
package model

import (
	"time"

	"github.com/yeisme/panvault/pkg/internal/types"
)

// FileInfo 文件记录. 多条记录可以通过相同的 FilePath + FileMD5 共享同一份物理内容.
type FileInfo struct {
	FileID         string             `gorm:"primaryKey;size:32"                     json:"fileId"`
	UserID         string             `gorm:"primaryKey;size:64;index:idx_user_pid"   json:"userId"`
	FilePid        string             `gorm:"size:32;index:idx_user_pid;default:0"   json:"filePid"`
	FileMD5        string             `gorm:"column:file_md5;size:64;index"          json:"fileMd5"`
	FileSize       int64              `gorm:"not null;default:0"                     json:"fileSize"`
	FileName       string             `gorm:"size:255;not null"                      json:"fileName"`
	FilePath       string             `gorm:"size:512"                               json:"-"`
	FileCategory   types.FileCategory `gorm:"default:5"                              json:"fileCategory"`
	FileType       types.FileType     `gorm:"default:10"                             json:"fileType"`
	Status         types.FileStatus   `gorm:"index;not null;default:0"               json:"status"`
	DelFlag        types.DelFlag      `gorm:"index;not null;default:2"               json:"delFlag"`
	RecoveryTime   *time.Time         `gorm:"index"                                  json:"recoveryTime,omitempty"`
	CreateTime     time.Time          `gorm:"autoCreateTime"                         json:"createTime"`
	LastUpdateTime time.Time          `gorm:"autoUpdateTime"                         json:"lastUpdateTime"`
}

// TableName 表名.
func (FileInfo) TableName() string { return "file_info" }

// Counted 是否计入用户已用空间.
func (f *FileInfo) Counted() bool {
	return f.DelFlag != types.DelFlagPurged && f.Status != types.FileStatusTransferFailed
}
