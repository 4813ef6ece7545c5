// Package types 定义枚举与接口层的请求/响应结构.
package types

import (
	"path/filepath"
	"strings"
)

// FileStatus 文件转码/合并状态.
type FileStatus int8

const (
	FileStatusTransferring   FileStatus = 0 // 分片齐全，等待合并
	FileStatusTransferFailed FileStatus = 1 // 合并失败，配额已释放
	FileStatusReady          FileStatus = 2 // 可用，可作为秒传来源
)

func (s FileStatus) String() string {
	switch s {
	case FileStatusTransferring:
		return "transferring"
	case FileStatusTransferFailed:
		return "transfer_failed"
	case FileStatusReady:
		return "ready"
	default:
		return "unknown"
	}
}

// DelFlag 删除标记.
type DelFlag int8

const (
	DelFlagPurged   DelFlag = 0 // 彻底删除，不计入空间
	DelFlagRecycled DelFlag = 1 // 回收站中，仍计入空间
	DelFlagActive   DelFlag = 2 // 正常
)

func (d DelFlag) String() string {
	switch d {
	case DelFlagPurged:
		return "purged"
	case DelFlagRecycled:
		return "recycled"
	case DelFlagActive:
		return "active"
	default:
		return "unknown"
	}
}

// FileCategory 文件大类，用于分类浏览.
type FileCategory int8

const (
	CategoryVideo  FileCategory = 1
	CategoryMusic  FileCategory = 2
	CategoryImage  FileCategory = 3
	CategoryDoc    FileCategory = 4
	CategoryOthers FileCategory = 5
)

// FileType 细分文件类型.
type FileType int8

const (
	FileTypeVideo  FileType = 1
	FileTypeMusic  FileType = 2
	FileTypeImage  FileType = 3
	FileTypePDF    FileType = 4
	FileTypeWord   FileType = 5
	FileTypeExcel  FileType = 6
	FileTypeText   FileType = 7
	FileTypeCode   FileType = 8
	FileTypeZip    FileType = 9
	FileTypeOthers FileType = 10
)

var extTypes = map[string]FileType{}

func register(t FileType, exts ...string) {
	for _, ext := range exts {
		extTypes[ext] = t
	}
}

func init() {
	register(FileTypeVideo, ".mp4", ".avi", ".rmvb", ".mkv", ".mov", ".flv", ".wmv", ".webm")
	register(FileTypeMusic, ".mp3", ".wav", ".wma", ".flac", ".aac", ".ogg", ".m4a", ".midi")
	register(FileTypeImage, ".jpeg", ".jpg", ".png", ".gif", ".bmp", ".webp", ".svg", ".tif", ".tiff")
	register(FileTypePDF, ".pdf")
	register(FileTypeWord, ".doc", ".docx")
	register(FileTypeExcel, ".xls", ".xlsx", ".csv")
	register(FileTypeText, ".txt", ".md", ".log")
	register(FileTypeCode, ".go", ".java", ".py", ".js", ".ts", ".c", ".h", ".cpp", ".rs", ".sql",
		".html", ".css", ".json", ".xml", ".yaml", ".yml", ".sh")
	register(FileTypeZip, ".zip", ".rar", ".7z", ".tar", ".gz", ".tgz", ".bz2", ".xz")
}

// Category 文件类型所属大类.
func (t FileType) Category() FileCategory {
	switch t {
	case FileTypeVideo:
		return CategoryVideo
	case FileTypeMusic:
		return CategoryMusic
	case FileTypeImage:
		return CategoryImage
	case FileTypePDF, FileTypeWord, FileTypeExcel, FileTypeText:
		return CategoryDoc
	default:
		return CategoryOthers
	}
}

// DetectFileType 按扩展名（大小写不敏感）推断文件类型.
func DetectFileType(name string) FileType {
	if t, ok := extTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}

	return FileTypeOthers
}
