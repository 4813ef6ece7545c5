package model

import "time"

// UserSpace 用户空间计数，used_bytes 只能通过条件更新修改.
type UserSpace struct {
	UserID     string    `gorm:"primaryKey;size:64"`
	UsedBytes  int64     `gorm:"not null;default:0"`
	TotalBytes int64     `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName 表名.
func (UserSpace) TableName() string { return "user_space" }

// Models 返回需要自动迁移的模型.
func Models() []any {
	return []any{&FileInfo{}, &UserSpace{}}
}
