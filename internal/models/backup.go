package models

import "time"

// Backup points at an encrypted snapshot file on disk.
type Backup struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index;not null"`
	FileName  string `gorm:"size:255;not null"`
	FilePath  string `gorm:"size:1024;not null"`
	Size      int64
	Students  int
	Logs      int
	CreatedAt time.Time
}
