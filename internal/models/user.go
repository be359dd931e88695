package models

import "time"

// User is a trainer account.
type User struct {
	ID                  uint      `gorm:"primaryKey"`
	Username            string    `gorm:"size:64;uniqueIndex;not null"`
	PasswordHash        string    `gorm:"size:255;not null"`
	FirstName           string    `gorm:"size:64"`
	LastName            string    `gorm:"size:64"`
	Email               string    `gorm:"size:255;uniqueIndex;not null"`
	ReceiveDailyBackup  bool      `gorm:"not null;default:false"`
	ReceiveWeeklyBackup bool      `gorm:"not null;default:false"`
	IsAdmin             bool      `gorm:"not null;default:false"`
	CreatedAt           time.Time
	UpdatedAt           time.Time

	FailedLoginAttempts int        `gorm:"default:0"`
	LockedUntil         *time.Time `gorm:"index"`
	LastLoginAt         *time.Time
	LastLoginIP         string `gorm:"size:64"`
}

// DisplayName joins first and last name, falling back to the username.
func (u *User) DisplayName() string {
	name := joinName(u.FirstName, u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}
