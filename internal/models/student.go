package models

import (
	"strings"
	"time"
)

// Student is a client on the roster. PackageRemaining is a cached fold over
// the student's LessonLog rows and may go negative.
type Student struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	FirstName        string     `gorm:"size:64;not null;index" json:"first_name"`
	LastName         string     `gorm:"size:64;not null" json:"last_name"`
	BirthDate        *time.Time `gorm:"type:date" json:"birth_date"`
	PackageTotal     int        `gorm:"not null;default:0" json:"package_total"`
	PackageRemaining int        `gorm:"not null;default:0;index" json:"package_remaining"`
	IsActive         bool       `gorm:"not null;default:true;index" json:"is_active"`
	Note             *string    `gorm:"type:text" json:"note"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (s *Student) FullName() string {
	return joinName(s.FirstName, s.LastName)
}

func joinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
