package models

import "time"

// Lesson log kinds.
const (
	LogDeduct = "deduct"
	LogAdd    = "add"
)

// LessonLog is one balance-affecting event. Count is always positive; Type
// carries the sign.
type LessonLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	StudentID uint      `gorm:"index:idx_lesson_logs_student_type_date,priority:1;not null" json:"student_id"`
	Type      string    `gorm:"size:16;index:idx_lesson_logs_student_type_date,priority:2;not null" json:"type"`
	Date      time.Time `gorm:"index:idx_lesson_logs_student_type_date,priority:3;index;not null" json:"date"`
	Count     int       `gorm:"not null;default:1" json:"count"`

	Student *Student `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Signed returns the entry's effect on the balance.
func (l *LessonLog) Signed() int {
	if l.Type == LogDeduct {
		return -l.Count
	}
	return l.Count
}
