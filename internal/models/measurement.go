package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BodyMeasurement is a dated snapshot of a student's metrics.
type BodyMeasurement struct {
	ID                 uint                `gorm:"primaryKey" json:"id"`
	StudentID          uint                `gorm:"index;not null" json:"student_id"`
	Date               time.Time           `gorm:"type:date;index;not null" json:"date"`
	Weight             decimal.NullDecimal `gorm:"type:decimal(6,2)" json:"weight"`
	MuscleRatio        decimal.NullDecimal `gorm:"type:decimal(5,2)" json:"muscle_ratio"`
	FatRatio           decimal.NullDecimal `gorm:"type:decimal(5,2)" json:"fat_ratio"`
	CircumferenceWaist decimal.NullDecimal `gorm:"type:decimal(6,2)" json:"circumference_waist"`
	CircumferenceHip   decimal.NullDecimal `gorm:"type:decimal(6,2)" json:"circumference_hip"`

	Student *Student `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
