package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ltvesari/pt-tracker/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MeasurementInput is one body snapshot. A nil Date means today.
type MeasurementInput struct {
	StudentID          uint
	Date               *time.Time
	Weight             decimal.NullDecimal
	MuscleRatio        decimal.NullDecimal
	FatRatio           decimal.NullDecimal
	CircumferenceWaist decimal.NullDecimal
	CircumferenceHip   decimal.NullDecimal
}

func (in MeasurementInput) validate() error {
	for name, v := range map[string]decimal.NullDecimal{
		"weight":              in.Weight,
		"muscle_ratio":        in.MuscleRatio,
		"fat_ratio":           in.FatRatio,
		"circumference_waist": in.CircumferenceWaist,
		"circumference_hip":   in.CircumferenceHip,
	} {
		if v.Valid && v.Decimal.IsNegative() {
			return fmt.Errorf("%s must not be negative: %w", name, ErrInvalidArgument)
		}
	}
	for name, v := range map[string]decimal.NullDecimal{
		"muscle_ratio": in.MuscleRatio,
		"fat_ratio":    in.FatRatio,
	} {
		if v.Valid && v.Decimal.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%s is a percentage: %w", name, ErrInvalidArgument)
		}
	}
	return nil
}

// Today is the current UTC calendar date at midnight.
func (s *Service) Today() time.Time {
	return s.now().Truncate(24 * time.Hour)
}

// AddMeasurement stores a snapshot for an existing student. Dates after
// today are rejected.
func (s *Service) AddMeasurement(ctx context.Context, in MeasurementInput) (*models.BodyMeasurement, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	today := s.Today()
	date := today
	if in.Date != nil {
		date = in.Date.UTC().Truncate(24 * time.Hour)
	}
	if date.After(today) {
		return nil, fmt.Errorf("measurement date %s is in the future: %w", date.Format("2006-01-02"), ErrInvalidArgument)
	}

	m := models.BodyMeasurement{
		StudentID:          in.StudentID,
		Date:               date,
		Weight:             in.Weight,
		MuscleRatio:        in.MuscleRatio,
		FatRatio:           in.FatRatio,
		CircumferenceWaist: in.CircumferenceWaist,
		CircumferenceHip:   in.CircumferenceHip,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureStudent(tx, in.StudentID); err != nil {
			return err
		}
		if err := tx.Create(&m).Error; err != nil {
			return fmt.Errorf("insert measurement: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMeasurements returns a student's snapshots, newest date first.
func (s *Service) ListMeasurements(ctx context.Context, studentID uint) ([]models.BodyMeasurement, error) {
	db := s.db.WithContext(ctx)
	if err := ensureStudent(db, studentID); err != nil {
		return nil, err
	}

	var out []models.BodyMeasurement
	if err := db.Where("student_id = ?", studentID).
		Order("date DESC").
		Order("id DESC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list measurements: %w", err)
	}
	return out, nil
}

func (s *Service) DeleteMeasurement(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.BodyMeasurement{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete measurement: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("measurement %d: %w", id, ErrNotFound)
	}
	return nil
}
