package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ltvesari/pt-tracker/internal/models"

	"gorm.io/gorm"
)

// StudentInput carries the editable student fields.
type StudentInput struct {
	FirstName    string
	LastName     string
	BirthDate    *time.Time
	PackageTotal int
	Note         *string
	// IsActive is only honoured by UpdateStudent; nil keeps the current value.
	IsActive *bool
}

func (in *StudentInput) normalize() error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if in.FirstName == "" || in.LastName == "" {
		return fmt.Errorf("first and last name are required: %w", ErrInvalidArgument)
	}
	if in.PackageTotal < 0 {
		return fmt.Errorf("package_total must not be negative: %w", ErrInvalidArgument)
	}
	if in.Note != nil {
		n := strings.TrimSpace(*in.Note)
		if n == "" {
			in.Note = nil
		} else {
			in.Note = &n
		}
	}
	return nil
}

// StudentRow is a roster entry together with the date of its latest lesson.
type StudentRow struct {
	models.Student
	LastLessonDate *time.Time `json:"last_lesson_date"`
}

// CreateStudent inserts a student with a full balance and, when the
// starting package is non-empty, the matching add entry.
func (s *Service) CreateStudent(ctx context.Context, in StudentInput) (*models.Student, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	student := models.Student{
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		BirthDate:        in.BirthDate,
		PackageTotal:     in.PackageTotal,
		PackageRemaining: in.PackageTotal,
		IsActive:         true,
		Note:             in.Note,
		CreatedAt:        s.now(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&student).Error; err != nil {
			return fmt.Errorf("insert student: %w", err)
		}
		if student.PackageTotal <= 0 {
			return nil
		}
		seed := models.LessonLog{
			StudentID: student.ID,
			Type:      models.LogAdd,
			Count:     student.PackageTotal,
			Date:      student.CreatedAt,
		}
		if err := tx.Create(&seed).Error; err != nil {
			return fmt.Errorf("insert initial package: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &student, nil
}

// UpdateStudent edits descriptive fields. The balance is owned by the
// ledger operations and is never written here.
func (s *Service) UpdateStudent(ctx context.Context, id uint, in StudentInput) (*models.Student, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	var student models.Student
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&student, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("student %d: %w", id, ErrNotFound)
			}
			return fmt.Errorf("lookup student: %w", err)
		}

		updates := map[string]interface{}{
			"first_name":    in.FirstName,
			"last_name":     in.LastName,
			"birth_date":    in.BirthDate,
			"package_total": in.PackageTotal,
			"note":          in.Note,
		}
		if in.IsActive != nil {
			updates["is_active"] = *in.IsActive
		}
		if err := tx.Model(&student).Updates(updates).Error; err != nil {
			return fmt.Errorf("update student: %w", err)
		}
		return tx.First(&student, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &student, nil
}

func (s *Service) GetStudent(ctx context.Context, id uint) (*models.Student, error) {
	var student models.Student
	if err := s.db.WithContext(ctx).First(&student, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("student %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("lookup student: %w", err)
	}
	return &student, nil
}

// ListStudents returns the roster sorted by first name.
func (s *Service) ListStudents(ctx context.Context, activeOnly bool) ([]StudentRow, error) {
	db := s.db.WithContext(ctx)

	q := db.Model(&models.Student{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var students []models.Student
	if err := q.Order("first_name ASC").Order("id ASC").Find(&students).Error; err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}

	last, err := latestDeducts(db)
	if err != nil {
		return nil, err
	}

	rows := make([]StudentRow, 0, len(students))
	for i := range students {
		row := StudentRow{Student: students[i]}
		if t, ok := last[students[i].ID]; ok {
			row.LastLessonDate = &t
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DeleteStudent removes the student with its log entries and measurements.
// Children are deleted explicitly so the cascade holds even where the
// database does not enforce foreign keys.
func (s *Service) DeleteStudent(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureStudent(tx, id); err != nil {
			return err
		}
		if err := tx.Where("student_id = ?", id).Delete(&models.LessonLog{}).Error; err != nil {
			return fmt.Errorf("delete logs: %w", err)
		}
		if err := tx.Where("student_id = ?", id).Delete(&models.BodyMeasurement{}).Error; err != nil {
			return fmt.Errorf("delete measurements: %w", err)
		}
		if err := tx.Delete(&models.Student{}, id).Error; err != nil {
			return fmt.Errorf("delete student: %w", err)
		}
		return nil
	})
}

type lastDeduct struct {
	StudentID uint
	Date      time.Time
}

// latestDeducts maps student id to the date of its newest deduct entry.
// The anti-join keeps the real column so drivers decode it as a timestamp.
func latestDeducts(db *gorm.DB) (map[uint]time.Time, error) {
	var rows []lastDeduct
	err := db.Raw(`
SELECT l.student_id AS student_id, l.date AS date
FROM lesson_logs l
WHERE l.type = ?
  AND NOT EXISTS (
    SELECT 1 FROM lesson_logs n
    WHERE n.student_id = l.student_id
      AND n.type = l.type
      AND (n.date > l.date OR (n.date = l.date AND n.id > l.id))
  )`, models.LogDeduct).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("latest deducts: %w", err)
	}

	out := make(map[uint]time.Time, len(rows))
	for _, r := range rows {
		out[r.StudentID] = r.Date
	}
	return out, nil
}
