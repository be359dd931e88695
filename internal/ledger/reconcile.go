package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ltvesari/pt-tracker/internal/models"

	"gorm.io/gorm"
)

// Reconciliation compares the stored counter with the fold over the log.
type Reconciliation struct {
	StudentID uint `json:"student_id"`
	Stored    int  `json:"stored"`
	Derived   int  `json:"derived"`
	Drift     int  `json:"drift"`
}

func (r Reconciliation) Consistent() bool {
	return r.Drift == 0
}

// Reconcile reports how far package_remaining has drifted from
// sum(add) - sum(deduct).
func (s *Service) Reconcile(ctx context.Context, studentID uint) (Reconciliation, error) {
	return reconcile(s.db.WithContext(ctx), studentID)
}

// Rebuild overwrites package_remaining with the ledger fold and returns the
// reconciliation observed before the repair. The fold is computed inside the
// UPDATE so a deduction committed after the report cannot be overwritten.
func (s *Service) Rebuild(ctx context.Context, studentID uint) (Reconciliation, error) {
	db := s.db.WithContext(ctx)
	before, err := reconcile(db, studentID)
	if err != nil {
		return Reconciliation{}, err
	}

	res := db.Model(&models.Student{}).
		Where("id = ?", studentID).
		UpdateColumn("package_remaining", foldExpr(db))
	if res.Error != nil {
		return Reconciliation{}, fmt.Errorf("rewrite balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return Reconciliation{}, fmt.Errorf("student %d: %w", studentID, ErrNotFound)
	}
	return before, nil
}

// foldExpr is sum(add) - sum(deduct) over the log of the row being updated.
func foldExpr(db *gorm.DB) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true}).
		Model(&models.LessonLog{}).
		Select("COALESCE(SUM(CASE WHEN type = ? THEN count ELSE -count END), 0)", models.LogAdd).
		Where("lesson_logs.student_id = students.id")
}

func reconcile(tx *gorm.DB, studentID uint) (Reconciliation, error) {
	var student models.Student
	if err := tx.Select("id", "package_remaining").First(&student, studentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Reconciliation{}, fmt.Errorf("student %d: %w", studentID, ErrNotFound)
		}
		return Reconciliation{}, fmt.Errorf("lookup student: %w", err)
	}

	var derived int64
	if err := tx.Model(&models.LessonLog{}).
		Select("COALESCE(SUM(CASE WHEN type = ? THEN count ELSE -count END), 0)", models.LogAdd).
		Where("student_id = ?", studentID).
		Row().
		Scan(&derived); err != nil {
		return Reconciliation{}, fmt.Errorf("fold ledger: %w", err)
	}

	return Reconciliation{
		StudentID: studentID,
		Stored:    student.PackageRemaining,
		Derived:   int(derived),
		Drift:     student.PackageRemaining - int(derived),
	}, nil
}
