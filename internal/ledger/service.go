// Package ledger keeps each student's lesson balance and the lesson log it
// is folded from. Every balance change is a single UPDATE ... SET
// package_remaining = package_remaining + ? issued in the same transaction
// as the log write, so concurrent requests cannot lose updates and the
// counter never commits without its entry.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ltvesari/pt-tracker/internal/models"

	"gorm.io/gorm"
)

// Options tunes the reporting queries. Zero values fall back to defaults.
type Options struct {
	LowBalanceThreshold int
	AbsenceDays         int
	MonthlyBuckets      int
	HistoryLimit        int

	// Now is the clock used for new entries and report cutoffs.
	Now func() time.Time
}

const (
	DefaultLowBalanceThreshold = 5
	DefaultAbsenceDays         = 7
	DefaultMonthlyBuckets      = 6
	DefaultHistoryLimit        = 100
)

type Service struct {
	db   *gorm.DB
	opts Options
}

func New(db *gorm.DB, opts Options) *Service {
	if opts.LowBalanceThreshold <= 0 {
		opts.LowBalanceThreshold = DefaultLowBalanceThreshold
	}
	if opts.AbsenceDays <= 0 {
		opts.AbsenceDays = DefaultAbsenceDays
	}
	if opts.MonthlyBuckets <= 0 {
		opts.MonthlyBuckets = DefaultMonthlyBuckets
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{db: db, opts: opts}
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

// Deduct records one taught lesson. The balance has no floor.
func (s *Service) Deduct(ctx context.Context, studentID uint) (int, error) {
	var remaining int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := adjustBalance(tx, studentID, -1)
		if err != nil {
			return err
		}
		entry := models.LessonLog{
			StudentID: studentID,
			Type:      models.LogDeduct,
			Count:     1,
			Date:      s.now(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("insert deduct entry: %w", err)
		}
		remaining = r
		return nil
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// Undo reverts the most recent deduction by deleting its entry and giving
// its count back. Ties on date resolve to the higher id.
func (s *Service) Undo(ctx context.Context, studentID uint) (int, error) {
	var remaining int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureStudent(tx, studentID); err != nil {
			return err
		}

		var last models.LessonLog
		err := tx.Where("student_id = ? AND type = ?", studentID, models.LogDeduct).
			Order("date DESC").
			Order("id DESC").
			First(&last).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("student %d has no lesson to undo: %w", studentID, ErrInvalidState)
		}
		if err != nil {
			return fmt.Errorf("find last deduct: %w", err)
		}

		// delete first: a concurrent undo that picked the same entry loses here
		res := tx.Delete(&models.LessonLog{}, last.ID)
		if res.Error != nil {
			return fmt.Errorf("delete deduct entry: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("entry %d already undone: %w", last.ID, ErrConflict)
		}

		r, err := adjustBalance(tx, studentID, last.Count)
		if err != nil {
			return err
		}
		remaining = r
		return nil
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// AddPackage credits count lessons. PackageTotal is left as is.
func (s *Service) AddPackage(ctx context.Context, studentID uint, count int) (int, error) {
	if count <= 0 {
		return 0, fmt.Errorf("count must be positive, got %d: %w", count, ErrInvalidArgument)
	}

	var remaining int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := adjustBalance(tx, studentID, count)
		if err != nil {
			return err
		}
		entry := models.LessonLog{
			StudentID: studentID,
			Type:      models.LogAdd,
			Count:     count,
			Date:      s.now(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("insert add entry: %w", err)
		}
		remaining = r
		return nil
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// StudentLogs lists every entry of one student, newest first.
func (s *Service) StudentLogs(ctx context.Context, studentID uint) ([]models.LessonLog, error) {
	db := s.db.WithContext(ctx)
	if err := ensureStudent(db, studentID); err != nil {
		return nil, err
	}

	var logs []models.LessonLog
	if err := db.Where("student_id = ?", studentID).
		Order("date DESC").
		Order("id DESC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return logs, nil
}

// adjustBalance applies delta in one statement and reads the result back
// inside the same transaction.
func adjustBalance(tx *gorm.DB, studentID uint, delta int) (int, error) {
	res := tx.Model(&models.Student{}).
		Where("id = ?", studentID).
		UpdateColumn("package_remaining", gorm.Expr("package_remaining + ?", delta))
	if res.Error != nil {
		return 0, fmt.Errorf("update balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("student %d: %w", studentID, ErrNotFound)
	}
	return readBalance(tx, studentID)
}

func readBalance(tx *gorm.DB, studentID uint) (int, error) {
	var remaining int
	if err := tx.Model(&models.Student{}).
		Select("package_remaining").
		Where("id = ?", studentID).
		Row().
		Scan(&remaining); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return remaining, nil
}

func ensureStudent(tx *gorm.DB, studentID uint) error {
	var n int64
	if err := tx.Model(&models.Student{}).Where("id = ?", studentID).Count(&n).Error; err != nil {
		return fmt.Errorf("lookup student: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("student %d: %w", studentID, ErrNotFound)
	}
	return nil
}
