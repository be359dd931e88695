package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ltvesari/pt-tracker/internal/models"

	"gorm.io/gorm"
)

// Snapshot is the full roster, ledger and measurement state, as written to
// backup files.
type Snapshot struct {
	Version      int                      `json:"version"`
	CreatedAt    time.Time                `json:"created_at"`
	Students     []models.Student         `json:"students"`
	Logs         []models.LessonLog       `json:"logs"`
	Measurements []models.BodyMeasurement `json:"measurements"`
}

const snapshotVersion = 1

const restoreBatch = 200

// Snapshot reads every student, log entry and measurement in one
// transaction so the copy is consistent.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Version: snapshotVersion, CreatedAt: s.now()}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Order("id ASC").Find(&snap.Students).Error; err != nil {
			return fmt.Errorf("read students: %w", err)
		}
		if err := tx.Order("id ASC").Find(&snap.Logs).Error; err != nil {
			return fmt.Errorf("read logs: %w", err)
		}
		if err := tx.Order("id ASC").Find(&snap.Measurements).Error; err != nil {
			return fmt.Errorf("read measurements: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Restore replaces all students, log entries and measurements with the
// snapshot's rows, keeping their ids. Nothing changes if any insert fails.
func (s *Service) Restore(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot: %w", ErrInvalidArgument)
	}
	if err := checkSnapshot(snap); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := all.Delete(&models.LessonLog{}).Error; err != nil {
			return fmt.Errorf("clear logs: %w", err)
		}
		if err := all.Delete(&models.BodyMeasurement{}).Error; err != nil {
			return fmt.Errorf("clear measurements: %w", err)
		}
		if err := all.Delete(&models.Student{}).Error; err != nil {
			return fmt.Errorf("clear students: %w", err)
		}

		if len(snap.Students) > 0 {
			if err := tx.CreateInBatches(snap.Students, restoreBatch).Error; err != nil {
				return fmt.Errorf("restore students: %w", err)
			}
			// is_active has a column default, so false is not sent on insert
			var inactive []uint
			for _, st := range snap.Students {
				if !st.IsActive {
					inactive = append(inactive, st.ID)
				}
			}
			if len(inactive) > 0 {
				if err := tx.Model(&models.Student{}).
					Where("id IN ?", inactive).
					UpdateColumn("is_active", false).Error; err != nil {
					return fmt.Errorf("restore inactive flags: %w", err)
				}
			}
		}
		if len(snap.Logs) > 0 {
			if err := tx.CreateInBatches(snap.Logs, restoreBatch).Error; err != nil {
				return fmt.Errorf("restore logs: %w", err)
			}
		}
		if len(snap.Measurements) > 0 {
			if err := tx.CreateInBatches(snap.Measurements, restoreBatch).Error; err != nil {
				return fmt.Errorf("restore measurements: %w", err)
			}
		}
		return resetSequences(tx)
	})
}

// checkSnapshot rejects entries that point at students missing from the
// snapshot and log entries with an unknown type.
func checkSnapshot(snap *Snapshot) error {
	ids := make(map[uint]struct{}, len(snap.Students))
	for _, st := range snap.Students {
		if st.ID == 0 {
			return fmt.Errorf("student without id: %w", ErrInvalidArgument)
		}
		ids[st.ID] = struct{}{}
	}
	for _, l := range snap.Logs {
		if _, ok := ids[l.StudentID]; !ok {
			return fmt.Errorf("log %d references unknown student %d: %w", l.ID, l.StudentID, ErrInvalidArgument)
		}
		if l.Type != models.LogAdd && l.Type != models.LogDeduct {
			return fmt.Errorf("log %d has type %q: %w", l.ID, l.Type, ErrInvalidArgument)
		}
	}
	for _, m := range snap.Measurements {
		if _, ok := ids[m.StudentID]; !ok {
			return fmt.Errorf("measurement %d references unknown student %d: %w", m.ID, m.StudentID, ErrInvalidArgument)
		}
	}
	return nil
}

// resetSequences moves postgres id sequences past the restored ids. SQLite
// derives the next rowid from the table itself.
func resetSequences(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	for _, table := range []string{"students", "lesson_logs", "body_measurements"} {
		q := fmt.Sprintf(
			"SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), COALESCE((SELECT MAX(id) FROM %[1]s), 0) + 1, false)",
			table)
		if err := tx.Exec(q).Error; err != nil {
			return fmt.Errorf("reset %s sequence: %w", table, err)
		}
	}
	return nil
}
