package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ltvesari/pt-tracker/internal/models"
)

// DeletedStudentLabel stands in for the name of a student that no longer exists.
const DeletedStudentLabel = "deleted student"

// AbsentStudent is an active student whose last lesson is older than the
// absence window.
type AbsentStudent struct {
	ID             uint      `json:"id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	LastLessonDate time.Time `json:"last_lesson_date"`
}

// MonthBucket is one bar of the monthly lessons chart. Name is the short
// month ("Jan"); Month disambiguates the year ("2025-01").
type MonthBucket struct {
	Name    string `json:"name"`
	Month   string `json:"month"`
	Lessons int    `json:"lessons"`
}

type HistoryItem struct {
	ID          uint      `json:"id"`
	Date        time.Time `json:"date"`
	StudentID   uint      `json:"student_id"`
	StudentName string    `json:"student_name"`
	Type        string    `json:"type"`
	Count       int       `json:"count"`
}

type DashboardStats struct {
	LowBalance     []models.Student `json:"low_balance"`
	AbsentStudents []AbsentStudent  `json:"absent_students"`
	MonthlyChart   []MonthBucket    `json:"monthly_chart"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// LowBalance lists students below the low-balance threshold, lowest first.
// Inactive students are included.
func (s *Service) LowBalance(ctx context.Context) ([]models.Student, error) {
	var students []models.Student
	if err := s.db.WithContext(ctx).
		Where("package_remaining < ?", s.opts.LowBalanceThreshold).
		Order("package_remaining ASC").
		Order("first_name ASC").
		Find(&students).Error; err != nil {
		return nil, fmt.Errorf("low balance: %w", err)
	}
	return students, nil
}

// Absent lists active students whose latest deduction is older than the
// absence window. Students that never had a lesson are not listed.
func (s *Service) Absent(ctx context.Context) ([]AbsentStudent, error) {
	db := s.db.WithContext(ctx)

	var active []models.Student
	if err := db.Where("is_active = ?", true).
		Order("first_name ASC").
		Find(&active).Error; err != nil {
		return nil, fmt.Errorf("active students: %w", err)
	}

	last, err := latestDeducts(db)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().AddDate(0, 0, -s.opts.AbsenceDays)
	return absentSince(active, last, cutoff), nil
}

func absentSince(active []models.Student, last map[uint]time.Time, cutoff time.Time) []AbsentStudent {
	out := make([]AbsentStudent, 0)
	for _, st := range active {
		t, ok := last[st.ID]
		if !ok || !t.Before(cutoff) {
			continue
		}
		out = append(out, AbsentStudent{
			ID:             st.ID,
			FirstName:      st.FirstName,
			LastName:       st.LastName,
			LastLessonDate: t,
		})
	}
	return out
}

// Monthly sums deducted lessons per calendar month and keeps the most
// recent buckets in chronological order.
func (s *Service) Monthly(ctx context.Context) ([]MonthBucket, error) {
	var logs []models.LessonLog
	if err := s.db.WithContext(ctx).
		Select("date", "count").
		Where("type = ?", models.LogDeduct).
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("deduct logs: %w", err)
	}
	return foldMonthly(logs, s.opts.MonthlyBuckets), nil
}

func foldMonthly(logs []models.LessonLog, buckets int) []MonthBucket {
	sums := make(map[string]int)
	for _, l := range logs {
		sums[l.Date.UTC().Format("2006-01")] += l.Count
	}

	keys := make([]string, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if buckets > 0 && len(keys) > buckets {
		keys = keys[len(keys)-buckets:]
	}

	out := make([]MonthBucket, 0, len(keys))
	for _, k := range keys {
		t, _ := time.Parse("2006-01", k)
		out = append(out, MonthBucket{
			Name:    t.Format("Jan"),
			Month:   k,
			Lessons: sums[k],
		})
	}
	return out
}

// History returns the newest entries of any type with student names.
// limit is capped at the configured history limit; limit <= 0 uses it as is.
func (s *Service) History(ctx context.Context, limit int) ([]HistoryItem, error) {
	if limit <= 0 || limit > s.opts.HistoryLimit {
		limit = s.opts.HistoryLimit
	}
	db := s.db.WithContext(ctx)

	var logs []models.LessonLog
	if err := db.Order("date DESC").Order("id DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	names, err := s.studentNames(ctx, logs)
	if err != nil {
		return nil, err
	}
	return buildHistory(logs, names), nil
}

// FullHistory is History without a row limit, used by exports.
func (s *Service) FullHistory(ctx context.Context) ([]HistoryItem, error) {
	db := s.db.WithContext(ctx)

	var logs []models.LessonLog
	if err := db.Order("date DESC").Order("id DESC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	names, err := s.studentNames(ctx, logs)
	if err != nil {
		return nil, err
	}
	return buildHistory(logs, names), nil
}

func (s *Service) studentNames(ctx context.Context, logs []models.LessonLog) (map[uint]string, error) {
	ids := make([]uint, 0, len(logs))
	seen := make(map[uint]struct{}, len(logs))
	for _, l := range logs {
		if _, ok := seen[l.StudentID]; ok {
			continue
		}
		seen[l.StudentID] = struct{}{}
		ids = append(ids, l.StudentID)
	}

	names := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	var students []models.Student
	if err := s.db.WithContext(ctx).
		Select("id", "first_name", "last_name").
		Where("id IN ?", ids).
		Find(&students).Error; err != nil {
		return nil, fmt.Errorf("student names: %w", err)
	}
	for i := range students {
		names[students[i].ID] = students[i].FullName()
	}
	return names, nil
}

func buildHistory(logs []models.LessonLog, names map[uint]string) []HistoryItem {
	out := make([]HistoryItem, 0, len(logs))
	for _, l := range logs {
		name, ok := names[l.StudentID]
		if !ok {
			name = DeletedStudentLabel
		}
		out = append(out, HistoryItem{
			ID:          l.ID,
			Date:        l.Date,
			StudentID:   l.StudentID,
			StudentName: name,
			Type:        l.Type,
			Count:       l.Count,
		})
	}
	return out
}

// Dashboard gathers the three dashboard widgets.
func (s *Service) Dashboard(ctx context.Context) (*DashboardStats, error) {
	low, err := s.LowBalance(ctx)
	if err != nil {
		return nil, err
	}
	absent, err := s.Absent(ctx)
	if err != nil {
		return nil, err
	}
	monthly, err := s.Monthly(ctx)
	if err != nil {
		return nil, err
	}
	return &DashboardStats{
		LowBalance:     low,
		AbsentStudents: absent,
		MonthlyChart:   monthly,
		GeneratedAt:    s.now(),
	}, nil
}
