package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ltvesari/pt-tracker/internal/config"
	"github.com/ltvesari/pt-tracker/internal/database"
	"github.com/ltvesari/pt-tracker/internal/models"

	"gorm.io/gorm"
)

// fakeClock hands out strictly increasing timestamps so ordering by date is
// deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Init(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "ledger_test.db"),
	})
	if err != nil {
		t.Fatalf("Init test database failed: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate failed: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *fakeClock) {
	t.Helper()
	db := setupTestDB(t)
	clock := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	return New(db, Options{Now: clock.Now}), db, clock
}

func mustCreateStudent(t *testing.T, s *Service, first string, total int) *models.Student {
	t.Helper()
	st, err := s.CreateStudent(context.Background(), StudentInput{
		FirstName:    first,
		LastName:     "Test",
		PackageTotal: total,
	})
	if err != nil {
		t.Fatalf("CreateStudent(%s) error = %v", first, err)
	}
	return st
}

func countLogs(t *testing.T, db *gorm.DB, studentID uint, typ string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.LessonLog{}).
		Where("student_id = ? AND type = ?", studentID, typ).
		Count(&n).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	return n
}

func remainingOf(t *testing.T, db *gorm.DB, id uint) int {
	t.Helper()
	var st models.Student
	if err := db.First(&st, id).Error; err != nil {
		t.Fatalf("load student %d: %v", id, err)
	}
	return st.PackageRemaining
}

func TestCreateStudent_SeedsAddEntry(t *testing.T) {
	s, db, _ := newTestService(t)

	st := mustCreateStudent(t, s, "Ayse", 10)
	if st.PackageRemaining != 10 {
		t.Errorf("PackageRemaining = %d, want 10", st.PackageRemaining)
	}
	if !st.IsActive {
		t.Error("new student should be active")
	}

	var logs []models.LessonLog
	db.Where("student_id = ?", st.ID).Find(&logs)
	if len(logs) != 1 || logs[0].Type != models.LogAdd || logs[0].Count != 10 {
		t.Errorf("seed logs = %+v, want one add entry of 10", logs)
	}
}

func TestCreateStudent_EmptyPackageHasNoEntry(t *testing.T) {
	s, db, _ := newTestService(t)

	st := mustCreateStudent(t, s, "Can", 0)
	if n := countLogs(t, db, st.ID, models.LogAdd); n != 0 {
		t.Errorf("add entries = %d, want 0", n)
	}
}

func TestCreateStudent_InvalidInput(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []StudentInput{
		{FirstName: "", LastName: "X", PackageTotal: 1},
		{FirstName: "A", LastName: "  ", PackageTotal: 1},
		{FirstName: "A", LastName: "B", PackageTotal: -1},
	}
	for _, in := range cases {
		if _, err := s.CreateStudent(ctx, in); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("CreateStudent(%+v) error = %v, want ErrInvalidArgument", in, err)
		}
	}
}

// The canonical walk-through: create 10, deduct x3, undo, add 5.
func TestLedgerScenario(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()

	st := mustCreateStudent(t, s, "Deniz", 10)

	for i, want := range []int{9, 8, 7} {
		got, err := s.Deduct(ctx, st.ID)
		if err != nil {
			t.Fatalf("Deduct #%d error = %v", i+1, err)
		}
		if got != want {
			t.Errorf("Deduct #%d remaining = %d, want %d", i+1, got, want)
		}
	}
	if n := countLogs(t, db, st.ID, models.LogDeduct); n != 3 {
		t.Errorf("deduct entries = %d, want 3", n)
	}

	got, err := s.Undo(ctx, st.ID)
	if err != nil {
		t.Fatalf("Undo error = %v", err)
	}
	if got != 8 {
		t.Errorf("Undo remaining = %d, want 8", got)
	}
	if n := countLogs(t, db, st.ID, models.LogDeduct); n != 2 {
		t.Errorf("deduct entries after undo = %d, want 2", n)
	}

	got, err = s.AddPackage(ctx, st.ID, 5)
	if err != nil {
		t.Fatalf("AddPackage error = %v", err)
	}
	if got != 13 {
		t.Errorf("AddPackage remaining = %d, want 13", got)
	}
	if n := countLogs(t, db, st.ID, models.LogAdd); n != 2 {
		t.Errorf("add entries = %d, want 2", n)
	}
	if remainingOf(t, db, st.ID) != 13 {
		t.Errorf("stored remaining = %d, want 13", remainingOf(t, db, st.ID))
	}

	rec, err := s.Reconcile(ctx, st.ID)
	if err != nil {
		t.Fatalf("Reconcile error = %v", err)
	}
	if !rec.Consistent() || rec.Derived != 13 {
		t.Errorf("Reconcile = %+v, want consistent at 13", rec)
	}
}

func TestDeduct_AllowsNegativeBalance(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	st := mustCreateStudent(t, s, "Ece", 1)
	s.Deduct(ctx, st.ID)
	got, err := s.Deduct(ctx, st.ID)
	if err != nil {
		t.Fatalf("Deduct error = %v", err)
	}
	if got != -1 {
		t.Errorf("remaining = %d, want -1", got)
	}
}

func TestDeduct_NotFound(t *testing.T) {
	s, db, _ := newTestService(t)

	if _, err := s.Deduct(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Deduct(999) error = %v, want ErrNotFound", err)
	}

	var n int64
	db.Model(&models.LessonLog{}).Count(&n)
	if n != 0 {
		t.Errorf("log rows = %d, want 0 after failed deduct", n)
	}
}

func TestDeductThenUndo_RoundTripsBalance(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()

	st := mustCreateStudent(t, s, "Fatma", 4)
	before := remainingOf(t, db, st.ID)

	if _, err := s.Deduct(ctx, st.ID); err != nil {
		t.Fatalf("Deduct error = %v", err)
	}
	if _, err := s.Undo(ctx, st.ID); err != nil {
		t.Fatalf("Undo error = %v", err)
	}

	if got := remainingOf(t, db, st.ID); got != before {
		t.Errorf("remaining = %d, want %d", got, before)
	}
	if n := countLogs(t, db, st.ID, models.LogDeduct); n != 0 {
		t.Errorf("deduct entries = %d, want 0", n)
	}
}

func TestUndo_RemovesMostRecentDeduct(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()

	st := mustCreateStudent(t, s, "Gul", 5)
	s.Deduct(ctx, st.ID)
	s.Deduct(ctx, st.ID)

	var newest models.LessonLog
	db.Where("student_id = ? AND type = ?", st.ID, models.LogDeduct).
		Order("date DESC").Order("id DESC").First(&newest)

	if _, err := s.Undo(ctx, st.ID); err != nil {
		t.Fatalf("Undo error = %v", err)
	}

	var n int64
	db.Model(&models.LessonLog{}).Where("id = ?", newest.ID).Count(&n)
	if n != 0 {
		t.Errorf("newest deduct entry %d still present", newest.ID)
	}
}

func TestUndo_TieBreaksOnID(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()

	st := mustCreateStudent(t, s, "Hakan", 5)
	same := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	first := models.LessonLog{StudentID: st.ID, Type: models.LogDeduct, Count: 1, Date: same}
	second := models.LessonLog{StudentID: st.ID, Type: models.LogDeduct, Count: 2, Date: same}
	db.Create(&first)
	db.Create(&second)

	got, err := s.Undo(ctx, st.ID)
	if err != nil {
		t.Fatalf("Undo error = %v", err)
	}
	// second has the higher id, so its count of 2 is returned
	if got != 7 {
		t.Errorf("remaining = %d, want 7", got)
	}
	var left models.LessonLog
	db.Where("student_id = ? AND type = ?", st.ID, models.LogDeduct).First(&left)
	if left.ID != first.ID {
		t.Errorf("remaining deduct id = %d, want %d", left.ID, first.ID)
	}
}

func TestUndo_NothingToUndo(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()

	st := mustCreateStudent(t, s, "Irmak", 3)
	if _, err := s.Undo(ctx, st.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Undo error = %v, want ErrInvalidState", err)
	}
	if got := remainingOf(t, db, st.ID); got != 3 {
		t.Errorf("remaining = %d, want 3", got)
	}
}

func TestUndo_NotFound(t *testing.T) {
	s, _, _ := newTestService(t)

	if _, err := s.Undo(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Undo(42) error = %v, want ErrNotFound", err)
	}
}

func TestAddPackage_RejectsNonPositive(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()

	st := mustCreateStudent(t, s, "Kaan", 2)
	for _, count := range []int{0, -1, -10} {
		if _, err := s.AddPackage(ctx, st.ID, count); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("AddPackage(%d) error = %v, want ErrInvalidArgument", count, err)
		}
	}
	if got := remainingOf(t, db, st.ID); got != 2 {
		t.Errorf("remaining = %d, want 2", got)
	}
	if n := countLogs(t, db, st.ID, models.LogAdd); n != 1 {
		t.Errorf("add entries = %d, want 1 (seed only)", n)
	}
}

func TestAddPackage_NotFound(t *testing.T) {
	s, _, _ := newTestService(t)

	if _, err := s.AddPackage(context.Background(), 7, 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddPackage error = %v, want ErrNotFound", err)
	}
}

func TestAddPackage_KeepsPackageTotal(t *testing.T) {
	s, db, _ := newTestService(t)

	st := mustCreateStudent(t, s, "Leyla", 8)
	s.AddPackage(context.Background(), st.ID, 4)

	var got models.Student
	db.First(&got, st.ID)
	if got.PackageTotal != 8 {
		t.Errorf("PackageTotal = %d, want 8", got.PackageTotal)
	}
}

func TestConcurrentDeducts_NoLostUpdates(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()

	st := mustCreateStudent(t, s, "Mert", 20)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Deduct(ctx, st.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	failed := 0
	for err := range errs {
		failed++
		t.Logf("deduct failed: %v", err)
	}

	succeeded := int64(workers - failed)
	if n := countLogs(t, db, st.ID, models.LogDeduct); n != succeeded {
		t.Errorf("deduct entries = %d, want %d", n, succeeded)
	}
	if got := remainingOf(t, db, st.ID); got != 20-int(succeeded) {
		t.Errorf("remaining = %d, want %d", got, 20-int(succeeded))
	}
}

func TestBalanceInvariant_RandomWalk(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	st := mustCreateStudent(t, s, "Nil", 6)
	ops := []string{"d", "d", "a3", "u", "d", "u", "u", "d", "a1", "d", "u"}
	for _, op := range ops {
		switch op {
		case "d":
			s.Deduct(ctx, st.ID)
		case "u":
			s.Undo(ctx, st.ID)
		case "a1":
			s.AddPackage(ctx, st.ID, 1)
		case "a3":
			s.AddPackage(ctx, st.ID, 3)
		}

		rec, err := s.Reconcile(ctx, st.ID)
		if err != nil {
			t.Fatalf("Reconcile error = %v", err)
		}
		if !rec.Consistent() {
			t.Fatalf("after %q drift = %d (%+v)", op, rec.Drift, rec)
		}
	}
}

func TestRebuild_RepairsDrift(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()

	st := mustCreateStudent(t, s, "Oya", 10)
	s.Deduct(ctx, st.ID)
	db.Model(&models.Student{}).Where("id = ?", st.ID).UpdateColumn("package_remaining", 50)

	before, err := s.Rebuild(ctx, st.ID)
	if err != nil {
		t.Fatalf("Rebuild error = %v", err)
	}
	if before.Stored != 50 || before.Derived != 9 || before.Drift != 41 {
		t.Errorf("Rebuild before = %+v, want stored 50 derived 9 drift 41", before)
	}
	if got := remainingOf(t, db, st.ID); got != 9 {
		t.Errorf("remaining after rebuild = %d, want 9", got)
	}
}

func TestRebuild_ConcurrentDeductsStayConsistent(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()

	st := mustCreateStudent(t, s, "Nil", 30)

	const workers = 6
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.Deduct(ctx, st.ID); err != nil {
				t.Logf("deduct failed: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.Rebuild(ctx, st.ID); err != nil {
				t.Logf("rebuild failed: %v", err)
			}
		}()
	}
	wg.Wait()

	r, err := s.Reconcile(ctx, st.ID)
	if err != nil {
		t.Fatalf("Reconcile error = %v", err)
	}
	if !r.Consistent() {
		t.Errorf("after concurrent rebuilds = %+v, want no drift", r)
	}
	n := countLogs(t, db, st.ID, models.LogDeduct)
	if got := remainingOf(t, db, st.ID); got != 30-int(n) {
		t.Errorf("remaining = %d, want %d", got, 30-int(n))
	}
}

func TestRebuild_NotFound(t *testing.T) {
	s, _, _ := newTestService(t)

	if _, err := s.Rebuild(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Rebuild error = %v, want ErrNotFound", err)
	}
}

func TestReconcile_NotFound(t *testing.T) {
	s, _, _ := newTestService(t)

	if _, err := s.Reconcile(context.Background(), 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reconcile error = %v, want ErrNotFound", err)
	}
}

func TestDeleteStudent_Cascades(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()

	st := mustCreateStudent(t, s, "Pelin", 5)
	s.Deduct(ctx, st.ID)
	db.Create(&models.BodyMeasurement{StudentID: st.ID, Date: time.Now().UTC()})

	if err := s.DeleteStudent(ctx, st.ID); err != nil {
		t.Fatalf("DeleteStudent error = %v", err)
	}

	var logs, ms int64
	db.Model(&models.LessonLog{}).Where("student_id = ?", st.ID).Count(&logs)
	db.Model(&models.BodyMeasurement{}).Where("student_id = ?", st.ID).Count(&ms)
	if logs != 0 || ms != 0 {
		t.Errorf("orphans left: logs=%d measurements=%d", logs, ms)
	}

	if err := s.DeleteStudent(ctx, st.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteStudent error = %v, want ErrNotFound", err)
	}
}

func TestUpdateStudent_LeavesBalance(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	st := mustCreateStudent(t, s, "Rana", 10)
	s.Deduct(ctx, st.ID)

	inactive := false
	note := "  knee injury  "
	got, err := s.UpdateStudent(ctx, st.ID, StudentInput{
		FirstName:    "Rana",
		LastName:     "Yildiz",
		PackageTotal: 20,
		Note:         &note,
		IsActive:     &inactive,
	})
	if err != nil {
		t.Fatalf("UpdateStudent error = %v", err)
	}
	if got.PackageRemaining != 9 {
		t.Errorf("PackageRemaining = %d, want 9", got.PackageRemaining)
	}
	if got.PackageTotal != 20 || got.LastName != "Yildiz" || got.IsActive {
		t.Errorf("updated student = %+v", got)
	}
	if got.Note == nil || *got.Note != "knee injury" {
		t.Errorf("Note = %v, want trimmed note", got.Note)
	}

	if _, err := s.UpdateStudent(ctx, 999, StudentInput{FirstName: "a", LastName: "b"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateStudent(999) error = %v, want ErrNotFound", err)
	}
}

func TestListStudents_LastLessonAndFilter(t *testing.T) {
	s, _, clock := newTestService(t)
	ctx := context.Background()

	b := mustCreateStudent(t, s, "Burak", 5)
	a := mustCreateStudent(t, s, "Aslı", 5)
	clock.Set(time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC))
	s.Deduct(ctx, b.ID)

	inactive := false
	s.UpdateStudent(ctx, a.ID, StudentInput{FirstName: "Aslı", LastName: "Test", PackageTotal: 5, IsActive: &inactive})

	rows, err := s.ListStudents(ctx, false)
	if err != nil {
		t.Fatalf("ListStudents error = %v", err)
	}
	if len(rows) != 2 || rows[0].ID != a.ID {
		t.Fatalf("rows = %+v, want Aslı first", rows)
	}
	if rows[0].LastLessonDate != nil {
		t.Errorf("Aslı LastLessonDate = %v, want nil", rows[0].LastLessonDate)
	}
	if rows[1].LastLessonDate == nil || !rows[1].LastLessonDate.Equal(time.Date(2025, 4, 1, 8, 0, 1, 0, time.UTC)) {
		t.Errorf("Burak LastLessonDate = %v", rows[1].LastLessonDate)
	}

	active, _ := s.ListStudents(ctx, true)
	if len(active) != 1 || active[0].ID != b.ID {
		t.Errorf("active rows = %+v, want only Burak", active)
	}
}

func TestStudentLogs(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	st := mustCreateStudent(t, s, "Selin", 3)
	s.Deduct(ctx, st.ID)

	logs, err := s.StudentLogs(ctx, st.ID)
	if err != nil {
		t.Fatalf("StudentLogs error = %v", err)
	}
	if len(logs) != 2 || logs[0].Type != models.LogDeduct {
		t.Errorf("logs = %+v, want deduct first", logs)
	}
	if _, err := s.StudentLogs(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("StudentLogs(999) error = %v, want ErrNotFound", err)
	}
}
