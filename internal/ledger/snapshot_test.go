package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ltvesari/pt-tracker/internal/models"
)

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()

	a := mustCreateStudent(t, s, "Ada", 10)
	b := mustCreateStudent(t, s, "Bora", 3)
	s.Deduct(ctx, a.ID)
	s.Deduct(ctx, b.ID)
	s.AddMeasurement(ctx, MeasurementInput{StudentID: a.ID, Weight: dec("70.5")})
	inactive := false
	s.UpdateStudent(ctx, b.ID, StudentInput{FirstName: "Bora", LastName: "Test", PackageTotal: 3, IsActive: &inactive})

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot error = %v", err)
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// diverge after the snapshot
	s.Deduct(ctx, a.ID)
	c := mustCreateStudent(t, s, "Cem", 1)

	var back Snapshot
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := s.Restore(ctx, &back); err != nil {
		t.Fatalf("Restore error = %v", err)
	}

	if got := remainingOf(t, db, a.ID); got != 9 {
		t.Errorf("Ada remaining = %d, want 9", got)
	}
	if _, err := s.GetStudent(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("student created after snapshot still present: %v", err)
	}
	restoredB, err := s.GetStudent(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetStudent(Bora) error = %v", err)
	}
	if restoredB.IsActive {
		t.Error("inactive flag lost on restore")
	}
	if n := countLogs(t, db, a.ID, models.LogDeduct); n != 1 {
		t.Errorf("Ada deduct entries = %d, want 1", n)
	}
	ms, _ := s.ListMeasurements(ctx, a.ID)
	if len(ms) != 1 {
		t.Errorf("measurements = %d, want 1", len(ms))
	}

	for _, id := range []uint{a.ID, b.ID} {
		r, err := s.Reconcile(ctx, id)
		if err != nil || !r.Consistent() {
			t.Errorf("student %d reconcile = %+v, %v", id, r, err)
		}
	}

	// new rows continue after the restored ids
	d := mustCreateStudent(t, s, "Duru", 1)
	if d.ID <= b.ID {
		t.Errorf("new id %d collides with restored ids", d.ID)
	}
}

func TestRestore_RejectsDanglingReferences(t *testing.T) {
	s, db, _ := newTestService(t)
	ctx := context.Background()
	a := mustCreateStudent(t, s, "Ada", 4)

	bad := &Snapshot{
		Version:  snapshotVersion,
		Students: []models.Student{{ID: 1, FirstName: "X", LastName: "Y"}},
		Logs:     []models.LessonLog{{ID: 1, StudentID: 2, Type: models.LogAdd, Count: 1}},
	}
	if err := s.Restore(ctx, bad); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
	if got := remainingOf(t, db, a.ID); got != 4 {
		t.Errorf("existing data changed: remaining = %d", got)
	}
}

func TestRestore_RejectsUnknownVersion(t *testing.T) {
	s, _, _ := newTestService(t)
	if err := s.Restore(context.Background(), &Snapshot{Version: 99}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
}
