package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/models"
)

type fakeReconcilerStore struct {
	stuck   []models.AnalysisResult
	pending []models.AnalysisResult
	failed  []uuid.UUID
}

func (f *fakeReconcilerStore) ListStuckRunning(_ context.Context, _ time.Time) ([]models.AnalysisResult, error) {
	return f.stuck, nil
}

func (f *fakeReconcilerStore) ListStalePending(_ context.Context, _ time.Time) ([]models.AnalysisResult, error) {
	return f.pending, nil
}

func (f *fakeReconcilerStore) MarkAnalysisFailed(_ context.Context, id uuid.UUID, _ string) error {
	f.failed = append(f.failed, id)
	return nil
}

func TestReconcilerSweep(t *testing.T) {
	stuckID := uuid.New()
	pendingID := uuid.New()
	store := &fakeReconcilerStore{
		stuck:   []models.AnalysisResult{{ID: stuckID, Status: models.AnalysisStatusRunning}},
		pending: []models.AnalysisResult{{ID: pendingID, Status: models.AnalysisStatusPending}},
	}

	rec := NewReconciler(store, nil, 15*time.Minute)
	failed, err := rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if failed != 2 {
		t.Errorf("failed = %d, want 2", failed)
	}
	if len(store.failed) != 2 || store.failed[0] != stuckID || store.failed[1] != pendingID {
		t.Errorf("failed ids = %v, want [%s %s]", store.failed, stuckID, pendingID)
	}
}

func TestReconcilerSweepNothingToDo(t *testing.T) {
	rec := NewReconciler(&fakeReconcilerStore{}, nil, time.Minute)
	failed, err := rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if failed != 0 {
		t.Errorf("failed = %d, want 0", failed)
	}
}
