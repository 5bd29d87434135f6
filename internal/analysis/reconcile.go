package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/models"
)

// ReconcilerStore is the slice of the persistence layer the sweep needs.
type ReconcilerStore interface {
	ListStuckRunning(ctx context.Context, cutoff time.Time) ([]models.AnalysisResult, error)
	ListStalePending(ctx context.Context, cutoff time.Time) ([]models.AnalysisResult, error)
	MarkAnalysisFailed(ctx context.Context, id uuid.UUID, message string) error
}

// Reconciler fails analyses orphaned by worker crashes or lost queue
// entries. It runs periodically from the scheduler; between sweeps an
// orphaned record simply stays in its last state.
type Reconciler struct {
	store        ReconcilerStore
	logger       *slog.Logger
	staleTimeout time.Duration
}

func NewReconciler(store ReconcilerStore, logger *slog.Logger, staleTimeout time.Duration) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if staleTimeout <= 0 {
		staleTimeout = 15 * time.Minute
	}
	return &Reconciler{store: store, logger: logger, staleTimeout: staleTimeout}
}

// Sweep fails every running analysis older than the stale timeout and
// every pending analysis older than twice that, returning how many
// records were touched.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	failed := 0

	stuck, err := r.store.ListStuckRunning(ctx, time.Now().Add(-r.staleTimeout))
	if err != nil {
		return 0, fmt.Errorf("listing stuck analyses: %w", err)
	}
	for _, result := range stuck {
		msg := fmt.Sprintf("analysis exceeded %s without completing", r.staleTimeout)
		if err := r.store.MarkAnalysisFailed(ctx, result.ID, msg); err != nil {
			r.logger.Error("failed to reconcile stuck analysis", "analysis_id", result.ID, "error", err)
			continue
		}
		r.logger.Warn("failed stuck analysis", "analysis_id", result.ID, "started_at", result.StartedAt)
		failed++
	}

	// Pending records get twice the window; a queue backlog is not an
	// orphan.
	pending, err := r.store.ListStalePending(ctx, time.Now().Add(-2*r.staleTimeout))
	if err != nil {
		return failed, fmt.Errorf("listing stale pending analyses: %w", err)
	}
	for _, result := range pending {
		if err := r.store.MarkAnalysisFailed(ctx, result.ID, "analysis was never picked up by a worker"); err != nil {
			r.logger.Error("failed to reconcile stale pending analysis", "analysis_id", result.ID, "error", err)
			continue
		}
		r.logger.Warn("failed stale pending analysis", "analysis_id", result.ID, "created_at", result.CreatedAt)
		failed++
	}

	return failed, nil
}
