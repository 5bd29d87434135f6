package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/models"
)

// CreatePendingAnalysis inserts a new analysis record in pending state.
func (s *Store) CreatePendingAnalysis(ctx context.Context, frameworkID, triggeredBy uuid.UUID) (*models.AnalysisResult, error) {
	result := &models.AnalysisResult{
		ID:          uuid.New(),
		FrameworkID: frameworkID,
		Status:      models.AnalysisStatusPending,
		TriggeredBy: triggeredBy,
		CreatedAt:   time.Now(),
	}

	query := `
		INSERT INTO analysis_results (id, framework_id, status, triggered_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		result.ID,
		result.FrameworkID,
		result.Status,
		result.TriggeredBy,
		result.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.AnalysisResult, error) {
	var result models.AnalysisResult
	query := `SELECT * FROM analysis_results WHERE id = $1`
	err := s.db.GetContext(ctx, &result, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &result, err
}

func (s *Store) ListAnalyses(ctx context.Context, frameworkID *uuid.UUID, limit int) ([]models.AnalysisResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var results []models.AnalysisResult
	var err error
	if frameworkID != nil {
		query := `SELECT * FROM analysis_results WHERE framework_id = $1 ORDER BY created_at DESC LIMIT $2`
		err = s.db.SelectContext(ctx, &results, query, *frameworkID, limit)
	} else {
		query := `SELECT * FROM analysis_results ORDER BY created_at DESC LIMIT $1`
		err = s.db.SelectContext(ctx, &results, query, limit)
	}
	return results, err
}

// GetLatestCompletedAnalysis returns the newest completed run for a
// framework, or nil when none has completed yet.
func (s *Store) GetLatestCompletedAnalysis(ctx context.Context, frameworkID uuid.UUID) (*models.AnalysisResult, error) {
	var result models.AnalysisResult
	query := `
		SELECT * FROM analysis_results
		WHERE framework_id = $1 AND status = 'completed'
		ORDER BY completed_at DESC LIMIT 1
	`
	err := s.db.GetContext(ctx, &result, query, frameworkID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &result, err
}

// MarkAnalysisRunning moves a pending record to running. The status
// guard makes the write a no-op if the record already left pending.
func (s *Store) MarkAnalysisRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
		UPDATE analysis_results SET status = 'running', started_at = $1
		WHERE id = $2 AND status = 'pending'
	`
	_, err := s.db.ExecContext(ctx, query, startedAt, id)
	return err
}

// CompleteAnalysis writes the terminal completed state. The guard on the
// current status means a record that already reached completed or failed
// keeps its first outcome.
func (s *Store) CompleteAnalysis(ctx context.Context, result *models.AnalysisResult) error {
	query := `
		UPDATE analysis_results SET
			status = 'completed',
			total_controls = $1,
			controls_fully_covered = $2,
			controls_partially_covered = $3,
			controls_not_covered = $4,
			overall_score = $5,
			category_scores = $6,
			gaps = $7,
			recommendations = $8,
			mapping_snapshot = $9,
			completed_at = $10
		WHERE id = $11 AND status = 'running'
	`
	_, err := s.db.ExecContext(ctx, query,
		result.TotalControls,
		result.ControlsFullyCovered,
		result.ControlsPartiallyCovered,
		result.ControlsNotCovered,
		result.OverallScore,
		result.CategoryScores,
		result.Gaps,
		result.Recommendations,
		result.Snapshot,
		result.CompletedAt,
		result.ID,
	)
	return err
}

// MarkAnalysisFailed writes the terminal failed state. Pending records
// may fail directly, skipping running, when their inputs cannot be
// loaded.
func (s *Store) MarkAnalysisFailed(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE analysis_results SET status = 'failed', error_message = $1, completed_at = $2
		WHERE id = $3 AND status IN ('pending', 'running')
	`
	_, err := s.db.ExecContext(ctx, query, message, time.Now(), id)
	return err
}

// ListStuckRunning finds running analyses whose start time is older than
// the cutoff. The reconciliation sweep fails them.
func (s *Store) ListStuckRunning(ctx context.Context, cutoff time.Time) ([]models.AnalysisResult, error) {
	var results []models.AnalysisResult
	query := `
		SELECT * FROM analysis_results
		WHERE status = 'running' AND started_at < $1
		ORDER BY started_at
	`
	err := s.db.SelectContext(ctx, &results, query, cutoff)
	return results, err
}

// ListStalePending finds pending analyses never picked up by a worker,
// for example because the queue lost the job.
func (s *Store) ListStalePending(ctx context.Context, cutoff time.Time) ([]models.AnalysisResult, error) {
	var results []models.AnalysisResult
	query := `
		SELECT * FROM analysis_results
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
	`
	err := s.db.SelectContext(ctx, &results, query, cutoff)
	return results, err
}

// DeleteAnalysesOlderThan removes terminal records past the retention
// window and reports how many were deleted.
func (s *Store) DeleteAnalysesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM analysis_results
		WHERE status IN ('completed', 'failed') AND created_at < $1
	`
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
