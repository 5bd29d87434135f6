package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/framework"
	"github.com/policyforge/comply/internal/models"
)

// FrameworkSource loads the inputs of one analysis run.
type FrameworkSource interface {
	LoadFrameworkModel(ctx context.Context, frameworkID uuid.UUID) (*framework.Model, error)
	ListMappingsForFramework(ctx context.Context, frameworkID uuid.UUID) ([]models.PolicyControlMapping, error)
}

// ResultStore persists analysis state transitions. Implementations must
// make terminal writes conditional on the current status so a record
// that already reached completed or failed is never overwritten.
type ResultStore interface {
	MarkAnalysisRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	CompleteAnalysis(ctx context.Context, result *models.AnalysisResult) error
	MarkAnalysisFailed(ctx context.Context, id uuid.UUID, message string) error
}

// Notifier receives terminal-state events. Delivery is best effort; a
// notifier error never affects the analysis outcome.
type Notifier interface {
	AnalysisCompleted(ctx context.Context, result *models.AnalysisResult)
	AnalysisFailed(ctx context.Context, analysisID, frameworkID, triggeredBy uuid.UUID, message string)
}

// Runner executes one analysis from pending to a terminal state.
type Runner struct {
	source   FrameworkSource
	results  ResultStore
	notifier Notifier
	logger   *slog.Logger

	// recommendationCap bounds each result's recommendation list.
	recommendationCap int
}

func NewRunner(source FrameworkSource, results ResultStore, notifier Notifier, logger *slog.Logger, recommendationCap int) *Runner {
	if recommendationCap <= 0 {
		recommendationCap = DefaultRecommendationCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		source:            source,
		results:           results,
		notifier:          notifier,
		logger:            logger,
		recommendationCap: recommendationCap,
	}
}

// Run drives one analysis to a terminal state. Input loading failures
// move the record straight from pending to failed; computation failures
// fail it from running. The returned error reports infrastructure
// problems only (for example the store being unreachable), never a
// failed analysis, which is a valid terminal outcome.
func (r *Runner) Run(ctx context.Context, analysisID, frameworkID, triggeredBy uuid.UUID) error {
	log := r.logger.With("analysis_id", analysisID, "framework_id", frameworkID)

	model, err := r.source.LoadFrameworkModel(ctx, frameworkID)
	if err != nil {
		return r.fail(ctx, log, analysisID, frameworkID, triggeredBy, fmt.Sprintf("loading framework: %s", sanitize(err.Error())))
	}
	mappings, err := r.source.ListMappingsForFramework(ctx, frameworkID)
	if err != nil {
		return r.fail(ctx, log, analysisID, frameworkID, triggeredBy, fmt.Sprintf("loading mappings: %s", sanitize(err.Error())))
	}
	if model.TotalControls() == 0 {
		return r.fail(ctx, log, analysisID, frameworkID, triggeredBy, ErrNoControls.Error())
	}

	startedAt := time.Now().UTC()
	if err := r.results.MarkAnalysisRunning(ctx, analysisID, startedAt); err != nil {
		return fmt.Errorf("marking analysis running: %w", err)
	}
	log.Info("analysis started", "total_controls", model.TotalControls())

	result, compErr := r.compute(model, mappings, analysisID, triggeredBy, startedAt)
	if compErr != nil {
		return r.fail(ctx, log, analysisID, frameworkID, triggeredBy, sanitize(compErr.Error()))
	}

	if err := r.results.CompleteAnalysis(ctx, result); err != nil {
		return fmt.Errorf("completing analysis: %w", err)
	}
	log.Info("analysis completed",
		"overall_score", *result.OverallScore,
		"gaps", len(result.Gaps),
		"recommendations", len(result.Recommendations),
	)

	if r.notifier != nil {
		r.notifier.AnalysisCompleted(ctx, result)
	}
	return nil
}

// compute runs the scoring pipeline. A panic inside the engine is caught
// and converted to an error so one bad framework cannot take down a
// worker.
func (r *Runner) compute(model *framework.Model, mappings []models.PolicyControlMapping, analysisID, triggeredBy uuid.UUID, startedAt time.Time) (result *models.AnalysisResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("analysis computation panicked: %v", rec)
		}
	}()

	cov, err := Aggregate(model, mappings)
	if err != nil {
		return nil, err
	}
	gaps := DetectGaps(model, mappings)
	recs := Synthesize(gaps, r.recommendationCap)

	snapshot := make(models.MappingSnapshot, 0, len(mappings))
	for _, m := range mappings {
		snapshot = append(snapshot, models.MappingSnapshotEntry{
			MappingID: m.ID,
			PolicyID:  m.PolicyID,
			ControlID: m.ControlID,
			Coverage:  m.Coverage,
			Verified:  m.Verified,
		})
	}

	overall := cov.OverallScore
	completedAt := time.Now().UTC()
	return &models.AnalysisResult{
		ID:                       analysisID,
		FrameworkID:              model.Framework.ID,
		Status:                   models.AnalysisStatusCompleted,
		TriggeredBy:              triggeredBy,
		TotalControls:            cov.TotalControls,
		ControlsFullyCovered:     cov.FullyCovered,
		ControlsPartiallyCovered: cov.PartiallyCovered,
		ControlsNotCovered:       cov.NotCovered,
		OverallScore:             &overall,
		CategoryScores:           cov.CategoryScores,
		Gaps:                     gaps,
		Recommendations:          recs,
		Snapshot:                 snapshot,
		StartedAt:                &startedAt,
		CompletedAt:              &completedAt,
	}, nil
}

func (r *Runner) fail(ctx context.Context, log *slog.Logger, analysisID, frameworkID, triggeredBy uuid.UUID, message string) error {
	log.Warn("analysis failed", "error", message)
	if err := r.results.MarkAnalysisFailed(ctx, analysisID, message); err != nil {
		return fmt.Errorf("marking analysis failed: %w", err)
	}
	if r.notifier != nil {
		r.notifier.AnalysisFailed(ctx, analysisID, frameworkID, triggeredBy, message)
	}
	return nil
}

// sanitize makes an internal error safe to store on the record: single
// line, bounded length. Truncation backs up to a rune boundary so a
// multi-byte character is never split.
func sanitize(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > 500 {
		cut := 500
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}
