// Package reports renders completed analyses as PDF documents and CSV
// exports. Reports are only available for completed analyses; pending,
// running and failed records have nothing stable to render.
package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/models"
)

// ErrNotCompleted marks report requests against a record that has not
// reached the completed state.
var ErrNotCompleted = errors.New("analysis is not completed")

// AnalysisStore is the slice of the persistence layer the generator
// needs.
type AnalysisStore interface {
	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.AnalysisResult, error)
	GetFramework(ctx context.Context, id uuid.UUID) (*models.Framework, error)
}

// Generator renders reports and optionally archives them.
type Generator struct {
	store    AnalysisStore
	archiver *Archiver
	logger   *slog.Logger
}

func NewGenerator(store AnalysisStore, archiver *Archiver, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{store: store, archiver: archiver, logger: logger}
}

// load fetches a completed analysis and its framework, or fails.
func (g *Generator) load(ctx context.Context, analysisID uuid.UUID) (*models.AnalysisResult, *models.Framework, error) {
	result, err := g.store.GetAnalysis(ctx, analysisID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading analysis: %w", err)
	}
	if result == nil {
		return nil, nil, fmt.Errorf("analysis %s not found", analysisID)
	}
	if result.Status != models.AnalysisStatusCompleted {
		return nil, nil, fmt.Errorf("analysis %s is %s: %w", analysisID, result.Status, ErrNotCompleted)
	}

	fw, err := g.store.GetFramework(ctx, result.FrameworkID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading framework: %w", err)
	}
	if fw == nil {
		return nil, nil, fmt.Errorf("framework %s not found", result.FrameworkID)
	}

	return result, fw, nil
}

// AnalysisPDF renders the full compliance report for one analysis.
func (g *Generator) AnalysisPDF(ctx context.Context, analysisID uuid.UUID) ([]byte, error) {
	result, fw, err := g.load(ctx, analysisID)
	if err != nil {
		return nil, err
	}

	pdf := NewPDFReport(fmt.Sprintf("Compliance Report: %s", fw.Name))

	pdf.AddSection("Overview")
	score := 0.0
	if result.OverallScore != nil {
		score = *result.OverallScore
	}
	pdf.AddParagraph(fmt.Sprintf(
		"This report covers %s (version %s). The analysis evaluated %d controls against the current policy mappings.",
		fw.Name, fw.Version, result.TotalControls,
	))
	pdf.AddScoreBar("Overall Coverage", score)
	pdf.AddSummaryTable(map[string]int{
		"Fully covered":     result.ControlsFullyCovered,
		"Partially covered": result.ControlsPartiallyCovered,
		"Not covered":       result.ControlsNotCovered,
	})

	pdf.AddSection("Coverage by Category")
	for _, cs := range result.CategoryScores {
		pdf.AddScoreBar(fmt.Sprintf("%s %s", cs.CategoryCode, truncate(cs.CategoryName, 30)), cs.Score)
	}

	if len(result.Gaps) > 0 {
		pdf.AddPageBreak()
		pdf.AddSection(fmt.Sprintf("Control Gaps (%d)", len(result.Gaps)))

		headers := []string{"Control", "Category", "Coverage", "Severity", "Suggested Policy"}
		rows := make([][]string, 0, len(result.Gaps))
		for _, gap := range result.Gaps {
			rows = append(rows, []string{
				gap.ControlCode,
				gap.CategoryCode,
				string(gap.Coverage),
				string(gap.Severity),
				truncate(gap.SuggestedPolicyType, 25),
			})
		}
		pdf.AddTable(headers, rows)
	}

	if len(result.Recommendations) > 0 {
		pdf.AddSection("Recommendations")
		for _, rec := range result.Recommendations {
			pdf.AddParagraph(fmt.Sprintf("%d. %s [%s]\n%s\nControls: %s",
				rec.Priority, rec.Title, rec.Timeframe, rec.Description,
				strings.Join(rec.ControlCodes, ", ")))
		}
	}

	data, err := pdf.Output()
	if err != nil {
		return nil, err
	}

	g.archive(ctx, result, "pdf", data)
	return data, nil
}

// GapsCSV exports an analysis's gap list.
func (g *Generator) GapsCSV(ctx context.Context, analysisID uuid.UUID) ([]byte, error) {
	result, _, err := g.load(ctx, analysisID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	w.Write([]string{"control_code", "control_title", "category_code", "coverage_level", "severity", "suggested_policy_type", "remediation"})
	for _, gap := range result.Gaps {
		w.Write([]string{
			gap.ControlCode,
			gap.ControlTitle,
			gap.CategoryCode,
			string(gap.Coverage),
			string(gap.Severity),
			gap.SuggestedPolicyType,
			gap.Remediation,
		})
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("writing gaps csv: %w", err)
	}

	g.archive(ctx, result, "gaps.csv", buf.Bytes())
	return buf.Bytes(), nil
}

// CoverageCSV exports per-category coverage scores.
func (g *Generator) CoverageCSV(ctx context.Context, analysisID uuid.UUID) ([]byte, error) {
	result, _, err := g.load(ctx, analysisID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	w.Write([]string{"category_code", "category_name", "total_controls", "fully_covered", "partially_covered", "not_covered", "score"})
	for _, cs := range result.CategoryScores {
		w.Write([]string{
			cs.CategoryCode,
			cs.CategoryName,
			strconv.Itoa(cs.TotalControls),
			strconv.Itoa(cs.FullyCovered),
			strconv.Itoa(cs.PartiallyCovered),
			strconv.Itoa(cs.NotCovered),
			strconv.FormatFloat(cs.Score, 'f', 1, 64),
		})
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("writing coverage csv: %w", err)
	}

	g.archive(ctx, result, "coverage.csv", buf.Bytes())
	return buf.Bytes(), nil
}

// archive stores a rendered report in the archive bucket, best effort.
func (g *Generator) archive(ctx context.Context, result *models.AnalysisResult, suffix string, data []byte) {
	if g.archiver == nil {
		return
	}

	key := fmt.Sprintf("%s/%s.%s", result.FrameworkID, result.ID, suffix)
	if err := g.archiver.Put(ctx, key, data); err != nil {
		g.logger.Error("failed to archive report", "analysis_id", result.ID, "key", key, "error", err)
		return
	}
	g.logger.Info("report archived", "analysis_id", result.ID, "key", key)
}
