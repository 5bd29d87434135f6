package reports

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/models"
)

type fakeStore struct {
	analyses   map[uuid.UUID]*models.AnalysisResult
	frameworks map[uuid.UUID]*models.Framework
}

func (f *fakeStore) GetAnalysis(_ context.Context, id uuid.UUID) (*models.AnalysisResult, error) {
	return f.analyses[id], nil
}

func (f *fakeStore) GetFramework(_ context.Context, id uuid.UUID) (*models.Framework, error) {
	return f.frameworks[id], nil
}

func completedResult() (*fakeStore, *models.AnalysisResult) {
	fwID := uuid.New()
	score := 50.0
	now := time.Now()
	result := &models.AnalysisResult{
		ID:                       uuid.New(),
		FrameworkID:              fwID,
		Status:                   models.AnalysisStatusCompleted,
		TotalControls:            3,
		ControlsFullyCovered:     1,
		ControlsPartiallyCovered: 1,
		ControlsNotCovered:       1,
		OverallScore:             &score,
		CategoryScores: models.CategoryScoreList{
			{CategoryCode: "GOV", CategoryName: "Governance", TotalControls: 2, FullyCovered: 1, PartiallyCovered: 1, Score: 75.0},
			{CategoryCode: "OPS", CategoryName: "Operations", TotalControls: 1, NotCovered: 1, Score: 0.0},
		},
		Gaps: models.GapList{
			{ControlCode: "OPS-1", ControlTitle: "Procedures", CategoryCode: "OPS", Coverage: models.CoverageNone,
				Severity: models.GapSeverityHigh, SuggestedPolicyType: "Operations Policy", Remediation: "Create a policy"},
		},
		Recommendations: models.RecommendationList{
			{Priority: 1, PolicyType: "Operations Policy", Title: "Establish or strengthen Operations Policy",
				Timeframe: models.TimeframeShortTerm, ControlCodes: []string{"OPS-1"}},
		},
		CompletedAt: &now,
	}

	store := &fakeStore{
		analyses: map[uuid.UUID]*models.AnalysisResult{result.ID: result},
		frameworks: map[uuid.UUID]*models.Framework{
			fwID: {ID: fwID, Code: "TST", Name: "Test Framework", Version: "1.0"},
		},
	}
	return store, result
}

func TestAnalysisPDF(t *testing.T) {
	store, result := completedResult()
	gen := NewGenerator(store, nil, nil)

	data, err := gen.AnalysisPDF(context.Background(), result.ID)
	if err != nil {
		t.Fatalf("AnalysisPDF: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Error("output does not look like a PDF")
	}
}

func TestGapsCSV(t *testing.T) {
	store, result := completedResult()
	gen := NewGenerator(store, nil, nil)

	data, err := gen.GapsCSV(context.Background(), result.ID)
	if err != nil {
		t.Fatalf("GapsCSV: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, want header + 1 gap", len(lines))
	}
	if !strings.HasPrefix(lines[0], "control_code,") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "OPS-1") || !strings.Contains(lines[1], "high") {
		t.Errorf("gap row = %q", lines[1])
	}
}

func TestCoverageCSV(t *testing.T) {
	store, result := completedResult()
	gen := NewGenerator(store, nil, nil)

	data, err := gen.CoverageCSV(context.Background(), result.ID)
	if err != nil {
		t.Fatalf("CoverageCSV: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("csv lines = %d, want header + 2 categories", len(lines))
	}
	if !strings.Contains(lines[1], "GOV") || !strings.Contains(lines[1], "75.0") {
		t.Errorf("GOV row = %q", lines[1])
	}
}

func TestReportsRejectNonCompleted(t *testing.T) {
	store, result := completedResult()
	result.Status = models.AnalysisStatusRunning
	gen := NewGenerator(store, nil, nil)

	if _, err := gen.AnalysisPDF(context.Background(), result.ID); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("AnalysisPDF err = %v, want ErrNotCompleted", err)
	}
	if _, err := gen.GapsCSV(context.Background(), result.ID); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("GapsCSV err = %v, want ErrNotCompleted", err)
	}
}
