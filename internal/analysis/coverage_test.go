package analysis

import (
	"testing"

	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/framework"
	"github.com/policyforge/comply/internal/models"
)

// testModel builds a two-category framework used across the engine
// tests: GOV (high priority) with controls GOV-1 and GOV-2, OPS with
// control OPS-1.
func testModel(t *testing.T) (*framework.Model, map[string]uuid.UUID) {
	t.Helper()

	fw := models.Framework{ID: uuid.New(), Code: "TST", Name: "Test Framework"}
	ids := map[string]uuid.UUID{
		"GOV":   uuid.New(),
		"OPS":   uuid.New(),
		"GOV-1": uuid.New(),
		"GOV-2": uuid.New(),
		"OPS-1": uuid.New(),
	}

	categories := []models.Category{
		{ID: ids["GOV"], FrameworkID: fw.ID, Code: "GOV", Name: "Governance", SortOrder: 0, HighPriority: true},
		{ID: ids["OPS"], FrameworkID: fw.ID, Code: "OPS", Name: "Operations", SortOrder: 1},
	}
	controls := []models.Control{
		{ID: ids["GOV-1"], CategoryID: ids["GOV"], Code: "GOV-1", Title: "Policy governance", SortOrder: 0},
		{ID: ids["GOV-2"], CategoryID: ids["GOV"], Code: "GOV-2", Title: "Roles and responsibilities", SortOrder: 1},
		{ID: ids["OPS-1"], CategoryID: ids["OPS"], Code: "OPS-1", Title: "Operational procedures", SortOrder: 0},
	}

	m, err := framework.New(fw, categories, controls)
	if err != nil {
		t.Fatalf("building test model: %v", err)
	}
	return m, ids
}

func mapping(controlID uuid.UUID, cov models.CoverageLevel) models.PolicyControlMapping {
	return models.PolicyControlMapping{
		ID:        uuid.New(),
		PolicyID:  uuid.New(),
		ControlID: controlID,
		Coverage:  cov,
	}
}

func TestEffectiveCoverageTakesMax(t *testing.T) {
	controlID := uuid.New()
	mappings := []models.PolicyControlMapping{
		mapping(controlID, models.CoveragePartial),
		mapping(controlID, models.CoverageFull),
		mapping(controlID, models.CoverageNone),
	}

	effective := EffectiveCoverage(mappings)
	if effective[controlID] != models.CoverageFull {
		t.Errorf("effective coverage = %s, want full", effective[controlID])
	}
}

func TestAggregateScores(t *testing.T) {
	m, ids := testModel(t)
	mappings := []models.PolicyControlMapping{
		mapping(ids["GOV-1"], models.CoverageFull),
		mapping(ids["OPS-1"], models.CoveragePartial),
	}

	cov, err := Aggregate(m, mappings)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if cov.TotalControls != 3 || cov.FullyCovered != 1 || cov.PartiallyCovered != 1 || cov.NotCovered != 1 {
		t.Errorf("counts = %d/%d/%d/%d, want 3/1/1/1",
			cov.TotalControls, cov.FullyCovered, cov.PartiallyCovered, cov.NotCovered)
	}
	if cov.OverallScore != 50.0 {
		t.Errorf("overall score = %v, want 50.0", cov.OverallScore)
	}

	if len(cov.CategoryScores) != 2 {
		t.Fatalf("category scores = %d, want 2", len(cov.CategoryScores))
	}
	if cov.CategoryScores[0].CategoryCode != "GOV" || cov.CategoryScores[0].Score != 50.0 {
		t.Errorf("GOV score = %+v, want code GOV score 50.0", cov.CategoryScores[0])
	}
	if cov.CategoryScores[1].CategoryCode != "OPS" || cov.CategoryScores[1].Score != 50.0 {
		t.Errorf("OPS score = %+v, want code OPS score 50.0", cov.CategoryScores[1])
	}
}

func TestAggregateMappingOrderIrrelevant(t *testing.T) {
	m, ids := testModel(t)
	forward := []models.PolicyControlMapping{
		mapping(ids["GOV-1"], models.CoveragePartial),
		mapping(ids["GOV-1"], models.CoverageFull),
		mapping(ids["OPS-1"], models.CoveragePartial),
	}
	reversed := []models.PolicyControlMapping{forward[2], forward[1], forward[0]}

	a, err := Aggregate(m, forward)
	if err != nil {
		t.Fatalf("Aggregate forward: %v", err)
	}
	b, err := Aggregate(m, reversed)
	if err != nil {
		t.Fatalf("Aggregate reversed: %v", err)
	}
	if a.OverallScore != b.OverallScore || a.FullyCovered != b.FullyCovered {
		t.Errorf("order changed the result: %+v vs %+v", a, b)
	}
}

func TestAggregateRounding(t *testing.T) {
	fw := models.Framework{ID: uuid.New(), Code: "R", Name: "Rounding"}
	catID := uuid.New()
	ctlIDs := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	controls := make([]models.Control, len(ctlIDs))
	for i, id := range ctlIDs {
		controls[i] = models.Control{ID: id, CategoryID: catID, Code: "C-" + string(rune('1'+i)), SortOrder: i}
	}
	m, err := framework.New(fw, []models.Category{{ID: catID, FrameworkID: fw.ID, Code: "C", Name: "Cat"}}, controls)
	if err != nil {
		t.Fatalf("building model: %v", err)
	}

	// 1 full of 3 controls is 33.333..., rounds to 33.3.
	cov, err := Aggregate(m, []models.PolicyControlMapping{mapping(ctlIDs[0], models.CoverageFull)})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if cov.OverallScore != 33.3 {
		t.Errorf("overall score = %v, want 33.3", cov.OverallScore)
	}
}

func TestAggregateOmitsEmptyCategories(t *testing.T) {
	fw := models.Framework{ID: uuid.New(), Code: "E", Name: "Empty"}
	full := uuid.New()
	empty := uuid.New()
	ctl := uuid.New()
	m, err := framework.New(fw,
		[]models.Category{
			{ID: full, FrameworkID: fw.ID, Code: "A", Name: "Has controls", SortOrder: 0},
			{ID: empty, FrameworkID: fw.ID, Code: "B", Name: "No controls", SortOrder: 1},
		},
		[]models.Control{{ID: ctl, CategoryID: full, Code: "A-1"}},
	)
	if err != nil {
		t.Fatalf("building model: %v", err)
	}

	cov, err := Aggregate(m, nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(cov.CategoryScores) != 1 || cov.CategoryScores[0].CategoryCode != "A" {
		t.Errorf("category scores = %+v, want only A", cov.CategoryScores)
	}
}

func TestAggregateNoControls(t *testing.T) {
	fw := models.Framework{ID: uuid.New(), Code: "N", Name: "None"}
	m, err := framework.New(fw, []models.Category{{ID: uuid.New(), FrameworkID: fw.ID, Code: "X", Name: "X"}}, nil)
	if err != nil {
		t.Fatalf("building model: %v", err)
	}

	if _, err := Aggregate(m, nil); err != ErrNoControls {
		t.Errorf("err = %v, want ErrNoControls", err)
	}
}
