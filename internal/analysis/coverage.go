// Package analysis implements the compliance analysis engine: coverage
// aggregation, gap detection and recommendation synthesis as pure
// functions over a framework model, plus the orchestrator that runs them
// as a background job.
package analysis

import (
	"errors"
	"math"

	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/framework"
	"github.com/policyforge/comply/internal/models"
)

// ErrNoControls marks a framework whose score is undefined because it
// contains no controls at all.
var ErrNoControls = errors.New("framework has no controls")

// Coverage is the aggregated result of scoring one framework against a
// mapping set.
type Coverage struct {
	TotalControls    int
	FullyCovered     int
	PartiallyCovered int
	NotCovered       int
	OverallScore     float64
	CategoryScores   []models.CategoryScore
}

// EffectiveCoverage reduces a mapping set to the best coverage level per
// control. Controls absent from the result have effective coverage none.
// The result depends only on the set of mappings, not their order.
func EffectiveCoverage(mappings []models.PolicyControlMapping) map[uuid.UUID]models.CoverageLevel {
	effective := make(map[uuid.UUID]models.CoverageLevel, len(mappings))
	for _, m := range mappings {
		if cur, ok := effective[m.ControlID]; ok {
			effective[m.ControlID] = models.MaxCoverage(cur, m.Coverage)
		} else {
			effective[m.ControlID] = m.Coverage
		}
	}
	return effective
}

// Aggregate scores every category and the framework overall.
//
// A category score is (full + 0.5*partial) / total * 100 rounded to one
// decimal. Categories with zero controls are omitted: their score is
// undefined, not zero. The overall score applies the same formula across
// all controls rather than averaging category scores, so large and small
// categories carry their natural weight.
func Aggregate(m *framework.Model, mappings []models.PolicyControlMapping) (*Coverage, error) {
	if m.TotalControls() == 0 {
		return nil, ErrNoControls
	}

	effective := EffectiveCoverage(mappings)

	cov := &Coverage{TotalControls: m.TotalControls()}
	for _, cat := range m.Categories() {
		if len(cat.Controls) == 0 {
			continue
		}

		cs := models.CategoryScore{
			CategoryID:    cat.ID,
			CategoryCode:  cat.Code,
			CategoryName:  cat.Name,
			TotalControls: len(cat.Controls),
		}
		for _, ctl := range cat.Controls {
			switch effective[ctl.ID] {
			case models.CoverageFull:
				cs.FullyCovered++
			case models.CoveragePartial:
				cs.PartiallyCovered++
			}
		}
		cs.NotCovered = cs.TotalControls - cs.FullyCovered - cs.PartiallyCovered
		cs.Score = score(cs.FullyCovered, cs.PartiallyCovered, cs.TotalControls)

		cov.FullyCovered += cs.FullyCovered
		cov.PartiallyCovered += cs.PartiallyCovered
		cov.NotCovered += cs.NotCovered
		cov.CategoryScores = append(cov.CategoryScores, cs)
	}

	cov.OverallScore = score(cov.FullyCovered, cov.PartiallyCovered, cov.TotalControls)
	return cov, nil
}

// score is the shared weighted-coverage formula, rounded to one decimal.
func score(full, partial, total int) float64 {
	raw := (float64(full) + 0.5*float64(partial)) / float64(total) * 100
	return math.Round(raw*10) / 10
}
