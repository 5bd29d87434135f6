package analysis

import (
	"fmt"
	"sort"

	"github.com/policyforge/comply/internal/models"
)

// DefaultRecommendationCap bounds the recommendation list when the
// configuration does not say otherwise.
const DefaultRecommendationCap = 10

// Synthesize groups gaps by suggested policy type and turns each group
// with at least one high or critical gap into a recommendation. Groups
// made up entirely of medium and low gaps are noise at the action level
// and are dropped.
//
// Timeframe is immediate when the group contains a critical gap, short
// term when its worst gap is high, medium term otherwise. The list is
// ordered by timeframe, then gap count descending, then policy type,
// and priorities are assigned 1..N after sorting. When the cap cuts the
// list, whole groups are dropped rather than trimming a group's gaps.
func Synthesize(gaps []models.Gap, limit int) []models.Recommendation {
	if limit <= 0 {
		limit = DefaultRecommendationCap
	}

	type group struct {
		policyType string
		gaps       []models.Gap
		critical   int
		high       int
	}

	byType := make(map[string]*group)
	var order []string
	for _, g := range gaps {
		grp, ok := byType[g.SuggestedPolicyType]
		if !ok {
			grp = &group{policyType: g.SuggestedPolicyType}
			byType[g.SuggestedPolicyType] = grp
			order = append(order, g.SuggestedPolicyType)
		}
		grp.gaps = append(grp.gaps, g)
		switch g.Severity {
		case models.GapSeverityCritical:
			grp.critical++
		case models.GapSeverityHigh:
			grp.high++
		}
	}

	var recs []models.Recommendation
	for _, pt := range order {
		grp := byType[pt]
		if grp.critical == 0 && grp.high == 0 {
			continue
		}

		timeframe := models.TimeframeMediumTerm
		switch {
		case grp.critical > 0:
			timeframe = models.TimeframeImmediate
		case grp.high > 0:
			timeframe = models.TimeframeShortTerm
		}

		codes := make([]string, 0, len(grp.gaps))
		for _, g := range grp.gaps {
			codes = append(codes, g.ControlCode)
		}

		recs = append(recs, models.Recommendation{
			PolicyType:   grp.policyType,
			Title:        fmt.Sprintf("Establish or strengthen %s", grp.policyType),
			Description:  describeGroup(grp.policyType, len(grp.gaps), grp.critical, grp.high),
			Timeframe:    timeframe,
			ControlCodes: codes,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Timeframe.Rank() != recs[j].Timeframe.Rank() {
			return recs[i].Timeframe.Rank() < recs[j].Timeframe.Rank()
		}
		if len(recs[i].ControlCodes) != len(recs[j].ControlCodes) {
			return len(recs[i].ControlCodes) > len(recs[j].ControlCodes)
		}
		return recs[i].PolicyType < recs[j].PolicyType
	})

	if len(recs) > limit {
		recs = recs[:limit]
	}
	for i := range recs {
		recs[i].Priority = i + 1
	}
	return recs
}

func describeGroup(policyType string, total, critical, high int) string {
	switch {
	case critical > 0:
		return fmt.Sprintf("%d control gap(s) map to %s, including %d in high-priority categories with no coverage at all.", total, policyType, critical)
	case high > 0:
		return fmt.Sprintf("%d control gap(s) map to %s, including %d with no coverage.", total, policyType, high)
	default:
		return fmt.Sprintf("%d control gap(s) map to %s.", total, policyType)
	}
}
