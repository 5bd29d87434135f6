package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/framework"
	"github.com/policyforge/comply/internal/models"
)

// policyTypeKeywords maps category-name keywords to a canonical policy
// type for gap suggestions. First match wins; unmatched categories fall
// back to "<category name> Policy".
var policyTypeKeywords = []struct {
	keyword    string
	policyType string
}{
	{"access", "Access Control Policy"},
	{"incident", "Incident Response Policy"},
	{"risk", "Risk Management Policy"},
	{"vendor", "Third-Party Risk Policy"},
	{"third", "Third-Party Risk Policy"},
	{"privacy", "Data Protection Policy"},
	{"data", "Data Protection Policy"},
	{"change", "Change Management Policy"},
	{"continuity", "Business Continuity Policy"},
	{"availability", "Business Continuity Policy"},
	{"crypt", "Encryption Policy"},
	{"encrypt", "Encryption Policy"},
	{"train", "Security Awareness Policy"},
	{"awareness", "Security Awareness Policy"},
}

// DetectGaps lists every control with effective coverage below full.
//
// Uncovered controls are high severity, escalated to critical when the
// owning category is flagged high priority. Partially covered controls
// are medium. The result is ordered severity first, then category and
// control order within the framework, so repeated runs over the same
// inputs produce identical lists.
func DetectGaps(m *framework.Model, mappings []models.PolicyControlMapping) []models.Gap {
	effective := EffectiveCoverage(mappings)
	return detectGaps(m, effective)
}

func detectGaps(m *framework.Model, effective map[uuid.UUID]models.CoverageLevel) []models.Gap {
	var gaps []models.Gap
	for _, cat := range m.Categories() {
		for _, ctl := range cat.Controls {
			// A control absent from the map has no mappings at all; its
			// effective coverage is none, not the zero value.
			cov, ok := effective[ctl.ID]
			if !ok {
				cov = models.CoverageNone
			}
			if cov == models.CoverageFull {
				continue
			}
			gaps = append(gaps, buildGap(cat, ctl, cov))
		}
	}

	// Stable sort keeps framework order inside each severity band.
	sort.SliceStable(gaps, func(i, j int) bool {
		return gaps[i].Severity.Rank() > gaps[j].Severity.Rank()
	})
	return gaps
}

func buildGap(cat framework.Category, ctl models.Control, cov models.CoverageLevel) models.Gap {
	gap := models.Gap{
		ControlID:           ctl.ID,
		ControlCode:         ctl.Code,
		ControlTitle:        ctl.Title,
		CategoryCode:        cat.Code,
		Coverage:            cov,
		SuggestedPolicyType: suggestedPolicyType(cat.Name),
	}

	if cov == models.CoveragePartial {
		gap.Severity = models.GapSeverityMedium
		gap.Description = fmt.Sprintf("Control %s (%s) is only partially covered by existing policies.", ctl.Code, ctl.Title)
		gap.Remediation = fmt.Sprintf("Extend the mapped policies to fully address %s, or map an additional policy that closes the remainder.", ctl.Code)
		return gap
	}

	gap.Severity = models.GapSeverityHigh
	if cat.HighPriority {
		gap.Severity = models.GapSeverityCritical
	}
	gap.Description = fmt.Sprintf("No policy addresses control %s (%s).", ctl.Code, ctl.Title)
	gap.Remediation = fmt.Sprintf("Create or map a policy covering %s in the %s category.", ctl.Code, cat.Name)
	return gap
}

func suggestedPolicyType(categoryName string) string {
	lower := strings.ToLower(categoryName)
	for _, kw := range policyTypeKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.policyType
		}
	}
	return categoryName + " Policy"
}
