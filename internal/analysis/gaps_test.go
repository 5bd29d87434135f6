package analysis

import (
	"testing"

	"github.com/policyforge/comply/internal/models"
)

func TestDetectGapsSeverity(t *testing.T) {
	m, ids := testModel(t)
	mappings := []models.PolicyControlMapping{
		mapping(ids["GOV-1"], models.CoverageFull),
		mapping(ids["GOV-2"], models.CoveragePartial),
	}

	gaps := DetectGaps(m, mappings)
	if len(gaps) != 2 {
		t.Fatalf("gaps = %d, want 2", len(gaps))
	}

	// OPS-1 is uncovered in a normal category: high, sorted first.
	if gaps[0].ControlCode != "OPS-1" || gaps[0].Severity != models.GapSeverityHigh {
		t.Errorf("gaps[0] = %s/%s, want OPS-1/high", gaps[0].ControlCode, gaps[0].Severity)
	}
	// GOV-2 is partially covered: medium, regardless of category priority.
	if gaps[1].ControlCode != "GOV-2" || gaps[1].Severity != models.GapSeverityMedium {
		t.Errorf("gaps[1] = %s/%s, want GOV-2/medium", gaps[1].ControlCode, gaps[1].Severity)
	}
}

func TestDetectGapsHighPriorityEscalation(t *testing.T) {
	m, _ := testModel(t)

	// GOV is high priority, so its uncovered controls are critical.
	gaps := DetectGaps(m, nil)
	if len(gaps) != 3 {
		t.Fatalf("gaps = %d, want 3", len(gaps))
	}
	if gaps[0].ControlCode != "GOV-1" || gaps[0].Severity != models.GapSeverityCritical {
		t.Errorf("gaps[0] = %s/%s, want GOV-1/critical", gaps[0].ControlCode, gaps[0].Severity)
	}
	if gaps[1].ControlCode != "GOV-2" || gaps[1].Severity != models.GapSeverityCritical {
		t.Errorf("gaps[1] = %s/%s, want GOV-2/critical", gaps[1].ControlCode, gaps[1].Severity)
	}
	if gaps[2].ControlCode != "OPS-1" || gaps[2].Severity != models.GapSeverityHigh {
		t.Errorf("gaps[2] = %s/%s, want OPS-1/high", gaps[2].ControlCode, gaps[2].Severity)
	}
	// Unmapped controls report coverage none, never the empty string.
	for _, g := range gaps {
		if g.Coverage != models.CoverageNone {
			t.Errorf("gap %s coverage = %q, want %q", g.ControlCode, g.Coverage, models.CoverageNone)
		}
	}
}

func TestDetectGapsFullyCoveredFramework(t *testing.T) {
	m, ids := testModel(t)
	mappings := []models.PolicyControlMapping{
		mapping(ids["GOV-1"], models.CoverageFull),
		mapping(ids["GOV-2"], models.CoverageFull),
		mapping(ids["OPS-1"], models.CoverageFull),
	}

	if gaps := DetectGaps(m, mappings); len(gaps) != 0 {
		t.Errorf("gaps = %d, want 0", len(gaps))
	}
}

func TestSuggestedPolicyType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Access Management", "Access Control Policy"},
		{"Incident Handling", "Incident Response Policy"},
		{"Data Privacy", "Data Protection Policy"},
		{"Cryptographic Controls", "Encryption Policy"},
		{"Third-Party Management", "Third-Party Risk Policy"},
		{"Physical Security", "Physical Security Policy"},
	}
	for _, tt := range tests {
		if got := suggestedPolicyType(tt.name); got != tt.want {
			t.Errorf("suggestedPolicyType(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
