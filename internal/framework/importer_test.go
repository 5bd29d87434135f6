package framework

import (
	"testing"
)

const sampleDefinition = `
code: TSF
name: Test Security Framework
version: "1.0"
description: Fixture framework
categories:
  - code: GOV
    name: Governance
    high_priority: true
    controls:
      - code: GOV-1
        title: Governance program
    categories:
      - code: GOV.P
        name: Policy Management
        controls:
          - code: GOV.P-1
            title: Policy lifecycle
          - code: GOV.P-2
            title: Policy review
  - code: OPS
    name: Operations
    controls:
      - code: OPS-1
        title: Operational procedures
`

func TestParseDefinition(t *testing.T) {
	fw, categories, controls, err := Parse([]byte(sampleDefinition))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if fw.Code != "TSF" || fw.Version != "1.0" || !fw.Active {
		t.Errorf("framework = %+v, want TSF v1.0 active", fw)
	}
	if len(categories) != 3 {
		t.Fatalf("categories = %d, want 3", len(categories))
	}
	if len(controls) != 4 {
		t.Fatalf("controls = %d, want 4", len(controls))
	}

	// Document order: GOV, GOV.P (child), OPS.
	if categories[0].Code != "GOV" || categories[1].Code != "GOV.P" || categories[2].Code != "OPS" {
		t.Errorf("category order = %s, %s, %s", categories[0].Code, categories[1].Code, categories[2].Code)
	}
	if !categories[0].HighPriority || categories[1].HighPriority {
		t.Error("high_priority flag not carried through")
	}
	if categories[1].ParentID == nil || *categories[1].ParentID != categories[0].ID {
		t.Error("GOV.P should be a child of GOV")
	}
	if categories[2].ParentID != nil {
		t.Error("OPS should be top level")
	}

	// Parse output always builds a valid model.
	m, err := New(fw, categories, controls)
	if err != nil {
		t.Fatalf("New on parsed rows: %v", err)
	}
	if m.TotalControls() != 4 {
		t.Errorf("TotalControls = %d, want 4", m.TotalControls())
	}
}

func TestParseRejectsMissingCode(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no framework code", "name: X\ncategories:\n  - code: A\n    name: A"},
		{"no categories", "code: X\nname: X"},
		{"category without code", "code: X\nname: X\ncategories:\n  - name: A"},
		{"control without code", "code: X\nname: X\ncategories:\n  - code: A\n    name: A\n    controls:\n      - title: T"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("Parse accepted an invalid definition")
			}
		})
	}
}
