package framework

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/models"
)

func TestNewOrdersCategoriesAndControls(t *testing.T) {
	fw := models.Framework{ID: uuid.New(), Code: "ORD", Name: "Ordering"}
	catA := uuid.New()
	catB := uuid.New()

	// Rows arrive out of order; the model orders by sort order, code on ties.
	categories := []models.Category{
		{ID: catB, FrameworkID: fw.ID, Code: "B", Name: "Second", SortOrder: 1},
		{ID: catA, FrameworkID: fw.ID, Code: "A", Name: "First", SortOrder: 0},
	}
	controls := []models.Control{
		{ID: uuid.New(), CategoryID: catA, Code: "A-2", SortOrder: 1},
		{ID: uuid.New(), CategoryID: catA, Code: "A-1", SortOrder: 0},
		{ID: uuid.New(), CategoryID: catB, Code: "B-1", SortOrder: 0},
	}

	m, err := New(fw, categories, controls)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cats := m.Categories()
	if cats[0].Code != "A" || cats[1].Code != "B" {
		t.Errorf("category order = %s, %s; want A, B", cats[0].Code, cats[1].Code)
	}
	if cats[0].Controls[0].Code != "A-1" || cats[0].Controls[1].Code != "A-2" {
		t.Errorf("control order in A = %s, %s; want A-1, A-2",
			cats[0].Controls[0].Code, cats[0].Controls[1].Code)
	}
	if m.TotalControls() != 3 {
		t.Errorf("TotalControls = %d, want 3", m.TotalControls())
	}
}

func TestNewRejectsUnknownParent(t *testing.T) {
	fw := models.Framework{ID: uuid.New(), Code: "P", Name: "Parents"}
	missing := uuid.New()
	categories := []models.Category{
		{ID: uuid.New(), FrameworkID: fw.ID, ParentID: &missing, Code: "ORPHAN", Name: "Orphan"},
	}

	if _, err := New(fw, categories, nil); !errors.Is(err, ErrUnknownParent) {
		t.Errorf("err = %v, want ErrUnknownParent", err)
	}
}

func TestNewRejectsCycle(t *testing.T) {
	fw := models.Framework{ID: uuid.New(), Code: "C", Name: "Cycle"}
	a := uuid.New()
	b := uuid.New()
	categories := []models.Category{
		{ID: a, FrameworkID: fw.ID, ParentID: &b, Code: "A", Name: "A"},
		{ID: b, FrameworkID: fw.ID, ParentID: &a, Code: "B", Name: "B"},
	}

	if _, err := New(fw, categories, nil); !errors.Is(err, ErrCategoryCycle) {
		t.Errorf("err = %v, want ErrCategoryCycle", err)
	}
}

func TestNewRejectsControlWithUnknownCategory(t *testing.T) {
	fw := models.Framework{ID: uuid.New(), Code: "U", Name: "Unknown"}
	controls := []models.Control{
		{ID: uuid.New(), CategoryID: uuid.New(), Code: "X-1"},
	}

	if _, err := New(fw, nil, controls); !errors.Is(err, ErrUnknownControl) {
		t.Errorf("err = %v, want ErrUnknownControl", err)
	}
}

func TestControlLookup(t *testing.T) {
	fw := models.Framework{ID: uuid.New(), Code: "L", Name: "Lookup"}
	catID := uuid.New()
	ctlID := uuid.New()
	m, err := New(fw,
		[]models.Category{{ID: catID, FrameworkID: fw.ID, Code: "CAT", Name: "Category"}},
		[]models.Control{{ID: ctlID, CategoryID: catID, Code: "CAT-1"}},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ref, ok := m.Control(ctlID)
	if !ok {
		t.Fatal("Control lookup failed")
	}
	if ref.Control.Code != "CAT-1" || ref.Category.Code != "CAT" {
		t.Errorf("ref = %s in %s, want CAT-1 in CAT", ref.Control.Code, ref.Category.Code)
	}

	if _, ok := m.Control(uuid.New()); ok {
		t.Error("lookup of unknown control succeeded")
	}
}

func TestSubtreeControls(t *testing.T) {
	fw := models.Framework{ID: uuid.New(), Code: "S", Name: "Subtree"}
	parent := uuid.New()
	child := uuid.New()
	categories := []models.Category{
		{ID: parent, FrameworkID: fw.ID, Code: "P", Name: "Parent", SortOrder: 0},
		{ID: child, FrameworkID: fw.ID, ParentID: &parent, Code: "P.1", Name: "Child", SortOrder: 1},
	}
	controls := []models.Control{
		{ID: uuid.New(), CategoryID: parent, Code: "P-1"},
		{ID: uuid.New(), CategoryID: child, Code: "P.1-1"},
		{ID: uuid.New(), CategoryID: child, Code: "P.1-2"},
	}

	m, err := New(fw, categories, controls)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got, ok := m.Category(parent); !ok || len(got.Controls) != 1 {
		t.Errorf("parent own controls = %d, want 1", len(got.Controls))
	}
	if n := m.SubtreeControls(parent); n != 3 {
		t.Errorf("SubtreeControls(parent) = %d, want 3", n)
	}
	if n := m.SubtreeControls(child); n != 2 {
		t.Errorf("SubtreeControls(child) = %d, want 2", n)
	}
}
