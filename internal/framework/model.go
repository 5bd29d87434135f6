// Package framework holds the in-memory, read-only representation of a
// compliance framework used by the analysis engine. Categories live in an
// arena addressed by id; parent/child links and the control index are
// derived maps built once at load, so a model can be walked without
// chasing object pointers and serialized without cycles.
package framework

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/models"
)

var (
	ErrCategoryCycle  = errors.New("category hierarchy contains a cycle")
	ErrUnknownParent  = errors.New("category references unknown parent")
	ErrDuplicateID    = errors.New("duplicate id in framework definition")
	ErrUnknownControl = errors.New("control references unknown category")
)

// Category is one arena entry: the category plus its directly-owned
// controls in sort order. Controls of descendant categories are not
// included here.
type Category struct {
	models.Category
	Controls []models.Control
}

// ControlRef locates a control inside a model.
type ControlRef struct {
	Control  models.Control
	Category *Category
}

// Model is an immutable snapshot of one framework. Build it with New and
// treat it as read-only afterwards; analyses share models freely across
// goroutines.
type Model struct {
	Framework models.Framework

	arena    []Category
	byID     map[uuid.UUID]int
	children map[uuid.UUID][]uuid.UUID
	controls map[uuid.UUID]ControlRef
	total    int
}

// New builds a model from raw rows. Categories are ordered by sort order
// (code as tie-break), controls likewise within their category. The
// category tree is validated: every parent must exist and no walk from a
// category to the root may revisit a node.
func New(fw models.Framework, categories []models.Category, controls []models.Control) (*Model, error) {
	m := &Model{
		Framework: fw,
		arena:     make([]Category, 0, len(categories)),
		byID:      make(map[uuid.UUID]int, len(categories)),
		children:  make(map[uuid.UUID][]uuid.UUID),
		controls:  make(map[uuid.UUID]ControlRef, len(controls)),
	}

	ordered := make([]models.Category, len(categories))
	copy(ordered, categories)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].SortOrder != ordered[j].SortOrder {
			return ordered[i].SortOrder < ordered[j].SortOrder
		}
		return ordered[i].Code < ordered[j].Code
	})

	for _, c := range ordered {
		if _, exists := m.byID[c.ID]; exists {
			return nil, fmt.Errorf("%w: category %s", ErrDuplicateID, c.Code)
		}
		m.byID[c.ID] = len(m.arena)
		m.arena = append(m.arena, Category{Category: c})
	}

	for _, c := range ordered {
		if c.ParentID == nil {
			continue
		}
		if _, ok := m.byID[*c.ParentID]; !ok {
			return nil, fmt.Errorf("%w: category %s", ErrUnknownParent, c.Code)
		}
		m.children[*c.ParentID] = append(m.children[*c.ParentID], c.ID)
	}

	if err := m.checkAcyclic(); err != nil {
		return nil, err
	}

	orderedControls := make([]models.Control, len(controls))
	copy(orderedControls, controls)
	sort.SliceStable(orderedControls, func(i, j int) bool {
		if orderedControls[i].SortOrder != orderedControls[j].SortOrder {
			return orderedControls[i].SortOrder < orderedControls[j].SortOrder
		}
		return orderedControls[i].Code < orderedControls[j].Code
	})

	for _, ctl := range orderedControls {
		idx, ok := m.byID[ctl.CategoryID]
		if !ok {
			return nil, fmt.Errorf("%w: control %s", ErrUnknownControl, ctl.Code)
		}
		if _, dup := m.controls[ctl.ID]; dup {
			return nil, fmt.Errorf("%w: control %s", ErrDuplicateID, ctl.Code)
		}
		m.arena[idx].Controls = append(m.arena[idx].Controls, ctl)
		m.total++
	}

	// Fill the control index after the arena stopped growing so the
	// category pointers stay valid.
	for i := range m.arena {
		cat := &m.arena[i]
		for _, ctl := range cat.Controls {
			m.controls[ctl.ID] = ControlRef{Control: ctl, Category: cat}
		}
	}

	return m, nil
}

func (m *Model) checkAcyclic() error {
	for start := range m.byID {
		seen := map[uuid.UUID]bool{start: true}
		cur := start
		for {
			parent := m.arena[m.byID[cur]].ParentID
			if parent == nil {
				break
			}
			if seen[*parent] {
				return fmt.Errorf("%w: via category %s", ErrCategoryCycle, m.arena[m.byID[start]].Code)
			}
			seen[*parent] = true
			cur = *parent
		}
	}
	return nil
}

// Categories returns all categories in framework sort order.
func (m *Model) Categories() []Category {
	return m.arena
}

// Category looks up one category by id.
func (m *Model) Category(id uuid.UUID) (*Category, bool) {
	idx, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return &m.arena[idx], true
}

// Children returns the ids of a category's direct children, in the same
// order as Categories.
func (m *Model) Children(id uuid.UUID) []uuid.UUID {
	return m.children[id]
}

// Control resolves a control id to the control and its owning category.
func (m *Model) Control(id uuid.UUID) (ControlRef, bool) {
	ref, ok := m.controls[id]
	return ref, ok
}

// TotalControls counts controls across every category.
func (m *Model) TotalControls() int {
	return m.total
}

// SubtreeControls counts controls in a category and all its descendants.
// Rollup across the hierarchy is always explicit; a parent's own control
// list never includes descendants.
func (m *Model) SubtreeControls(id uuid.UUID) int {
	idx, ok := m.byID[id]
	if !ok {
		return 0
	}
	n := len(m.arena[idx].Controls)
	for _, child := range m.children[id] {
		n += m.SubtreeControls(child)
	}
	return n
}
