package framework

import (
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/policyforge/comply/internal/models"
)

// Definition is the YAML shape used to ship framework content. Sort
// orders are assigned from document order; ids are generated at import.
type Definition struct {
	Code        string               `yaml:"code"`
	Name        string               `yaml:"name"`
	Version     string               `yaml:"version"`
	Description string               `yaml:"description"`
	Categories  []CategoryDefinition `yaml:"categories"`
}

type CategoryDefinition struct {
	Code         string               `yaml:"code"`
	Name         string               `yaml:"name"`
	HighPriority bool                 `yaml:"high_priority"`
	Categories   []CategoryDefinition `yaml:"categories"`
	Controls     []ControlDefinition  `yaml:"controls"`
}

type ControlDefinition struct {
	Code        string `yaml:"code"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// Parse decodes a YAML framework definition and flattens it into rows
// ready for persistence. The returned rows always build a valid Model.
func Parse(data []byte) (models.Framework, []models.Category, []models.Control, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return models.Framework{}, nil, nil, fmt.Errorf("parsing framework definition: %w", err)
	}

	if def.Code == "" || def.Name == "" {
		return models.Framework{}, nil, nil, fmt.Errorf("framework definition requires code and name")
	}
	if len(def.Categories) == 0 {
		return models.Framework{}, nil, nil, fmt.Errorf("framework definition %s has no categories", def.Code)
	}

	fw := models.Framework{
		ID:          uuid.New(),
		Code:        def.Code,
		Name:        def.Name,
		Version:     def.Version,
		Description: def.Description,
		Active:      true,
	}

	var (
		categories []models.Category
		controls   []models.Control
		catOrder   int
	)

	var walk func(defs []CategoryDefinition, parent *uuid.UUID) error
	walk = func(defs []CategoryDefinition, parent *uuid.UUID) error {
		for _, cd := range defs {
			if cd.Code == "" {
				return fmt.Errorf("category under framework %s is missing a code", def.Code)
			}
			cat := models.Category{
				ID:           uuid.New(),
				FrameworkID:  fw.ID,
				ParentID:     parent,
				Code:         cd.Code,
				Name:         cd.Name,
				SortOrder:    catOrder,
				HighPriority: cd.HighPriority,
			}
			catOrder++
			categories = append(categories, cat)

			for i, ctl := range cd.Controls {
				if ctl.Code == "" {
					return fmt.Errorf("control under category %s is missing a code", cd.Code)
				}
				controls = append(controls, models.Control{
					ID:          uuid.New(),
					CategoryID:  cat.ID,
					Code:        ctl.Code,
					Title:       ctl.Title,
					Description: ctl.Description,
					SortOrder:   i,
				})
			}

			parentID := cat.ID
			if err := walk(cd.Categories, &parentID); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(def.Categories, nil); err != nil {
		return models.Framework{}, nil, nil, err
	}

	// Validate by building a model; import never persists rows that the
	// engine would later refuse to load.
	if _, err := New(fw, categories, controls); err != nil {
		return models.Framework{}, nil, nil, err
	}

	return fw, categories, controls, nil
}
