package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/framework"
	"github.com/policyforge/comply/internal/models"
)

func (s *Store) GetFramework(ctx context.Context, id uuid.UUID) (*models.Framework, error) {
	var fw models.Framework
	query := `SELECT * FROM frameworks WHERE id = $1`
	err := s.db.GetContext(ctx, &fw, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &fw, err
}

func (s *Store) GetFrameworkByCode(ctx context.Context, code string) (*models.Framework, error) {
	var fw models.Framework
	query := `SELECT * FROM frameworks WHERE code = $1`
	err := s.db.GetContext(ctx, &fw, query, code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &fw, err
}

func (s *Store) ListFrameworks(ctx context.Context, activeOnly bool) ([]models.Framework, error) {
	query := `SELECT * FROM frameworks`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY code`

	var frameworks []models.Framework
	err := s.db.SelectContext(ctx, &frameworks, query)
	return frameworks, err
}

func (s *Store) SetFrameworkActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE frameworks SET active = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, active, time.Now(), id)
	return err
}

// ImportFramework persists a parsed framework definition in one
// transaction. A framework with the same code must not already exist.
func (s *Store) ImportFramework(ctx context.Context, fw models.Framework, categories []models.Category, controls []models.Control) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO frameworks (id, code, name, version, description, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, fw.ID, fw.Code, fw.Name, fw.Version, fw.Description, fw.Active, now)
	if err != nil {
		return fmt.Errorf("inserting framework %s: %w", fw.Code, err)
	}

	for _, cat := range categories {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO categories (id, framework_id, parent_id, code, name, sort_order, high_priority)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, cat.ID, cat.FrameworkID, cat.ParentID, cat.Code, cat.Name, cat.SortOrder, cat.HighPriority)
		if err != nil {
			return fmt.Errorf("inserting category %s: %w", cat.Code, err)
		}
	}

	for _, ctl := range controls {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO controls (id, category_id, code, title, description, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, ctl.ID, ctl.CategoryID, ctl.Code, ctl.Title, ctl.Description, ctl.SortOrder)
		if err != nil {
			return fmt.Errorf("inserting control %s: %w", ctl.Code, err)
		}
	}

	return tx.Commit()
}

func (s *Store) ListCategories(ctx context.Context, frameworkID uuid.UUID) ([]models.Category, error) {
	var categories []models.Category
	query := `SELECT * FROM categories WHERE framework_id = $1 ORDER BY sort_order, code`
	err := s.db.SelectContext(ctx, &categories, query, frameworkID)
	return categories, err
}

func (s *Store) ListControls(ctx context.Context, frameworkID uuid.UUID) ([]models.Control, error) {
	var controls []models.Control
	query := `
		SELECT c.* FROM controls c
		JOIN categories cat ON cat.id = c.category_id
		WHERE cat.framework_id = $1
		ORDER BY c.sort_order, c.code
	`
	err := s.db.SelectContext(ctx, &controls, query, frameworkID)
	return controls, err
}

func (s *Store) GetControl(ctx context.Context, id uuid.UUID) (*models.Control, error) {
	var ctl models.Control
	query := `SELECT * FROM controls WHERE id = $1`
	err := s.db.GetContext(ctx, &ctl, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &ctl, err
}

// LoadFrameworkModel builds the in-memory model for one framework.
// Analysis runs go through this method; it fails with ErrNotFound
// rather than returning an empty model for an unknown id.
func (s *Store) LoadFrameworkModel(ctx context.Context, frameworkID uuid.UUID) (*framework.Model, error) {
	fw, err := s.GetFramework(ctx, frameworkID)
	if err != nil {
		return nil, fmt.Errorf("loading framework %s: %w", frameworkID, err)
	}
	if fw == nil {
		return nil, fmt.Errorf("framework %s: %w", frameworkID, ErrNotFound)
	}

	categories, err := s.ListCategories(ctx, frameworkID)
	if err != nil {
		return nil, fmt.Errorf("loading categories for %s: %w", fw.Code, err)
	}
	controls, err := s.ListControls(ctx, frameworkID)
	if err != nil {
		return nil, fmt.Errorf("loading controls for %s: %w", fw.Code, err)
	}

	return framework.New(*fw, categories, controls)
}

func (s *Store) CreateMapping(ctx context.Context, m *models.PolicyControlMapping) error {
	query := `
		INSERT INTO policy_control_mappings (id, policy_id, control_id, coverage_level, verified, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (policy_id, control_id) DO UPDATE SET
			coverage_level = EXCLUDED.coverage_level,
			verified = EXCLUDED.verified,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
	`
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	if m.Coverage == "" {
		m.Coverage = models.CoverageNone
	}

	_, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.PolicyID,
		m.ControlID,
		m.Coverage,
		m.Verified,
		m.Notes,
		m.CreatedAt,
	)
	return err
}

func (s *Store) DeleteMapping(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM policy_control_mappings WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

func (s *Store) ListMappingsForPolicy(ctx context.Context, policyID uuid.UUID) ([]models.PolicyControlMapping, error) {
	var mappings []models.PolicyControlMapping
	query := `SELECT * FROM policy_control_mappings WHERE policy_id = $1 ORDER BY created_at`
	err := s.db.SelectContext(ctx, &mappings, query, policyID)
	return mappings, err
}

// ListMappingsForFramework returns every mapping whose control belongs
// to the framework, regardless of owning policy or organization.
func (s *Store) ListMappingsForFramework(ctx context.Context, frameworkID uuid.UUID) ([]models.PolicyControlMapping, error) {
	var mappings []models.PolicyControlMapping
	query := `
		SELECT m.* FROM policy_control_mappings m
		JOIN controls c ON c.id = m.control_id
		JOIN categories cat ON cat.id = c.category_id
		WHERE cat.framework_id = $1
		ORDER BY m.created_at
	`
	err := s.db.SelectContext(ctx, &mappings, query, frameworkID)
	return mappings, err
}
