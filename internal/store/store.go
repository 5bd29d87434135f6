// Package store is the PostgreSQL persistence layer. Queries use sqlx
// with db struct tags on the model types; Get methods return (nil, nil)
// when no row matches.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/policyforge/comply/internal/models"
)

// ErrNotFound marks lookups that must fail loudly, such as loading a
// framework model for an analysis run.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) CreateOrganization(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (id, name, slug, industry, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	org.ID = uuid.New()
	org.CreatedAt = time.Now()
	org.UpdatedAt = org.CreatedAt

	_, err := s.db.ExecContext(ctx, query,
		org.ID,
		org.Name,
		org.Slug,
		org.Industry,
		org.CreatedAt,
		org.UpdatedAt,
	)
	return err
}

func (s *Store) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	query := `SELECT * FROM organizations WHERE id = $1`
	err := s.db.GetContext(ctx, &org, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &org, err
}

func (s *Store) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	var orgs []models.Organization
	query := `SELECT * FROM organizations ORDER BY name`
	err := s.db.SelectContext(ctx, &orgs, query)
	return orgs, err
}

func (s *Store) CreatePolicy(ctx context.Context, policy *models.Policy) error {
	query := `
		INSERT INTO policies (
			id, organization_id, title, policy_type, status, version,
			owner_id, description, effective_date, review_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	policy.ID = uuid.New()
	policy.CreatedAt = time.Now()
	policy.UpdatedAt = policy.CreatedAt
	if policy.Status == "" {
		policy.Status = models.PolicyStatusDraft
	}
	if policy.Version == "" {
		policy.Version = "1.0"
	}

	_, err := s.db.ExecContext(ctx, query,
		policy.ID,
		policy.OrganizationID,
		policy.Title,
		policy.PolicyType,
		policy.Status,
		policy.Version,
		policy.OwnerID,
		policy.Description,
		policy.EffectiveDate,
		policy.ReviewDate,
		policy.CreatedAt,
		policy.UpdatedAt,
	)
	return err
}

func (s *Store) GetPolicy(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	var policy models.Policy
	query := `SELECT * FROM policies WHERE id = $1`
	err := s.db.GetContext(ctx, &policy, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &policy, err
}

func (s *Store) ListPolicies(ctx context.Context, orgID *uuid.UUID, status *models.PolicyStatus) ([]models.Policy, error) {
	query := `SELECT * FROM policies WHERE 1=1`
	args := make([]interface{}, 0)
	argIdx := 1

	if orgID != nil {
		query += fmt.Sprintf(" AND organization_id = $%d", argIdx)
		args = append(args, *orgID)
		argIdx++
	}
	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *status)
	}

	query += " ORDER BY title"

	var policies []models.Policy
	err := s.db.SelectContext(ctx, &policies, query, args...)
	return policies, err
}

func (s *Store) UpdatePolicy(ctx context.Context, policy *models.Policy) error {
	query := `
		UPDATE policies SET
			title = $1, policy_type = $2, status = $3, version = $4,
			owner_id = $5, description = $6, effective_date = $7, review_date = $8,
			updated_at = $9
		WHERE id = $10
	`
	policy.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, query,
		policy.Title,
		policy.PolicyType,
		policy.Status,
		policy.Version,
		policy.OwnerID,
		policy.Description,
		policy.EffectiveDate,
		policy.ReviewDate,
		policy.UpdatedAt,
		policy.ID,
	)
	return err
}

func (s *Store) DeletePolicy(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM policies WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// ListPoliciesDueForReview finds active policies whose review date has
// passed. The scheduler uses this for review reminders.
func (s *Store) ListPoliciesDueForReview(ctx context.Context, asOf time.Time) ([]models.Policy, error) {
	var policies []models.Policy
	query := `
		SELECT * FROM policies
		WHERE status = 'active' AND review_date IS NOT NULL AND review_date <= $1
		ORDER BY review_date
	`
	err := s.db.SelectContext(ctx, &policies, query, asOf)
	return policies, err
}

func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (id, policy_id, filename, content_type, size_bytes, storage_key, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	doc.ID = uuid.New()
	doc.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, query,
		doc.ID,
		doc.PolicyID,
		doc.Filename,
		doc.ContentType,
		doc.SizeBytes,
		doc.StorageKey,
		doc.UploadedBy,
		doc.CreatedAt,
	)
	return err
}

func (s *Store) ListDocuments(ctx context.Context, policyID uuid.UUID) ([]models.Document, error) {
	var docs []models.Document
	query := `SELECT * FROM documents WHERE policy_id = $1 ORDER BY created_at DESC`
	err := s.db.SelectContext(ctx, &docs, query, policyID)
	return docs, err
}

func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM documents WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, type, title, message, link, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7)
	`
	n.ID = uuid.New()
	n.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.Type,
		n.Title,
		n.Message,
		n.Link,
		n.CreatedAt,
	)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]models.Notification, error) {
	query := `SELECT * FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read = false`
	}
	query += ` ORDER BY created_at DESC LIMIT 100`

	var notifications []models.Notification
	err := s.db.SelectContext(ctx, &notifications, query, userID)
	return notifications, err
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	query := `UPDATE notifications SET read = true WHERE id = $1 AND user_id = $2`
	_, err := s.db.ExecContext(ctx, query, id, userID)
	return err
}
