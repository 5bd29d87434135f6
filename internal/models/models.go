package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// StringArray is an alias for pq.StringArray to handle PostgreSQL arrays
type StringArray = pq.StringArray

// CoverageLevel describes how well a single policy mapping covers a
// control. Levels form a total order: none < partial < full.
type CoverageLevel string

const (
	CoverageNone    CoverageLevel = "none"
	CoveragePartial CoverageLevel = "partial"
	CoverageFull    CoverageLevel = "full"
)

func (c CoverageLevel) Rank() int {
	switch c {
	case CoverageFull:
		return 2
	case CoveragePartial:
		return 1
	default:
		return 0
	}
}

// MaxCoverage returns the better of the two coverage levels.
func MaxCoverage(a, b CoverageLevel) CoverageLevel {
	if a.Rank() >= b.Rank() {
		return a
	}
	return b
}

// GapSeverity classifies uncovered or partially covered controls.
type GapSeverity string

const (
	GapSeverityCritical GapSeverity = "critical"
	GapSeverityHigh     GapSeverity = "high"
	GapSeverityMedium   GapSeverity = "medium"
	GapSeverityLow      GapSeverity = "low"
)

func (s GapSeverity) Rank() int {
	switch s {
	case GapSeverityCritical:
		return 4
	case GapSeverityHigh:
		return 3
	case GapSeverityMedium:
		return 2
	case GapSeverityLow:
		return 1
	default:
		return 0
	}
}

// Timeframe is the suggested remediation window for a recommendation.
type Timeframe string

const (
	TimeframeImmediate  Timeframe = "immediate"
	TimeframeShortTerm  Timeframe = "short_term"
	TimeframeMediumTerm Timeframe = "medium_term"
)

func (t Timeframe) Rank() int {
	switch t {
	case TimeframeImmediate:
		return 0
	case TimeframeShortTerm:
		return 1
	default:
		return 2
	}
}

type AnalysisStatus string

const (
	AnalysisStatusPending   AnalysisStatus = "pending"
	AnalysisStatusRunning   AnalysisStatus = "running"
	AnalysisStatusCompleted AnalysisStatus = "completed"
	AnalysisStatusFailed    AnalysisStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s AnalysisStatus) Terminal() bool {
	return s == AnalysisStatusCompleted || s == AnalysisStatusFailed
}

type PolicyStatus string

const (
	PolicyStatusDraft    PolicyStatus = "draft"
	PolicyStatusActive   PolicyStatus = "active"
	PolicyStatusArchived PolicyStatus = "archived"
)

type NotificationType string

const (
	NotifyAnalysisCompleted NotificationType = "analysis_completed"
	NotifyAnalysisFailed    NotificationType = "analysis_failed"
	NotifyPolicyReviewDue   NotificationType = "policy_review_due"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

type Organization struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	Industry  string    `json:"industry,omitempty" db:"industry"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Policy struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	OrganizationID uuid.UUID    `json:"organization_id" db:"organization_id"`
	Title          string       `json:"title" db:"title"`
	PolicyType     string       `json:"policy_type" db:"policy_type"`
	Status         PolicyStatus `json:"status" db:"status"`
	Version        string       `json:"version" db:"version"`
	OwnerID        *uuid.UUID   `json:"owner_id,omitempty" db:"owner_id"`
	Description    string       `json:"description,omitempty" db:"description"`
	EffectiveDate  *time.Time   `json:"effective_date,omitempty" db:"effective_date"`
	ReviewDate     *time.Time   `json:"review_date,omitempty" db:"review_date"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// Document is policy document metadata. Upload and text extraction are
// handled outside this service; only the storage reference lives here.
type Document struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	PolicyID    uuid.UUID  `json:"policy_id" db:"policy_id"`
	Filename    string     `json:"filename" db:"filename"`
	ContentType string     `json:"content_type" db:"content_type"`
	SizeBytes   int64      `json:"size_bytes" db:"size_bytes"`
	StorageKey  string     `json:"storage_key" db:"storage_key"`
	UploadedBy  *uuid.UUID `json:"uploaded_by,omitempty" db:"uploaded_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

type Framework struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Code        string    `json:"code" db:"code"`
	Name        string    `json:"name" db:"name"`
	Version     string    `json:"version" db:"version"`
	Description string    `json:"description,omitempty" db:"description"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Category is one node of a framework's category tree. ParentID is nil
// for top-level categories. Controls of descendant categories are not
// included in a parent's own control list.
type Category struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	FrameworkID  uuid.UUID  `json:"framework_id" db:"framework_id"`
	ParentID     *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	Code         string     `json:"code" db:"code"`
	Name         string     `json:"name" db:"name"`
	SortOrder    int        `json:"sort_order" db:"sort_order"`
	HighPriority bool       `json:"high_priority" db:"high_priority"`
}

type Control struct {
	ID          uuid.UUID `json:"id" db:"id"`
	CategoryID  uuid.UUID `json:"category_id" db:"category_id"`
	Code        string    `json:"code" db:"code"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description,omitempty" db:"description"`
	SortOrder   int       `json:"sort_order" db:"sort_order"`
}

// PolicyControlMapping links one policy to one control. Several policies
// may map to the same control; a control's effective coverage is the
// maximum coverage level across its mappings.
type PolicyControlMapping struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	PolicyID  uuid.UUID     `json:"policy_id" db:"policy_id"`
	ControlID uuid.UUID     `json:"control_id" db:"control_id"`
	Coverage  CoverageLevel `json:"coverage_level" db:"coverage_level"`
	Verified  bool          `json:"verified" db:"verified"`
	Notes     string        `json:"notes,omitempty" db:"notes"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// CategoryScore is the aggregated coverage of one category. Categories
// with zero controls are omitted from results rather than scored.
type CategoryScore struct {
	CategoryID       uuid.UUID `json:"category_id"`
	CategoryCode     string    `json:"category_code"`
	CategoryName     string    `json:"category_name"`
	TotalControls    int       `json:"total_controls"`
	FullyCovered     int       `json:"fully_covered"`
	PartiallyCovered int       `json:"partially_covered"`
	NotCovered       int       `json:"not_covered"`
	Score            float64   `json:"score"`
}

// Gap is a control whose effective coverage is less than full.
type Gap struct {
	ControlID           uuid.UUID     `json:"control_id"`
	ControlCode         string        `json:"control_code"`
	ControlTitle        string        `json:"control_title"`
	CategoryCode        string        `json:"category_code"`
	Coverage            CoverageLevel `json:"coverage_level"`
	Severity            GapSeverity   `json:"severity"`
	Description         string        `json:"description"`
	Remediation         string        `json:"remediation"`
	SuggestedPolicyType string        `json:"suggested_policy_type"`
}

type Recommendation struct {
	Priority     int       `json:"priority"`
	PolicyType   string    `json:"policy_type"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Timeframe    Timeframe `json:"timeframe"`
	ControlCodes []string  `json:"control_codes"`
}

// MappingSnapshotEntry captures one mapping as it was when an analysis
// ran, so completed results stay reproducible after mappings change.
type MappingSnapshotEntry struct {
	MappingID uuid.UUID     `json:"mapping_id"`
	PolicyID  uuid.UUID     `json:"policy_id"`
	ControlID uuid.UUID     `json:"control_id"`
	Coverage  CoverageLevel `json:"coverage_level"`
	Verified  bool          `json:"verified"`
}

type CategoryScoreList []CategoryScore
type GapList []Gap
type RecommendationList []Recommendation
type MappingSnapshot []MappingSnapshotEntry

func (l CategoryScoreList) Value() (driver.Value, error)   { return jsonbValue(l) }
func (l *CategoryScoreList) Scan(value interface{}) error  { return jsonbScan(value, l) }
func (l GapList) Value() (driver.Value, error)             { return jsonbValue(l) }
func (l *GapList) Scan(value interface{}) error            { return jsonbScan(value, l) }
func (l RecommendationList) Value() (driver.Value, error)  { return jsonbValue(l) }
func (l *RecommendationList) Scan(value interface{}) error { return jsonbScan(value, l) }
func (l MappingSnapshot) Value() (driver.Value, error)     { return jsonbValue(l) }
func (l *MappingSnapshot) Scan(value interface{}) error    { return jsonbScan(value, l) }

func jsonbValue(v interface{}) (driver.Value, error) {
	return json.Marshal(v)
}

func jsonbScan(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, dest)
}

// AnalysisResult is one immutable, timestamped scoring run. OverallScore
// stays nil until the record reaches completed; once status is completed
// or failed the row is never modified again.
type AnalysisResult struct {
	ID                       uuid.UUID          `json:"id" db:"id"`
	FrameworkID              uuid.UUID          `json:"framework_id" db:"framework_id"`
	Status                   AnalysisStatus     `json:"status" db:"status"`
	TriggeredBy              uuid.UUID          `json:"triggered_by" db:"triggered_by"`
	TotalControls            int                `json:"total_controls" db:"total_controls"`
	ControlsFullyCovered     int                `json:"controls_fully_covered" db:"controls_fully_covered"`
	ControlsPartiallyCovered int                `json:"controls_partially_covered" db:"controls_partially_covered"`
	ControlsNotCovered       int                `json:"controls_not_covered" db:"controls_not_covered"`
	OverallScore             *float64           `json:"overall_score,omitempty" db:"overall_score"`
	CategoryScores           CategoryScoreList  `json:"category_scores" db:"category_scores"`
	Gaps                     GapList            `json:"gaps" db:"gaps"`
	Recommendations          RecommendationList `json:"recommendations" db:"recommendations"`
	Snapshot                 MappingSnapshot    `json:"mapping_snapshot,omitempty" db:"mapping_snapshot"`
	ErrorMessage             string             `json:"error_message,omitempty" db:"error_message"`
	StartedAt                *time.Time         `json:"started_at,omitempty" db:"started_at"`
	CompletedAt              *time.Time         `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt                time.Time          `json:"created_at" db:"created_at"`
}

type Notification struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	UserID    uuid.UUID        `json:"user_id" db:"user_id"`
	Type      NotificationType `json:"type" db:"type"`
	Title     string           `json:"title" db:"title"`
	Message   string           `json:"message" db:"message"`
	Link      string           `json:"link,omitempty" db:"link"`
	Read      bool             `json:"read" db:"read"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}
