package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/framework"
	"github.com/policyforge/comply/internal/models"
)

// getTestDSN returns the test database DSN from environment
func getTestDSN() string {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=comply password=comply_password dbname=comply_test sslmode=disable"
	}
	return dsn
}

// skipIfNoTestDB skips the test if no test database is available
func skipIfNoTestDB(t *testing.T) *Store {
	t.Helper()

	store, err := New(Config{
		DSN:          getTestDSN(),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	if err != nil {
		t.Skipf("Skipping test, database not available: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		t.Skipf("Skipping test, database not reachable: %v", err)
		return nil
	}

	return store
}

// importTestFramework creates a small framework for store tests and
// returns its parsed rows.
func importTestFramework(t *testing.T, store *Store) (models.Framework, []models.Category, []models.Control) {
	t.Helper()

	def := `
code: TST-` + uuid.New().String()[:8] + `
name: Store Test Framework
categories:
  - code: GOV
    name: Governance
    high_priority: true
    controls:
      - code: GOV-1
        title: Governance program
      - code: GOV-2
        title: Roles
  - code: OPS
    name: Operations
    controls:
      - code: OPS-1
        title: Procedures
`
	fw, categories, controls, err := framework.Parse([]byte(def))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := store.ImportFramework(context.Background(), fw, categories, controls); err != nil {
		t.Fatalf("ImportFramework failed: %v", err)
	}
	return fw, categories, controls
}

func TestStore_Policies(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()

	org := &models.Organization{
		Name: "Test Org",
		Slug: "test-org-" + uuid.New().String()[:8],
	}
	if err := store.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("CreateOrganization failed: %v", err)
	}

	policy := &models.Policy{
		OrganizationID: org.ID,
		Title:          "Access Control Policy",
		PolicyType:     "Access Control Policy",
	}
	if err := store.CreatePolicy(ctx, policy); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}
	if policy.ID == uuid.Nil {
		t.Error("Expected policy ID to be set")
	}
	if policy.Status != models.PolicyStatusDraft {
		t.Errorf("Expected status draft, got %s", policy.Status)
	}

	retrieved, err := store.GetPolicy(ctx, policy.ID)
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if retrieved.Title != policy.Title {
		t.Errorf("Expected title %s, got %s", policy.Title, retrieved.Title)
	}

	policy.Status = models.PolicyStatusActive
	if err := store.UpdatePolicy(ctx, policy); err != nil {
		t.Fatalf("UpdatePolicy failed: %v", err)
	}

	active := models.PolicyStatusActive
	policies, err := store.ListPolicies(ctx, &org.ID, &active)
	if err != nil {
		t.Fatalf("ListPolicies failed: %v", err)
	}
	if len(policies) != 1 {
		t.Errorf("Expected one active policy, got %d", len(policies))
	}

	if err := store.DeletePolicy(ctx, policy.ID); err != nil {
		t.Fatalf("DeletePolicy failed: %v", err)
	}
	retrieved, _ = store.GetPolicy(ctx, policy.ID)
	if retrieved != nil {
		t.Error("Expected policy to be deleted")
	}
}

func TestStore_FrameworkImportAndModel(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	fw, categories, controls := importTestFramework(t, store)

	retrieved, err := store.GetFrameworkByCode(ctx, fw.Code)
	if err != nil {
		t.Fatalf("GetFrameworkByCode failed: %v", err)
	}
	if retrieved == nil || retrieved.ID != fw.ID {
		t.Fatal("Expected imported framework to be retrievable by code")
	}

	model, err := store.LoadFrameworkModel(ctx, fw.ID)
	if err != nil {
		t.Fatalf("LoadFrameworkModel failed: %v", err)
	}
	if model.TotalControls() != len(controls) {
		t.Errorf("Expected %d controls, got %d", len(controls), model.TotalControls())
	}
	if len(model.Categories()) != len(categories) {
		t.Errorf("Expected %d categories, got %d", len(categories), len(model.Categories()))
	}

	// Unknown framework fails loudly.
	if _, err := store.LoadFrameworkModel(ctx, uuid.New()); err == nil {
		t.Error("Expected error loading unknown framework")
	}
}

func TestStore_Mappings(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	fw, _, controls := importTestFramework(t, store)

	org := &models.Organization{Name: "Mapping Org", Slug: "map-" + uuid.New().String()[:8]}
	store.CreateOrganization(ctx, org)
	policy := &models.Policy{OrganizationID: org.ID, Title: "Test Policy", PolicyType: "Test"}
	store.CreatePolicy(ctx, policy)

	mapping := &models.PolicyControlMapping{
		PolicyID:  policy.ID,
		ControlID: controls[0].ID,
		Coverage:  models.CoveragePartial,
	}
	if err := store.CreateMapping(ctx, mapping); err != nil {
		t.Fatalf("CreateMapping failed: %v", err)
	}

	// Re-mapping the same policy/control pair upgrades in place.
	upgraded := &models.PolicyControlMapping{
		PolicyID:  policy.ID,
		ControlID: controls[0].ID,
		Coverage:  models.CoverageFull,
		Verified:  true,
	}
	if err := store.CreateMapping(ctx, upgraded); err != nil {
		t.Fatalf("CreateMapping upsert failed: %v", err)
	}

	mappings, err := store.ListMappingsForFramework(ctx, fw.ID)
	if err != nil {
		t.Fatalf("ListMappingsForFramework failed: %v", err)
	}
	if len(mappings) != 1 {
		t.Fatalf("Expected one mapping after upsert, got %d", len(mappings))
	}
	if mappings[0].Coverage != models.CoverageFull || !mappings[0].Verified {
		t.Errorf("Expected upserted mapping full/verified, got %s/%v", mappings[0].Coverage, mappings[0].Verified)
	}

	byPolicy, err := store.ListMappingsForPolicy(ctx, policy.ID)
	if err != nil {
		t.Fatalf("ListMappingsForPolicy failed: %v", err)
	}
	if len(byPolicy) != 1 {
		t.Errorf("Expected one mapping for policy, got %d", len(byPolicy))
	}
}

func TestStore_AnalysisLifecycle(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	fw, _, _ := importTestFramework(t, store)
	userID := uuid.New()

	result, err := store.CreatePendingAnalysis(ctx, fw.ID, userID)
	if err != nil {
		t.Fatalf("CreatePendingAnalysis failed: %v", err)
	}
	if result.Status != models.AnalysisStatusPending {
		t.Errorf("Expected status pending, got %s", result.Status)
	}

	startedAt := time.Now()
	if err := store.MarkAnalysisRunning(ctx, result.ID, startedAt); err != nil {
		t.Fatalf("MarkAnalysisRunning failed: %v", err)
	}

	completedAt := time.Now()
	score := 50.0
	result.TotalControls = 3
	result.ControlsFullyCovered = 1
	result.ControlsPartiallyCovered = 1
	result.ControlsNotCovered = 1
	result.OverallScore = &score
	result.CategoryScores = models.CategoryScoreList{{CategoryCode: "GOV", Score: 50.0, TotalControls: 2}}
	result.Gaps = models.GapList{{ControlCode: "OPS-1", Severity: models.GapSeverityHigh, Coverage: models.CoverageNone}}
	result.CompletedAt = &completedAt
	if err := store.CompleteAnalysis(ctx, result); err != nil {
		t.Fatalf("CompleteAnalysis failed: %v", err)
	}

	retrieved, err := store.GetAnalysis(ctx, result.ID)
	if err != nil {
		t.Fatalf("GetAnalysis failed: %v", err)
	}
	if retrieved.Status != models.AnalysisStatusCompleted {
		t.Errorf("Expected status completed, got %s", retrieved.Status)
	}
	if retrieved.OverallScore == nil || *retrieved.OverallScore != 50.0 {
		t.Errorf("Expected overall score 50.0, got %v", retrieved.OverallScore)
	}
	if len(retrieved.CategoryScores) != 1 || len(retrieved.Gaps) != 1 {
		t.Errorf("Expected JSONB payloads to round-trip, got %d scores, %d gaps",
			len(retrieved.CategoryScores), len(retrieved.Gaps))
	}

	// Terminal records keep their first outcome.
	if err := store.MarkAnalysisFailed(ctx, result.ID, "should not apply"); err != nil {
		t.Fatalf("MarkAnalysisFailed failed: %v", err)
	}
	retrieved, _ = store.GetAnalysis(ctx, result.ID)
	if retrieved.Status != models.AnalysisStatusCompleted {
		t.Errorf("Expected terminal status to stick, got %s", retrieved.Status)
	}

	latest, err := store.GetLatestCompletedAnalysis(ctx, fw.ID)
	if err != nil {
		t.Fatalf("GetLatestCompletedAnalysis failed: %v", err)
	}
	if latest == nil || latest.ID != result.ID {
		t.Error("Expected latest completed analysis to be the one just finished")
	}
}

func TestStore_AnalysisFailsFromPending(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	fw, _, _ := importTestFramework(t, store)

	result, err := store.CreatePendingAnalysis(ctx, fw.ID, uuid.New())
	if err != nil {
		t.Fatalf("CreatePendingAnalysis failed: %v", err)
	}

	// Input load failures skip the running stage entirely.
	if err := store.MarkAnalysisFailed(ctx, result.ID, "framework not found"); err != nil {
		t.Fatalf("MarkAnalysisFailed failed: %v", err)
	}

	retrieved, _ := store.GetAnalysis(ctx, result.ID)
	if retrieved.Status != models.AnalysisStatusFailed {
		t.Errorf("Expected status failed, got %s", retrieved.Status)
	}
	if retrieved.ErrorMessage != "framework not found" {
		t.Errorf("Expected error message to persist, got %q", retrieved.ErrorMessage)
	}

	// Failed is terminal too.
	if err := store.MarkAnalysisRunning(ctx, result.ID, time.Now()); err != nil {
		t.Fatalf("MarkAnalysisRunning failed: %v", err)
	}
	retrieved, _ = store.GetAnalysis(ctx, result.ID)
	if retrieved.Status != models.AnalysisStatusFailed {
		t.Errorf("Expected failed to stick, got %s", retrieved.Status)
	}
}

func TestStore_Notifications(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	userID := uuid.New()

	n := &models.Notification{
		UserID:  userID,
		Type:    models.NotifyAnalysisCompleted,
		Title:   "Analysis completed",
		Message: "Coverage 50.0%",
	}
	if err := store.CreateNotification(ctx, n); err != nil {
		t.Fatalf("CreateNotification failed: %v", err)
	}

	unread, err := store.ListNotifications(ctx, userID, true)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(unread) != 1 {
		t.Fatalf("Expected one unread notification, got %d", len(unread))
	}

	if err := store.MarkNotificationRead(ctx, n.ID, userID); err != nil {
		t.Fatalf("MarkNotificationRead failed: %v", err)
	}
	unread, _ = store.ListNotifications(ctx, userID, true)
	if len(unread) != 0 {
		t.Errorf("Expected no unread notifications, got %d", len(unread))
	}
}
