package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/models"
)

type fakeRecords struct {
	created []*models.Notification
}

func (f *fakeRecords) CreateNotification(_ context.Context, n *models.Notification) error {
	f.created = append(f.created, n)
	return nil
}

func TestSendSlackRespectsMinSeverity(t *testing.T) {
	var received []SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg SlackMessage
		json.NewDecoder(r.Body).Decode(&msg)
		received = append(received, msg)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewService(Config{
		MinSeverity: models.GapSeverityHigh,
		Slack:       SlackConfig{Enabled: true, WebhookURL: server.URL, Channel: "#compliance"},
	}, nil, nil)

	ctx := context.Background()

	// Below threshold: dropped.
	if err := svc.Send(ctx, &Event{
		Type:      models.NotifyAnalysisCompleted,
		Title:     "quiet",
		Severity:  models.GapSeverityMedium,
		Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(received) != 0 {
		t.Fatalf("medium severity should not reach slack, got %d message(s)", len(received))
	}

	// At threshold: delivered.
	if err := svc.Send(ctx, &Event{
		Type:      models.NotifyAnalysisFailed,
		Title:     "loud",
		Severity:  models.GapSeverityHigh,
		Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("high severity should reach slack, got %d message(s)", len(received))
	}
	if received[0].Channel != "#compliance" || received[0].Attachments[0].Title != "loud" {
		t.Errorf("unexpected slack payload: %+v", received[0])
	}
}

func TestAnalysisCompletedRecordsInApp(t *testing.T) {
	records := &fakeRecords{}
	svc := NewService(Config{}, records, nil)

	userID := uuid.New()
	score := 75.5
	result := &models.AnalysisResult{
		ID:           uuid.New(),
		FrameworkID:  uuid.New(),
		TriggeredBy:  userID,
		OverallScore: &score,
		Gaps: models.GapList{
			{Severity: models.GapSeverityMedium},
		},
	}

	svc.AnalysisCompleted(context.Background(), result)

	if len(records.created) != 1 {
		t.Fatalf("in-app records = %d, want 1", len(records.created))
	}
	n := records.created[0]
	if n.UserID != userID || n.Type != models.NotifyAnalysisCompleted {
		t.Errorf("record = %+v, want analysis_completed for triggering user", n)
	}
}

func TestAnalysisFailedRecordsInApp(t *testing.T) {
	records := &fakeRecords{}
	svc := NewService(Config{}, records, nil)

	userID := uuid.New()
	analysisID := uuid.New()
	svc.AnalysisFailed(context.Background(), analysisID, uuid.New(), userID, "loading framework: not found")

	if len(records.created) != 1 {
		t.Fatalf("in-app records = %d, want 1", len(records.created))
	}
	n := records.created[0]
	if n.UserID != userID || n.Type != models.NotifyAnalysisFailed {
		t.Errorf("record = %+v, want analysis_failed for triggering user", n)
	}

	// Scheduler-triggered runs carry no user and must not write a row.
	svc.AnalysisFailed(context.Background(), uuid.New(), uuid.New(), uuid.Nil, "boom")
	if len(records.created) != 1 {
		t.Errorf("in-app records after nil-user failure = %d, want 1", len(records.created))
	}
}

func TestResultSeverity(t *testing.T) {
	result := &models.AnalysisResult{
		Gaps: models.GapList{
			{Severity: models.GapSeverityMedium},
			{Severity: models.GapSeverityCritical},
			{Severity: models.GapSeverityHigh},
		},
	}
	if got := resultSeverity(result); got != models.GapSeverityCritical {
		t.Errorf("resultSeverity = %s, want critical", got)
	}

	if got := resultSeverity(&models.AnalysisResult{}); got != models.GapSeverityLow {
		t.Errorf("resultSeverity of clean result = %s, want low", got)
	}
}
