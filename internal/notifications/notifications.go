// Package notifications fans analysis events out to Slack, email and
// in-app notification records. External delivery is best effort and
// gated by a minimum gap severity; in-app records are always written.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/policyforge/comply/internal/models"
)

// Channel defines notification channels
type Channel string

const (
	ChannelSlack Channel = "slack"
	ChannelEmail Channel = "email"
)

// Event represents a notification to be sent
type Event struct {
	Type      models.NotificationType
	Title     string
	Message   string
	Severity  models.GapSeverity
	Link      string
	Data      map[string]interface{}
	Timestamp time.Time
}

// Config holds notification configuration
type Config struct {
	MinSeverity models.GapSeverity
	Slack       SlackConfig
	Email       EmailConfig
}

// SlackConfig holds Slack configuration
type SlackConfig struct {
	WebhookURL string
	Channel    string
	Username   string
	IconEmoji  string
	Enabled    bool
}

// EmailConfig holds email configuration
type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	To       []string
	Enabled  bool
}

// RecordStore persists in-app notification rows.
type RecordStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// Service handles notifications
type Service struct {
	config  Config
	records RecordStore
	logger  *slog.Logger
	client  *http.Client
}

// NewService creates a new notification service
func NewService(config Config, records RecordStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MinSeverity == "" {
		config.MinSeverity = models.GapSeverityHigh
	}

	return &Service{
		config:  config,
		records: records,
		logger:  logger,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers an event to every enabled channel. Channel errors are
// collected rather than aborting the rest.
func (s *Service) Send(ctx context.Context, event *Event) error {
	var errs []error

	if s.config.Slack.Enabled && event.Severity.Rank() >= s.config.MinSeverity.Rank() {
		if err := s.sendSlack(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}

	if s.config.Email.Enabled && event.Severity.Rank() >= s.config.MinSeverity.Rank() {
		if err := s.sendEmail(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}

	return nil
}

// record writes the in-app notification row for the triggering user.
func (s *Service) record(ctx context.Context, userID uuid.UUID, event *Event) {
	if s.records == nil || userID == uuid.Nil {
		return
	}

	n := &models.Notification{
		UserID:  userID,
		Type:    event.Type,
		Title:   event.Title,
		Message: event.Message,
		Link:    event.Link,
	}
	if err := s.records.CreateNotification(ctx, n); err != nil {
		s.logger.Error("failed to record notification", "type", event.Type, "error", err)
	}
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// sendSlack sends a notification to Slack
func (s *Service) sendSlack(ctx context.Context, event *Event) error {
	fields := []SlackField{}
	if event.Data != nil {
		if framework, ok := event.Data["framework"].(string); ok {
			fields = append(fields, SlackField{Title: "Framework", Value: framework, Short: true})
		}
		if score, ok := event.Data["overall_score"].(float64); ok {
			fields = append(fields, SlackField{Title: "Coverage", Value: fmt.Sprintf("%.1f%%", score), Short: true})
		}
		if gaps, ok := event.Data["gap_count"].(int); ok {
			fields = append(fields, SlackField{Title: "Gaps", Value: fmt.Sprintf("%d", gaps), Short: true})
		}
		if critical, ok := event.Data["critical_gaps"].(int); ok {
			fields = append(fields, SlackField{Title: "Critical", Value: fmt.Sprintf("%d", critical), Short: true})
		}
	}

	msg := SlackMessage{
		Channel:   s.config.Slack.Channel,
		Username:  s.config.Slack.Username,
		IconEmoji: s.config.Slack.IconEmoji,
		Attachments: []SlackAttachment{
			{
				Color:     s.severityToColor(event.Severity),
				Title:     event.Title,
				TitleLink: event.Link,
				Text:      event.Message,
				Fallback:  fmt.Sprintf("%s: %s", event.Title, event.Message),
				Fields:    fields,
				Footer:    "Comply",
				Timestamp: event.Timestamp.Unix(),
			},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.Slack.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack notification sent",
		"type", event.Type,
		"title", event.Title)

	return nil
}

// severityToColor converts severity to Slack color
func (s *Service) severityToColor(severity models.GapSeverity) string {
	switch severity {
	case models.GapSeverityCritical:
		return "#FF0000" // Red
	case models.GapSeverityHigh:
		return "#FFA500" // Orange
	case models.GapSeverityMedium:
		return "#FFFF00" // Yellow
	default:
		return "#36A64F" // Green
	}
}

// sendEmail sends a notification via email
func (s *Service) sendEmail(ctx context.Context, event *Event) error {
	subject := fmt.Sprintf("[Comply] %s", event.Title)
	body, err := s.formatEmailBody(event)
	if err != nil {
		return err
	}

	msg := s.buildEmailMessage(subject, body)

	auth := smtp.PlainAuth("", s.config.Email.Username, s.config.Email.Password, s.config.Email.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)

	err = smtp.SendMail(addr, auth, s.config.Email.From, s.config.Email.To, []byte(msg))
	if err != nil {
		return err
	}

	s.logger.Info("email notification sent",
		"type", event.Type,
		"title", event.Title,
		"recipients", len(s.config.Email.To))

	return nil
}

// buildEmailMessage builds an email message
func (s *Service) buildEmailMessage(subject, body string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.Email.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(s.config.Email.To, ",")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

// formatEmailBody formats the email body
func (s *Service) formatEmailBody(event *Event) (string, error) {
	tmpl := `
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 600px; margin: 0 auto; background: white; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .header { padding: 20px; background: {{.HeaderColor}}; color: white; border-radius: 8px 8px 0 0; }
        .content { padding: 20px; }
        .severity { display: inline-block; padding: 4px 8px; border-radius: 4px; font-weight: bold; background: {{.SeverityColor}}; color: white; }
        .data-table { width: 100%; border-collapse: collapse; margin-top: 15px; }
        .data-table td { padding: 8px; border-bottom: 1px solid #eee; }
        .data-table td:first-child { font-weight: bold; width: 30%; }
        .footer { padding: 15px 20px; background: #f9f9f9; border-radius: 0 0 8px 8px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h2 style="margin:0;">{{.Title}}</h2>
        </div>
        <div class="content">
            <p>{{.Message}}</p>
            <p>Severity: <span class="severity">{{.Severity}}</span></p>
            {{if .HasData}}
            <table class="data-table">
                {{range $key, $value := .Data}}
                <tr>
                    <td>{{$key}}</td>
                    <td>{{$value}}</td>
                </tr>
                {{end}}
            </table>
            {{end}}
        </div>
        <div class="footer">
            <p>This is an automated message from Comply.</p>
            <p>Generated at: {{.Timestamp}}</p>
        </div>
    </div>
</body>
</html>
`
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}

	headerColor := "#2196F3" // Default blue
	switch event.Severity {
	case models.GapSeverityCritical:
		headerColor = "#F44336"
	case models.GapSeverityHigh:
		headerColor = "#FF9800"
	case models.GapSeverityMedium:
		headerColor = "#FFC107"
	}

	data := map[string]interface{}{
		"Title":         event.Title,
		"Message":       event.Message,
		"Severity":      string(event.Severity),
		"HeaderColor":   headerColor,
		"SeverityColor": s.severityToColor(event.Severity),
		"Data":          event.Data,
		"HasData":       len(event.Data) > 0,
		"Timestamp":     event.Timestamp.Format(time.RFC1123),
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// resultSeverity grades a completed analysis by its worst gaps.
func resultSeverity(result *models.AnalysisResult) models.GapSeverity {
	worst := models.GapSeverityLow
	for _, g := range result.Gaps {
		if g.Severity.Rank() > worst.Rank() {
			worst = g.Severity
		}
	}
	return worst
}

// AnalysisCompleted notifies about a finished analysis. It satisfies
// the engine's notifier contract: errors are logged, never returned.
func (s *Service) AnalysisCompleted(ctx context.Context, result *models.AnalysisResult) {
	score := 0.0
	if result.OverallScore != nil {
		score = *result.OverallScore
	}

	critical := 0
	for _, g := range result.Gaps {
		if g.Severity == models.GapSeverityCritical {
			critical++
		}
	}

	event := &Event{
		Type:     models.NotifyAnalysisCompleted,
		Title:    "Compliance Analysis Completed",
		Message:  fmt.Sprintf("Overall coverage %.1f%% with %d gap(s)", score, len(result.Gaps)),
		Severity: resultSeverity(result),
		Link:     fmt.Sprintf("/analyses/%s", result.ID),
		Data: map[string]interface{}{
			"framework":     result.FrameworkID.String(),
			"overall_score": score,
			"gap_count":     len(result.Gaps),
			"critical_gaps": critical,
		},
		Timestamp: time.Now(),
	}

	s.record(ctx, result.TriggeredBy, event)
	if err := s.Send(ctx, event); err != nil {
		s.logger.Error("failed to send completion notification", "analysis_id", result.ID, "error", err)
	}
}

// AnalysisFailed notifies about a failed analysis. Like completion, the
// triggering user always gets an in-app record of the terminal state.
func (s *Service) AnalysisFailed(ctx context.Context, analysisID, frameworkID, triggeredBy uuid.UUID, message string) {
	event := &Event{
		Type:     models.NotifyAnalysisFailed,
		Title:    "Compliance Analysis Failed",
		Message:  message,
		Severity: models.GapSeverityHigh,
		Link:     fmt.Sprintf("/analyses/%s", analysisID),
		Data: map[string]interface{}{
			"framework": frameworkID.String(),
		},
		Timestamp: time.Now(),
	}

	s.record(ctx, triggeredBy, event)
	if err := s.Send(ctx, event); err != nil {
		s.logger.Error("failed to send failure notification", "analysis_id", analysisID, "error", err)
	}
}

// PolicyReviewDue records review reminders for policies past their
// review date. The scheduler calls this daily.
func (s *Service) PolicyReviewDue(ctx context.Context, policies []models.Policy) {
	for _, p := range policies {
		if p.OwnerID == nil {
			continue
		}
		event := &Event{
			Type:      models.NotifyPolicyReviewDue,
			Title:     "Policy Review Due",
			Message:   fmt.Sprintf("Policy %q is due for review", p.Title),
			Severity:  models.GapSeverityMedium,
			Link:      fmt.Sprintf("/policies/%s", p.ID),
			Timestamp: time.Now(),
		}
		s.record(ctx, *p.OwnerID, event)
	}
}
