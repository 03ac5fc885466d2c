// Package notifications pushes campaign lifecycle events to Slack and
// email. Delivery is best-effort: callers log failures and move on, the
// certification record in Postgres is the source of truth.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/accessguard/iga/internal/models"
)

type EventType string

const (
	EventCampaignCreated     EventType = "campaign_created"
	EventRemediationComplete EventType = "remediation_complete"
	EventExportReady         EventType = "export_ready"
)

type Event struct {
	Type      EventType
	Title     string
	Message   string
	Tier      models.RiskTier
	Data      map[string]interface{}
	Timestamp time.Time
}

type Config struct {
	Slack SlackConfig
	Email EmailConfig
}

type SlackConfig struct {
	WebhookURL string
	Channel    string
	Username   string
	IconEmoji  string
	Enabled    bool
	MinTier    models.RiskTier
}

type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	To       []string
	Enabled  bool
	MinTier  models.RiskTier
}

type Service struct {
	config Config
	logger *slog.Logger
	client *http.Client
}

func NewService(config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers the event to all enabled channels whose tier floor it
// meets.
func (s *Service) Send(ctx context.Context, event *Event) error {
	var errs []error

	if s.config.Slack.Enabled && event.Tier.AtLeast(s.config.Slack.MinTier) {
		if err := s.sendSlack(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}
	if s.config.Email.Enabled && event.Tier.AtLeast(s.config.Email.MinTier) {
		if err := s.sendEmail(event); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}
	return nil
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []slackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (s *Service) sendSlack(ctx context.Context, event *Event) error {
	fields := []slackField{}
	if event.Data != nil {
		if name, ok := event.Data["campaign"].(string); ok {
			fields = append(fields, slackField{Title: "Campaign", Value: name, Short: true})
		}
		if count, ok := event.Data["task_count"].(int); ok {
			fields = append(fields, slackField{Title: "Tasks", Value: fmt.Sprintf("%d", count), Short: true})
		}
		if executed, ok := event.Data["executed"].(int); ok {
			fields = append(fields, slackField{Title: "Executed", Value: fmt.Sprintf("%d", executed), Short: true})
		}
		if blocked, ok := event.Data["blocked"].(int); ok {
			fields = append(fields, slackField{Title: "Blocked", Value: fmt.Sprintf("%d", blocked), Short: true})
		}
		if hash, ok := event.Data["content_hash"].(string); ok {
			fields = append(fields, slackField{Title: "Content Hash", Value: hash, Short: false})
		}
	}

	msg := slackMessage{
		Channel:   s.config.Slack.Channel,
		Username:  s.config.Slack.Username,
		IconEmoji: s.config.Slack.IconEmoji,
		Attachments: []slackAttachment{
			{
				Color:     tierColor(event.Tier),
				Title:     event.Title,
				Text:      event.Message,
				Fallback:  fmt.Sprintf("%s: %s", event.Title, event.Message),
				Fields:    fields,
				Footer:    "Access Certification",
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

	s.logger.Info("slack notification sent", "type", event.Type, "title", event.Title)
	return nil
}

func (s *Service) sendEmail(event *Event) error {
	cfg := s.config.Email

	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", cfg.From)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(cfg.To, ", "))
	fmt.Fprintf(&body, "Subject: [%s] %s\r\n", event.Tier, event.Title)
	body.WriteString("\r\n")
	body.WriteString(event.Message)
	body.WriteString("\r\n")

	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, cfg.From, cfg.To, []byte(body.String())); err != nil {
		return err
	}

	s.logger.Info("email notification sent", "type", event.Type, "recipients", len(cfg.To))
	return nil
}

func tierColor(tier models.RiskTier) string {
	switch tier {
	case models.RiskHigh:
		return "danger"
	case models.RiskMedium:
		return "warning"
	default:
		return "good"
	}
}
