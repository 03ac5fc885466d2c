package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
)

type fakeProvider struct {
	campaigns map[uuid.UUID]*models.Campaign
	tasks     map[uuid.UUID][]models.ReviewTask
	decisions map[uuid.UUID][]models.Decision
	actions   map[uuid.UUID][]models.RemediationAction
}

func (f *fakeProvider) GetCampaign(_ context.Context, id uuid.UUID) (*models.Campaign, error) {
	return f.campaigns[id], nil
}

func (f *fakeProvider) ListCampaigns(_ context.Context, _ *models.CampaignStatus) ([]models.Campaign, error) {
	out := make([]models.Campaign, 0, len(f.campaigns))
	for _, c := range f.campaigns {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeProvider) ListTasksForCampaign(_ context.Context, id uuid.UUID) ([]models.ReviewTask, error) {
	return f.tasks[id], nil
}

func (f *fakeProvider) ListDecisionsForCampaign(_ context.Context, id uuid.UUID) ([]models.Decision, error) {
	return f.decisions[id], nil
}

func (f *fakeProvider) ListActionsForCampaign(_ context.Context, id uuid.UUID) ([]models.RemediationAction, error) {
	return f.actions[id], nil
}

func seedProvider(t *testing.T) (*fakeProvider, uuid.UUID) {
	t.Helper()

	campaignID := uuid.New()
	now := time.Now()

	taskA := models.ReviewTask{
		ID:           uuid.New(),
		CampaignID:   campaignID,
		PrincipalARN: "arn:aws:iam::123456789012:user/alice",
		DisplayName:  "alice",
		PolicyName:   "PowerUserAccess",
		RiskTier:     models.RiskHigh,
		State:        models.TaskRemediationDone,
	}
	taskB := models.ReviewTask{
		ID:           uuid.New(),
		CampaignID:   campaignID,
		PrincipalARN: "arn:aws:iam::123456789012:user/bob",
		DisplayName:  "bob",
		PolicyName:   "ReadOnlyAccess",
		RiskTier:     models.RiskLow,
		State:        models.TaskNoAction,
	}

	p := &fakeProvider{
		campaigns: map[uuid.UUID]*models.Campaign{
			campaignID: {
				ID:            campaignID,
				Name:          "q3-cert",
				RiskThreshold: models.RiskLow,
				Status:        models.CampaignOpen,
				TaskCount:     2,
				CreatedAt:     now,
			},
		},
		tasks: map[uuid.UUID][]models.ReviewTask{
			campaignID: {taskA, taskB},
		},
		decisions: map[uuid.UUID][]models.Decision{
			campaignID: {
				{ID: uuid.New(), TaskID: taskA.ID, Verdict: models.VerdictRevoke, Reviewer: "carol@example.com", RecordedAt: now},
				{ID: uuid.New(), TaskID: taskB.ID, Verdict: models.VerdictApprove, Reviewer: "carol@example.com", RecordedAt: now},
			},
		},
		actions: map[uuid.UUID][]models.RemediationAction{
			campaignID: {
				{ID: uuid.New(), TaskID: taskA.ID, Outcome: models.OutcomeExecuted, Reason: models.ReasonDetached, AttemptedAt: now},
			},
		},
	}
	return p, campaignID
}

func TestGenerateCampaignCSV(t *testing.T) {
	provider, campaignID := seedProvider(t)
	gen := NewGenerator(provider)

	report, err := gen.Generate(context.Background(), &ReportRequest{
		Type:       ReportTypeCampaign,
		Format:     FormatCSV,
		CampaignID: campaignID,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.MimeType != "text/csv" {
		t.Errorf("mime type = %s, want text/csv", report.MimeType)
	}
	if !strings.HasSuffix(report.Filename, ".csv") {
		t.Errorf("filename = %s, want .csv suffix", report.Filename)
	}

	content := string(report.Data)
	for _, want := range []string{"q3-cert", "alice", "PowerUserAccess", "REVOKE", "EXECUTED", "APPROVE"} {
		if !strings.Contains(content, want) {
			t.Errorf("CSV missing %q", want)
		}
	}
}

func TestGenerateCampaignPDF(t *testing.T) {
	provider, campaignID := seedProvider(t)
	gen := NewGenerator(provider)

	report, err := gen.Generate(context.Background(), &ReportRequest{
		Type:       ReportTypeCampaign,
		Format:     FormatPDF,
		CampaignID: campaignID,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.MimeType != "application/pdf" {
		t.Errorf("mime type = %s, want application/pdf", report.MimeType)
	}
	if !bytes.HasPrefix(report.Data, []byte("%PDF")) {
		t.Error("output does not start with PDF magic bytes")
	}
	if report.Title != "Certification Campaign: q3-cert" {
		t.Errorf("default title = %q", report.Title)
	}
}

func TestGenerateDecisionsCSV(t *testing.T) {
	provider, campaignID := seedProvider(t)
	gen := NewGenerator(provider)

	report, err := gen.Generate(context.Background(), &ReportRequest{
		Type:       ReportTypeDecisions,
		Format:     FormatCSV,
		CampaignID: campaignID,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(report.Data)).ReadAll()
	if err != nil {
		t.Fatalf("parse CSV: %v", err)
	}
	// header plus two decisions
	if len(records) != 3 {
		t.Fatalf("rows = %d, want 3", len(records))
	}
	if records[0][3] != "Verdict" {
		t.Errorf("header[3] = %s, want Verdict", records[0][3])
	}
}

func TestGenerateUnknownCampaign(t *testing.T) {
	provider, _ := seedProvider(t)
	gen := NewGenerator(provider)

	_, err := gen.Generate(context.Background(), &ReportRequest{
		Type:       ReportTypeCampaign,
		Format:     FormatCSV,
		CampaignID: uuid.New(),
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGenerateUnsupportedFormat(t *testing.T) {
	provider, campaignID := seedProvider(t)
	gen := NewGenerator(provider)

	_, err := gen.Generate(context.Background(), &ReportRequest{
		Type:       ReportTypeCampaign,
		Format:     "xlsx",
		CampaignID: campaignID,
	})
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestStreamCSV(t *testing.T) {
	provider, campaignID := seedProvider(t)
	gen := NewGenerator(provider)

	var buf bytes.Buffer
	if err := gen.StreamCSV(context.Background(), &buf, campaignID); err != nil {
		t.Fatalf("StreamCSV: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("rows = %d, want 3", len(records))
	}
}
