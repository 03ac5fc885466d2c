package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
)

type ReportType string

const (
	ReportTypeCampaign  ReportType = "campaign"
	ReportTypeDecisions ReportType = "decisions"
	ReportTypeExecutive ReportType = "executive"
)

type ReportFormat string

const (
	FormatCSV ReportFormat = "csv"
	FormatPDF ReportFormat = "pdf"
)

type ReportRequest struct {
	Type       ReportType
	Format     ReportFormat
	Title      string
	CampaignID uuid.UUID
}

type Report struct {
	Type        ReportType
	Format      ReportFormat
	Title       string
	GeneratedAt time.Time
	Data        []byte
	Filename    string
	MimeType    string
}

// DataProvider is the slice of the store the generator reads from.
type DataProvider interface {
	GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, status *models.CampaignStatus) ([]models.Campaign, error)
	ListTasksForCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.ReviewTask, error)
	ListDecisionsForCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.Decision, error)
	ListActionsForCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.RemediationAction, error)
}

// CampaignStats aggregates a campaign's tasks, decisions and remediation
// actions into the counts the summary reports render.
type CampaignStats struct {
	TotalTasks    int
	HighRisk      int
	MediumRisk    int
	LowRisk       int
	Approved      int
	Revoked       int
	Undecided     int
	Executed      int
	Blocked       int
	DryRunSkipped int
	VerdictByTask map[uuid.UUID]models.Verdict
	OutcomeByTask map[uuid.UUID]models.RemediationOutcome
}

type Generator struct {
	provider DataProvider
}

func NewGenerator(provider DataProvider) *Generator {
	return &Generator{provider: provider}
}

func (g *Generator) Generate(ctx context.Context, req *ReportRequest) (*Report, error) {
	switch req.Type {
	case ReportTypeCampaign:
		return g.generateCampaignReport(ctx, req)
	case ReportTypeDecisions:
		return g.generateDecisionsReport(ctx, req)
	case ReportTypeExecutive:
		return g.generateExecutiveReport(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported report type: %s", req.Type)
	}
}

func (g *Generator) campaignStats(ctx context.Context, campaignID uuid.UUID) (*models.Campaign, []models.ReviewTask, *CampaignStats, error) {
	campaign, err := g.provider.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to fetch campaign: %w", err)
	}
	if campaign == nil {
		return nil, nil, nil, fmt.Errorf("campaign %s: %w", campaignID, models.ErrNotFound)
	}

	tasks, err := g.provider.ListTasksForCampaign(ctx, campaignID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to fetch tasks: %w", err)
	}
	decisions, err := g.provider.ListDecisionsForCampaign(ctx, campaignID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to fetch decisions: %w", err)
	}
	actions, err := g.provider.ListActionsForCampaign(ctx, campaignID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to fetch actions: %w", err)
	}

	stats := &CampaignStats{
		TotalTasks:    len(tasks),
		VerdictByTask: make(map[uuid.UUID]models.Verdict, len(decisions)),
		OutcomeByTask: make(map[uuid.UUID]models.RemediationOutcome, len(actions)),
	}
	for _, t := range tasks {
		switch t.RiskTier {
		case models.RiskHigh:
			stats.HighRisk++
		case models.RiskMedium:
			stats.MediumRisk++
		case models.RiskLow:
			stats.LowRisk++
		}
	}
	for _, d := range decisions {
		stats.VerdictByTask[d.TaskID] = d.Verdict
		switch d.Verdict {
		case models.VerdictApprove:
			stats.Approved++
		case models.VerdictRevoke:
			stats.Revoked++
		}
	}
	stats.Undecided = stats.TotalTasks - len(decisions)
	for _, a := range actions {
		stats.OutcomeByTask[a.TaskID] = a.Outcome
		switch a.Outcome {
		case models.OutcomeExecuted:
			stats.Executed++
		case models.OutcomeBlocked:
			stats.Blocked++
		case models.OutcomeDryRunSkipped:
			stats.DryRunSkipped++
		}
	}

	return campaign, tasks, stats, nil
}

func (g *Generator) generateCampaignReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	campaign, tasks, stats, err := g.campaignStats(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}

	title := req.Title
	if title == "" {
		title = fmt.Sprintf("Certification Campaign: %s", campaign.Name)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.campaignToCSV(campaign, tasks, stats)
		filename = fmt.Sprintf("campaign_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.campaignToPDF(campaign, tasks, stats, title)
		filename = fmt.Sprintf("campaign_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) campaignToCSV(campaign *models.Campaign, tasks []models.ReviewTask, stats *CampaignStats) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{"Campaign", campaign.Name})
	_ = w.Write([]string{"Status", string(campaign.Status)})
	_ = w.Write([]string{"Risk Threshold", string(campaign.RiskThreshold)})
	_ = w.Write([]string{""})

	header := []string{
		"Principal", "Policy", "Risk Tier", "State", "Verdict", "Outcome",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, t := range tasks {
		row := []string{
			t.PrincipalARN,
			t.PolicyName,
			string(t.RiskTier),
			string(t.State),
			string(stats.VerdictByTask[t.ID]),
			string(stats.OutcomeByTask[t.ID]),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) campaignToPDF(campaign *models.Campaign, tasks []models.ReviewTask, stats *CampaignStats, title string) ([]byte, error) {
	doc := newPDFDoc(title)

	doc.section("Campaign Summary")
	doc.paragraph(fmt.Sprintf("Campaign %q (%s), threshold %s, created %s.",
		campaign.Name, campaign.Status, campaign.RiskThreshold,
		campaign.CreatedAt.Format("January 2, 2006")))
	doc.keyValues([]Metric{
		{"Total Tasks", stats.TotalTasks},
		{"Approved", stats.Approved},
		{"Revoked", stats.Revoked},
		{"Undecided", stats.Undecided},
	})

	doc.section("Tasks by Risk Tier")
	doc.bars([]Metric{
		{"High", stats.HighRisk},
		{"Medium", stats.MediumRisk},
		{"Low", stats.LowRisk},
	})

	doc.section("Remediation Outcomes")
	doc.keyValues([]Metric{
		{"Executed", stats.Executed},
		{"Blocked", stats.Blocked},
		{"Dry-Run Skipped", stats.DryRunSkipped},
	})

	doc.section("Review Tasks")
	rows := make([][]string, len(tasks))
	for i, t := range tasks {
		rows[i] = []string{
			truncate(t.DisplayName, 24),
			truncate(t.PolicyName, 28),
			string(t.RiskTier),
			string(t.State),
			string(stats.VerdictByTask[t.ID]),
		}
	}
	doc.table(
		[]string{"Principal", "Policy", "Risk", "State", "Verdict"},
		[]float64{40, 50, 20, 0, 25},
		rows,
	)

	return doc.output()
}

func (g *Generator) generateDecisionsReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	campaign, err := g.provider.GetCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch campaign: %w", err)
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign %s: %w", req.CampaignID, models.ErrNotFound)
	}

	decisions, err := g.provider.ListDecisionsForCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch decisions: %w", err)
	}
	tasks, err := g.provider.ListTasksForCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tasks: %w", err)
	}
	taskByID := make(map[uuid.UUID]models.ReviewTask, len(tasks))
	for _, t := range tasks {
		taskByID[t.ID] = t
	}

	title := req.Title
	if title == "" {
		title = fmt.Sprintf("Review Decisions: %s", campaign.Name)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.decisionsToCSV(decisions, taskByID)
		filename = fmt.Sprintf("decisions_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.decisionsToPDF(decisions, taskByID, title)
		filename = fmt.Sprintf("decisions_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) decisionsToCSV(decisions []models.Decision, taskByID map[uuid.UUID]models.ReviewTask) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"Task ID", "Principal", "Policy", "Verdict", "Reviewer", "Comment", "Recorded At",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, d := range decisions {
		task := taskByID[d.TaskID]
		row := []string{
			d.TaskID.String(),
			task.PrincipalARN,
			task.PolicyName,
			string(d.Verdict),
			d.Reviewer,
			d.Comment,
			d.RecordedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) decisionsToPDF(decisions []models.Decision, taskByID map[uuid.UUID]models.ReviewTask, title string) ([]byte, error) {
	doc := newPDFDoc(title)

	approved, revoked := 0, 0
	for _, d := range decisions {
		switch d.Verdict {
		case models.VerdictApprove:
			approved++
		case models.VerdictRevoke:
			revoked++
		}
	}
	doc.section("Decision Summary")
	doc.keyValues([]Metric{
		{"Approved", approved},
		{"Revoked", revoked},
	})

	doc.section("Decisions Detail")
	rows := make([][]string, len(decisions))
	for i, d := range decisions {
		task := taskByID[d.TaskID]
		rows[i] = []string{
			truncate(task.DisplayName, 22),
			truncate(task.PolicyName, 24),
			string(d.Verdict),
			truncate(d.Reviewer, 26),
			d.RecordedAt.Format("2006-01-02"),
		}
	}
	doc.table(
		[]string{"Principal", "Policy", "Verdict", "Reviewer", "Recorded"},
		[]float64{40, 45, 22, 0, 25},
		rows,
	)

	return doc.output()
}

func (g *Generator) generateExecutiveReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	campaigns, err := g.provider.ListCampaigns(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch campaigns: %w", err)
	}

	title := req.Title
	if title == "" {
		title = "Access Certification Executive Summary"
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.executiveToCSV(ctx, campaigns)
		filename = fmt.Sprintf("executive_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.executiveToPDF(ctx, campaigns, title)
		filename = fmt.Sprintf("executive_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) executiveToCSV(ctx context.Context, campaigns []models.Campaign) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{"Executive Summary Report"})
	_ = w.Write([]string{"Generated", time.Now().Format(time.RFC1123)})
	_ = w.Write([]string{""})
	_ = w.Write([]string{"Campaign", "Status", "Threshold", "Tasks", "Approved", "Revoked", "Executed", "Blocked"})

	for _, c := range campaigns {
		_, _, stats, err := g.campaignStats(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		_ = w.Write([]string{
			c.Name,
			string(c.Status),
			string(c.RiskThreshold),
			fmt.Sprintf("%d", stats.TotalTasks),
			fmt.Sprintf("%d", stats.Approved),
			fmt.Sprintf("%d", stats.Revoked),
			fmt.Sprintf("%d", stats.Executed),
			fmt.Sprintf("%d", stats.Blocked),
		})
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) executiveToPDF(ctx context.Context, campaigns []models.Campaign, title string) ([]byte, error) {
	doc := newPDFDoc(title)

	doc.section("Executive Summary")
	doc.paragraph(fmt.Sprintf("Report generated on %s covering %d certification campaigns.",
		time.Now().Format(time.RFC1123), len(campaigns)))

	var totalTasks, revoked, executed, blocked int
	rows := make([][]string, len(campaigns))
	for i, c := range campaigns {
		_, _, stats, err := g.campaignStats(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		totalTasks += stats.TotalTasks
		revoked += stats.Revoked
		executed += stats.Executed
		blocked += stats.Blocked
		rows[i] = []string{
			truncate(c.Name, 26),
			string(c.Status),
			fmt.Sprintf("%d", stats.TotalTasks),
			fmt.Sprintf("%d", stats.Revoked),
			fmt.Sprintf("%d", stats.Executed),
		}
	}

	doc.section("Key Metrics")
	doc.keyValues([]Metric{
		{"Campaigns", len(campaigns)},
		{"Total Tasks", totalTasks},
		{"Revocations", revoked},
		{"Executed", executed},
		{"Blocked", blocked},
	})

	doc.section("Campaigns")
	doc.table(
		[]string{"Name", "Status", "Tasks", "Revoked", "Executed"},
		[]float64{55, 25, 0, 0, 0},
		rows,
	)

	return doc.output()
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

// StreamCSV writes a campaign task report straight to w without
// buffering the whole document, for large campaigns.
func (g *Generator) StreamCSV(ctx context.Context, w io.Writer, campaignID uuid.UUID) error {
	_, tasks, stats, err := g.campaignStats(ctx, campaignID)
	if err != nil {
		return err
	}

	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	header := []string{"Task ID", "Principal", "Policy", "Risk Tier", "State", "Verdict", "Outcome"}
	if err := csvWriter.Write(header); err != nil {
		return err
	}

	for _, t := range tasks {
		row := []string{
			t.ID.String(),
			t.PrincipalARN,
			t.PolicyName,
			string(t.RiskTier),
			string(t.State),
			string(stats.VerdictByTask[t.ID]),
			string(stats.OutcomeByTask[t.ID]),
		}
		if err := csvWriter.Write(row); err != nil {
			return err
		}
	}

	return csvWriter.Error()
}
