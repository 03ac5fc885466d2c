package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
)

// Store supplies the full decision graph for a campaign. Task ordering is
// normalized by the exporter itself, so implementations need no ORDER BY
// guarantees.
type Store interface {
	GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	ListTasksForCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.ReviewTask, error)
	ListDecisionsForCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.Decision, error)
	ListActionsForCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.RemediationAction, error)
	CreateAuditArtifact(ctx context.Context, artifact *models.AuditArtifact) error
}

// Uploader pushes artifact bytes to remote object storage. Optional; a nil
// uploader keeps exports local-only.
type Uploader interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Snapshot is the canonical export form. Field order is fixed by the
// struct declarations, rows are sorted, and all timestamps are UTC
// RFC 3339, so identical inputs always marshal to identical bytes.
type Snapshot struct {
	Campaign CampaignSummary `json:"campaign"`
	Rows     []Row           `json:"rows"`
}

type CampaignSummary struct {
	ID            uuid.UUID             `json:"id"`
	Name          string                `json:"name"`
	RiskThreshold models.RiskTier       `json:"risk_threshold"`
	RuleVersion   string                `json:"rule_version"`
	Status        models.CampaignStatus `json:"status"`
	TaskCount     int                   `json:"task_count"`
	CreatedAt     string                `json:"created_at"`
}

// Row flattens one task with its decision and remediation action, if any.
type Row struct {
	TaskID       uuid.UUID                 `json:"task_id"`
	PrincipalARN string                    `json:"principal_arn"`
	DisplayName  string                    `json:"display_name"`
	PolicyARN    string                    `json:"policy_arn"`
	PolicyName   string                    `json:"policy_name"`
	RoleName     string                    `json:"role_name,omitempty"`
	RiskTier     models.RiskTier           `json:"risk_tier"`
	Explanation  string                    `json:"explanation,omitempty"`
	State        models.TaskState          `json:"state"`
	Verdict      models.Verdict            `json:"verdict,omitempty"`
	Reviewer     string                    `json:"reviewer,omitempty"`
	Comment      string                    `json:"comment,omitempty"`
	DecidedAt    string                    `json:"decided_at,omitempty"`
	Outcome      models.RemediationOutcome `json:"outcome,omitempty"`
	Reason       models.ReasonCode         `json:"reason,omitempty"`
	Detail       string                    `json:"detail,omitempty"`
	AttemptedAt  string                    `json:"attempted_at,omitempty"`
}

var csvHeader = []string{
	"task_id", "principal_arn", "display_name", "policy_arn", "policy_name",
	"role_name", "risk_tier", "explanation", "state", "verdict", "reviewer",
	"comment", "decided_at", "outcome", "reason", "detail", "attempted_at",
}

type Exporter struct {
	store    Store
	uploader Uploader
	logger   *slog.Logger
}

func New(store Store, uploader Uploader, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: store, uploader: uploader, logger: logger}
}

// Export builds an immutable audit artifact for a campaign. The content
// hash covers the canonical JSON bytes only, so two exports of the same
// campaign state always carry the same hash even though each export is a
// new artifact row.
func (e *Exporter) Export(ctx context.Context, campaignID uuid.UUID) (*models.AuditArtifact, error) {
	campaign, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("loading campaign: %w", err)
	}
	if campaign == nil {
		return nil, fmt.Errorf("%w: campaign %s", models.ErrNotFound, campaignID)
	}

	snapshot, err := e.buildSnapshot(ctx, campaign)
	if err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}
	sum := sha256.Sum256(jsonData)

	csvData, err := encodeCSV(snapshot.Rows)
	if err != nil {
		return nil, fmt.Errorf("encoding csv: %w", err)
	}

	artifact := &models.AuditArtifact{
		ID:          uuid.New(),
		CampaignID:  campaign.ID,
		ContentHash: hex.EncodeToString(sum[:]),
		JSONData:    jsonData,
		CSVData:     csvData,
		CreatedAt:   time.Now().UTC(),
	}

	if e.uploader != nil {
		key := fmt.Sprintf("exports/%s/%s.json", campaign.ID, artifact.ContentHash)
		if err := e.uploader.Put(ctx, key, jsonData, "application/json"); err != nil {
			e.logger.Warn("remote upload failed, artifact kept local only",
				"campaign_id", campaign.ID, "error", err)
		} else {
			// The JSON object is now in the bucket, so the artifact records
			// the key even if the companion CSV upload fails.
			artifact.RemoteKey = key
			csvKey := key[:len(key)-len(".json")] + ".csv"
			if err := e.uploader.Put(ctx, csvKey, csvData, "text/csv"); err != nil {
				e.logger.Warn("remote csv upload failed", "campaign_id", campaign.ID, "error", err)
			}
		}
	}

	if err := e.store.CreateAuditArtifact(ctx, artifact); err != nil {
		return nil, fmt.Errorf("persisting artifact: %w", err)
	}

	e.logger.Info("campaign exported",
		"campaign_id", campaign.ID,
		"tasks", len(snapshot.Rows),
		"content_hash", artifact.ContentHash)

	return artifact, nil
}

func (e *Exporter) buildSnapshot(ctx context.Context, campaign *models.Campaign) (*Snapshot, error) {
	tasks, err := e.store.ListTasksForCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	decisions, err := e.store.ListDecisionsForCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("listing decisions: %w", err)
	}
	actions, err := e.store.ListActionsForCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}

	decisionByTask := make(map[uuid.UUID]models.Decision, len(decisions))
	for _, d := range decisions {
		decisionByTask[d.TaskID] = d
	}
	actionByTask := make(map[uuid.UUID]models.RemediationAction, len(actions))
	for _, a := range actions {
		actionByTask[a.TaskID] = a
	}

	rows := make([]Row, 0, len(tasks))
	for _, t := range tasks {
		row := Row{
			TaskID:       t.ID,
			PrincipalARN: t.PrincipalARN,
			DisplayName:  t.DisplayName,
			PolicyARN:    t.PolicyARN,
			PolicyName:   t.PolicyName,
			RoleName:     t.RoleName,
			RiskTier:     t.RiskTier,
			Explanation:  t.Explanation,
			State:        t.State,
		}
		if d, ok := decisionByTask[t.ID]; ok {
			row.Verdict = d.Verdict
			row.Reviewer = d.Reviewer
			row.Comment = d.Comment
			row.DecidedAt = d.RecordedAt.UTC().Format(time.RFC3339)
		}
		if a, ok := actionByTask[t.ID]; ok {
			row.Outcome = a.Outcome
			row.Reason = a.Reason
			row.Detail = a.Detail
			row.AttemptedAt = a.AttemptedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PrincipalARN != rows[j].PrincipalARN {
			return rows[i].PrincipalARN < rows[j].PrincipalARN
		}
		return rows[i].PolicyName < rows[j].PolicyName
	})

	return &Snapshot{
		Campaign: CampaignSummary{
			ID:            campaign.ID,
			Name:          campaign.Name,
			RiskThreshold: campaign.RiskThreshold,
			RuleVersion:   campaign.RuleVersion,
			Status:        campaign.Status,
			TaskCount:     campaign.TaskCount,
			CreatedAt:     campaign.CreatedAt.UTC().Format(time.RFC3339),
		},
		Rows: rows,
	}, nil
}

func encodeCSV(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		record := []string{
			r.TaskID.String(), r.PrincipalARN, r.DisplayName, r.PolicyARN,
			r.PolicyName, r.RoleName, string(r.RiskTier), r.Explanation,
			string(r.State), string(r.Verdict), r.Reviewer, r.Comment,
			r.DecidedAt, string(r.Outcome), string(r.Reason), r.Detail,
			r.AttemptedAt,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
