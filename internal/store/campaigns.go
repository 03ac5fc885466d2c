package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
)

// CreateCampaign inserts the campaign and all of its tasks in one
// transaction so a half-built campaign can never be observed.
func (s *Store) CreateCampaign(ctx context.Context, campaign *models.Campaign, tasks []models.ReviewTask) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = time.Now()
	}
	if campaign.Status == "" {
		campaign.Status = models.CampaignOpen
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, risk_threshold, rule_version, status, task_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		campaign.ID, campaign.Name, campaign.RiskThreshold, campaign.RuleVersion,
		campaign.Status, campaign.TaskCount, campaign.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting campaign: %w", err)
	}

	for i := range tasks {
		t := &tasks[i]
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		t.CampaignID = campaign.ID
		if t.CreatedAt.IsZero() {
			t.CreatedAt = campaign.CreatedAt
		}
		t.UpdatedAt = t.CreatedAt
		if t.State == "" {
			t.State = models.TaskCreated
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO review_tasks (
				id, campaign_id, identity_id, entitlement_id,
				principal_arn, display_name, policy_arn, policy_name, role_name,
				risk_tier, explanation, state, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`,
			t.ID, t.CampaignID, t.IdentityID, t.EntitlementID,
			t.PrincipalARN, t.DisplayName, t.PolicyARN, t.PolicyName, t.RoleName,
			t.RiskTier, t.Explanation, t.State, t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting task for %s: %w", t.PrincipalARN, err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	var campaign models.Campaign
	query := `SELECT * FROM campaigns WHERE id = $1`
	err := s.db.GetContext(ctx, &campaign, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &campaign, err
}

func (s *Store) ListCampaigns(ctx context.Context, status *models.CampaignStatus) ([]models.Campaign, error) {
	query := `SELECT * FROM campaigns WHERE 1=1`
	args := make([]interface{}, 0)
	if status != nil {
		query += ` AND status = $1`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	var campaigns []models.Campaign
	err := s.db.SelectContext(ctx, &campaigns, query, args...)
	return campaigns, err
}

func (s *Store) CloseCampaign(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $1, closed_at = $2 WHERE id = $3 AND status = $4
	`, models.CampaignClosed, time.Now(), id, models.CampaignOpen)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: campaign %s is not open", models.ErrConflict, id)
	}
	return nil
}

// ListOpenEntitlementIDs returns entitlement ids that already have a task
// in an open campaign. Used to reject overlapping campaigns.
func (s *Store) ListOpenEntitlementIDs(ctx context.Context) (map[uuid.UUID]bool, error) {
	var ids []uuid.UUID
	query := `
		SELECT t.entitlement_id FROM review_tasks t
		JOIN campaigns c ON c.id = t.campaign_id
		WHERE c.status = $1
	`
	if err := s.db.SelectContext(ctx, &ids, query, models.CampaignOpen); err != nil {
		return nil, err
	}
	open := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		open[id] = true
	}
	return open, nil
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*models.ReviewTask, error) {
	var task models.ReviewTask
	query := `SELECT * FROM review_tasks WHERE id = $1`
	err := s.db.GetContext(ctx, &task, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &task, err
}

func (s *Store) ListTasksForCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.ReviewTask, error) {
	var tasks []models.ReviewTask
	query := `SELECT * FROM review_tasks WHERE campaign_id = $1 ORDER BY principal_arn, policy_name`
	err := s.db.SelectContext(ctx, &tasks, query, campaignID)
	return tasks, err
}

// UpdateTaskState is a conditional write: the row moves only if it is
// still in the expected state and the transition is legal. A zero-row
// update surfaces as ErrConflict.
func (s *Store) UpdateTaskState(ctx context.Context, id uuid.UUID, from, to models.TaskState) error {
	if !from.Allows(to) {
		return fmt.Errorf("%w: illegal transition %s -> %s", models.ErrConflict, from, to)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE review_tasks SET state = $1, updated_at = $2 WHERE id = $3 AND state = $4
	`, to, time.Now(), id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: task %s left state %s", models.ErrConflict, id, from)
	}
	return nil
}

func (s *Store) SetTaskExplanation(ctx context.Context, taskID uuid.UUID, explanation string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE review_tasks SET explanation = $1, updated_at = $2 WHERE id = $3
	`, explanation, time.Now(), taskID)
	return err
}

func (s *Store) ListHighRiskTasksMissingExplanation(ctx context.Context, campaignID uuid.UUID) ([]models.ReviewTask, error) {
	var tasks []models.ReviewTask
	query := `
		SELECT * FROM review_tasks
		WHERE campaign_id = $1 AND risk_tier = $2 AND explanation = ''
		ORDER BY principal_arn, policy_name
	`
	err := s.db.SelectContext(ctx, &tasks, query, campaignID, models.RiskHigh)
	return tasks, err
}
