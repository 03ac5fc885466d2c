package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
)

func (s *Store) CreateRemediationAction(ctx context.Context, action *models.RemediationAction) error {
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	if action.AttemptedAt.IsZero() {
		action.AttemptedAt = time.Now()
	}
	// task_id is UNIQUE: the schema itself enforces one action per task.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO remediation_actions (id, task_id, outcome, reason, detail, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		action.ID, action.TaskID, action.Outcome,
		action.Reason, action.Detail, action.AttemptedAt,
	)
	return err
}

// UpdateRemediationAction replaces a provisional dry-run record with a
// definitive outcome. Settled outcomes are immutable.
func (s *Store) UpdateRemediationAction(ctx context.Context, action *models.RemediationAction) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE remediation_actions SET outcome = $1, reason = $2, detail = $3, attempted_at = $4
		WHERE id = $5 AND outcome = $6
	`,
		action.Outcome, action.Reason, action.Detail, action.AttemptedAt,
		action.ID, models.OutcomeDryRunSkipped,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: action %s is already settled", models.ErrConflict, action.ID)
	}
	return nil
}

func (s *Store) GetActionForTask(ctx context.Context, taskID uuid.UUID) (*models.RemediationAction, error) {
	var action models.RemediationAction
	query := `SELECT * FROM remediation_actions WHERE task_id = $1`
	err := s.db.GetContext(ctx, &action, query, taskID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &action, err
}

func (s *Store) ListActionsForCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.RemediationAction, error) {
	var actions []models.RemediationAction
	query := `
		SELECT a.* FROM remediation_actions a
		JOIN review_tasks t ON t.id = a.task_id
		WHERE t.campaign_id = $1
		ORDER BY t.principal_arn, t.policy_name
	`
	err := s.db.SelectContext(ctx, &actions, query, campaignID)
	return actions, err
}

// ListRevokeTasksPendingRemediation returns decided-REVOKE tasks that have
// no settled action yet, in deterministic order for the remediation stage.
func (s *Store) ListRevokeTasksPendingRemediation(ctx context.Context, campaignID uuid.UUID) ([]models.ReviewTask, error) {
	var tasks []models.ReviewTask
	query := `
		SELECT t.* FROM review_tasks t
		JOIN decisions d ON d.task_id = t.id
		LEFT JOIN remediation_actions a ON a.task_id = t.id
		WHERE t.campaign_id = $1
		  AND d.verdict = $2
		  AND (a.id IS NULL OR a.outcome = $3)
		ORDER BY t.principal_arn, t.policy_name
	`
	err := s.db.SelectContext(ctx, &tasks, query, campaignID, models.VerdictRevoke, models.OutcomeDryRunSkipped)
	return tasks, err
}

// ListApprovedTasksStillDecided returns APPROVE-decided tasks that have
// not yet been settled to NO_ACTION.
func (s *Store) ListApprovedTasksStillDecided(ctx context.Context, campaignID uuid.UUID) ([]models.ReviewTask, error) {
	var tasks []models.ReviewTask
	query := `
		SELECT t.* FROM review_tasks t
		JOIN decisions d ON d.task_id = t.id
		WHERE t.campaign_id = $1 AND d.verdict = $2 AND t.state = $3
		ORDER BY t.principal_arn, t.policy_name
	`
	err := s.db.SelectContext(ctx, &tasks, query, campaignID, models.VerdictApprove, models.TaskDecided)
	return tasks, err
}
