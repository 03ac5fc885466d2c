package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
)

// CreateDecision records a decision and flips its task from CREATED to
// DECIDED in one transaction. The conditional state update is the write
// lock: if the task already left CREATED, no rows move and the call
// fails with ErrConflict, leaving any existing decision untouched.
func (s *Store) CreateDecision(ctx context.Context, decision *models.Decision) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if decision.ID == uuid.Nil {
		decision.ID = uuid.New()
	}
	if decision.RecordedAt.IsZero() {
		decision.RecordedAt = time.Now()
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE review_tasks SET state = $1, decided_at = $2, updated_at = $2
		WHERE id = $3 AND state = $4
	`, models.TaskDecided, decision.RecordedAt, decision.TaskID, models.TaskCreated)
	if err != nil {
		return fmt.Errorf("updating task state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: task %s already decided", models.ErrConflict, decision.TaskID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO decisions (id, task_id, verdict, reviewer, comment, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		decision.ID, decision.TaskID, decision.Verdict,
		decision.Reviewer, decision.Comment, decision.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting decision: %w", err)
	}

	return tx.Commit()
}

func (s *Store) GetDecisionForTask(ctx context.Context, taskID uuid.UUID) (*models.Decision, error) {
	var decision models.Decision
	query := `SELECT * FROM decisions WHERE task_id = $1`
	err := s.db.GetContext(ctx, &decision, query, taskID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &decision, err
}

func (s *Store) ListDecisionsForCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.Decision, error) {
	var decisions []models.Decision
	query := `
		SELECT d.* FROM decisions d
		JOIN review_tasks t ON t.id = d.task_id
		WHERE t.campaign_id = $1
		ORDER BY t.principal_arn, t.policy_name
	`
	err := s.db.SelectContext(ctx, &decisions, query, campaignID)
	return decisions, err
}
