package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
)

// Schedule is a stored cron entry that enqueues a pipeline stage.
type Schedule struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	Name      string       `json:"name" db:"name"`
	CronExpr  string       `json:"cron_expr" db:"cron_expr"`
	Stage     string       `json:"stage" db:"stage"`
	Params    models.JSONB `json:"params,omitempty" db:"params"`
	Enabled   bool         `json:"enabled" db:"enabled"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

func (s *Store) CreateSchedule(ctx context.Context, sched *Schedule) error {
	if sched.ID == uuid.Nil {
		sched.ID = uuid.New()
	}
	now := time.Now()
	sched.CreatedAt = now
	sched.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, name, cron_expr, stage, params, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		sched.ID, sched.Name, sched.CronExpr, sched.Stage,
		sched.Params, sched.Enabled, sched.CreatedAt, sched.UpdatedAt,
	)
	return err
}

func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	var sched Schedule
	err := s.db.GetContext(ctx, &sched, `SELECT * FROM schedules WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &sched, err
}

func (s *Store) ListEnabledSchedules(ctx context.Context) ([]Schedule, error) {
	var scheds []Schedule
	err := s.db.SelectContext(ctx, &scheds, `SELECT * FROM schedules WHERE enabled = true ORDER BY name`)
	return scheds, err
}

func (s *Store) SetScheduleEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET enabled = $1, updated_at = $2 WHERE id = $3
	`, enabled, time.Now(), id)
	return err
}

func (s *Store) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	return err
}
