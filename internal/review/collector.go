package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
)

// Store is the persistence contract for decision collection.
// CreateDecision must insert the decision and flip the task CREATED →
// DECIDED as one atomic unit, returning models.ErrConflict when the task is
// no longer in CREATED. That compare-and-set is what serializes concurrent
// submissions: of two racing writers, exactly one wins.
type Store interface {
	GetTask(ctx context.Context, id uuid.UUID) (*models.ReviewTask, error)
	CreateDecision(ctx context.Context, decision *models.Decision) error
	GetDecisionForTask(ctx context.Context, taskID uuid.UUID) (*models.Decision, error)
}

type Collector struct {
	store  Store
	logger *slog.Logger
}

func NewCollector(store Store, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{store: store, logger: logger}
}

// Record writes a reviewer verdict against a task. Replaying the identical
// verdict succeeds idempotently and returns the original decision; a
// differing verdict fails with ErrConflict and leaves the task untouched.
// Reviewer identity is supplied by the caller, not verified here.
func (c *Collector) Record(ctx context.Context, taskID uuid.UUID, verdict models.Verdict, reviewer string) (*models.Decision, error) {
	if !verdict.Valid() {
		return nil, fmt.Errorf("%w: invalid verdict %q", models.ErrConfiguration, verdict)
	}
	if reviewer == "" {
		return nil, fmt.Errorf("%w: reviewer identifier required", models.ErrConfiguration)
	}

	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: task %s", models.ErrNotFound, taskID)
	}

	decision := &models.Decision{
		ID:         uuid.New(),
		TaskID:     taskID,
		Verdict:    verdict,
		Reviewer:   reviewer,
		RecordedAt: time.Now(),
	}

	err = c.store.CreateDecision(ctx, decision)
	if err == nil {
		c.logger.Info("decision recorded",
			"task_id", taskID,
			"verdict", verdict,
			"reviewer", reviewer)
		return decision, nil
	}
	if !errors.Is(err, models.ErrConflict) {
		return nil, fmt.Errorf("recording decision: %w", err)
	}

	// The task already left CREATED. Idempotent replay of the same verdict
	// is allowed; anything else is a genuine conflict.
	existing, getErr := c.store.GetDecisionForTask(ctx, taskID)
	if getErr != nil {
		return nil, fmt.Errorf("loading existing decision: %w", getErr)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: task %s is not awaiting a decision", models.ErrConflict, taskID)
	}
	if existing.Verdict != verdict {
		return nil, fmt.Errorf("%w: task %s already decided %s by %s",
			models.ErrConflict, taskID, existing.Verdict, existing.Reviewer)
	}

	c.logger.Debug("idempotent decision replay", "task_id", taskID, "verdict", verdict)
	return existing, nil
}
