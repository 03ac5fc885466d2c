package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
)

// FallbackExplanation is attached whenever the text-generation collaborator
// is absent or fails. Enrichment must never block or fail the pipeline.
const FallbackExplanation = "High-risk access detected based on policy and role mismatch. Manual review recommended."

// ExplainRequest carries the review context handed to the collaborator.
// It deliberately has no risk-tier field in either direction: enrichment
// output is a single advisory text field and nothing else.
type ExplainRequest struct {
	PrincipalARN string
	DisplayName  string
	RoleName     string
	PolicyARN    string
	PolicyName   string
}

// Explainer is the external text-generation collaborator. Best-effort,
// timeout-bounded, failure-tolerant.
type Explainer interface {
	Explain(ctx context.Context, req ExplainRequest) (string, error)
}

// Store is the slice of persistence the enricher needs.
type Store interface {
	ListHighRiskTasksMissingExplanation(ctx context.Context, campaignID uuid.UUID) ([]models.ReviewTask, error)
	SetTaskExplanation(ctx context.Context, taskID uuid.UUID, explanation string) error
}

type Enricher struct {
	explainer Explainer
	store     Store
	timeout   time.Duration
	logger    *slog.Logger
}

// New builds an enricher. explainer may be nil, in which case every HIGH
// task gets the fallback text.
func New(explainer Explainer, store Store, timeout time.Duration, logger *slog.Logger) *Enricher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		explainer: explainer,
		store:     store,
		timeout:   timeout,
		logger:    logger,
	}
}

// Enrich attaches an explanation to a single HIGH-risk task. Non-HIGH
// tasks and tasks that already carry an explanation are skipped. The
// returned error is only ever a persistence error: collaborator failure
// degrades to the fallback text.
func (e *Enricher) Enrich(ctx context.Context, task *models.ReviewTask) error {
	if task.RiskTier != models.RiskHigh {
		return nil
	}
	if task.Explanation != "" {
		e.logger.Debug("explanation already present", "task_id", task.ID)
		return nil
	}

	text := e.generate(ctx, task)

	if err := e.store.SetTaskExplanation(ctx, task.ID, text); err != nil {
		return fmt.Errorf("storing explanation for task %s: %w", task.ID, err)
	}
	task.Explanation = text
	return nil
}

// EnrichCampaign is the batch mode: it enriches every HIGH-risk task in the
// campaign that is still missing an explanation. Per-task persistence
// failures are logged and counted, never fatal to siblings.
func (e *Enricher) EnrichCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	tasks, err := e.store.ListHighRiskTasksMissingExplanation(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("listing tasks to enrich: %w", err)
	}

	enriched := 0
	for i := range tasks {
		if err := e.Enrich(ctx, &tasks[i]); err != nil {
			e.logger.Warn("enrichment failed for task", "task_id", tasks[i].ID, "error", err)
			continue
		}
		enriched++
	}

	e.logger.Info("campaign enrichment finished",
		"campaign_id", campaignID,
		"candidates", len(tasks),
		"enriched", enriched)

	return enriched, nil
}

func (e *Enricher) generate(ctx context.Context, task *models.ReviewTask) string {
	if e.explainer == nil {
		return FallbackExplanation
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, err := e.explainer.Explain(callCtx, ExplainRequest{
		PrincipalARN: task.PrincipalARN,
		DisplayName:  task.DisplayName,
		RoleName:     task.RoleName,
		PolicyARN:    task.PolicyARN,
		PolicyName:   task.PolicyName,
	})
	if err != nil || text == "" {
		e.logger.Warn("explanation generation failed, using fallback",
			"task_id", task.ID,
			"error", err)
		return FallbackExplanation
	}
	return text
}
