// Package pipeline orchestrates the certification stages: discover,
// build, enrich, remediate, export. Each stage is independently runnable
// so schedules and the CLI can trigger them separately.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/campaign"
	"github.com/accessguard/iga/internal/enrich"
	"github.com/accessguard/iga/internal/export"
	"github.com/accessguard/iga/internal/gate"
	"github.com/accessguard/iga/internal/models"
	"github.com/accessguard/iga/internal/notifications"
	"github.com/accessguard/iga/internal/source"
)

// Stage names used by schedules and queue jobs.
const (
	StageDiscover  = "discover"
	StageBuild     = "build"
	StageEnrich    = "enrich"
	StageRemediate = "remediate"
	StageExport    = "export"
)

// Store is the orchestration surface of the persistence layer. The
// per-stage services hold their own narrower views.
type Store interface {
	UpsertIdentity(ctx context.Context, identity *models.Identity) error
	UpsertEntitlement(ctx context.Context, ent *models.Entitlement) error
	ListIdentities(ctx context.Context) ([]models.Identity, error)
	ListEntitlements(ctx context.Context) ([]models.Entitlement, error)
	GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	GetDecisionForTask(ctx context.Context, taskID uuid.UUID) (*models.Decision, error)
	ListRevokeTasksPendingRemediation(ctx context.Context, campaignID uuid.UUID) ([]models.ReviewTask, error)
	ListApprovedTasksStillDecided(ctx context.Context, campaignID uuid.UUID) ([]models.ReviewTask, error)
	UpdateTaskState(ctx context.Context, id uuid.UUID, from, to models.TaskState) error
}

// Notifier publishes lifecycle events. Optional; delivery failures are
// logged, never propagated.
type Notifier interface {
	Send(ctx context.Context, event *notifications.Event) error
}

type Pipeline struct {
	source   source.Source
	store    Store
	builder  *campaign.Builder
	enricher *enrich.Enricher
	gate     *gate.Gate
	exporter *export.Exporter

	notifier Notifier
	gateCfg  gate.Config
	workers  int
	logger   *slog.Logger
}

type Options struct {
	Source   source.Source
	Store    Store
	Builder  *campaign.Builder
	Enricher *enrich.Enricher
	Gate     *gate.Gate
	Exporter *export.Exporter
	Notifier Notifier
	GateCfg  gate.Config
	Workers  int
	Logger   *slog.Logger
}

func New(opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		source:   opts.Source,
		store:    opts.Store,
		builder:  opts.Builder,
		enricher: opts.Enricher,
		gate:     opts.Gate,
		exporter: opts.Exporter,
		notifier: opts.Notifier,
		gateCfg:  opts.GateCfg,
		workers:  opts.Workers,
		logger:   opts.Logger,
	}
}

// DiscoverResult summarizes a discovery run.
type DiscoverResult struct {
	Identities   int
	Entitlements int
	Failed       int
}

// Discover snapshots identities and entitlements into the store.
// Entitlement listing fans out over a bounded worker pool; a failure on
// one principal skips that principal, it does not abort the run.
func (p *Pipeline) Discover(ctx context.Context) (*DiscoverResult, error) {
	identities, err := p.source.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}

	for i := range identities {
		if err := p.store.UpsertIdentity(ctx, &identities[i]); err != nil {
			return nil, fmt.Errorf("storing identity %s: %w", identities[i].PrincipalARN, err)
		}
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		sem    = make(chan struct{}, p.workers)
		result = DiscoverResult{Identities: len(identities)}
	)

	for i := range identities {
		identity := identities[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			ents, err := p.source.ListEntitlements(ctx, identity)
			if err != nil {
				p.logger.Warn("entitlement listing failed",
					"principal", identity.PrincipalARN, "error", err)
				mu.Lock()
				result.Failed++
				mu.Unlock()
				return
			}
			for j := range ents {
				ents[j].IdentityID = identity.ID
				if err := p.store.UpsertEntitlement(ctx, &ents[j]); err != nil {
					p.logger.Warn("storing entitlement failed",
						"principal", identity.PrincipalARN,
						"policy", ents[j].PolicyName, "error", err)
					mu.Lock()
					result.Failed++
					mu.Unlock()
					return
				}
			}
			mu.Lock()
			result.Entitlements += len(ents)
			mu.Unlock()
		}()
	}
	wg.Wait()

	p.logger.Info("discovery complete",
		"identities", result.Identities,
		"entitlements", result.Entitlements,
		"failed", result.Failed)
	return &result, nil
}

// BuildCampaign assembles a campaign from the current stored snapshot.
func (p *Pipeline) BuildCampaign(ctx context.Context, name string, threshold models.RiskTier) (*models.Campaign, error) {
	identities, err := p.store.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading identities: %w", err)
	}
	entitlements, err := p.store.ListEntitlements(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading entitlements: %w", err)
	}
	c, err := p.builder.Build(ctx, name, identities, entitlements, threshold)
	if err != nil {
		return nil, err
	}

	p.notify(ctx, &notifications.Event{
		Type:    notifications.EventCampaignCreated,
		Title:   "Certification campaign created",
		Message: fmt.Sprintf("Campaign %q opened with %d review tasks.", c.Name, c.TaskCount),
		Tier:    c.RiskThreshold,
		Data: map[string]interface{}{
			"campaign":   c.Name,
			"task_count": c.TaskCount,
		},
	})
	return c, nil
}

// Enrich attaches explanations to high-risk tasks in a campaign.
func (p *Pipeline) Enrich(ctx context.Context, campaignID uuid.UUID) (int, error) {
	return p.enricher.EnrichCampaign(ctx, campaignID)
}

// RemediateResult summarizes a remediation run.
type RemediateResult struct {
	Executed int
	Blocked  int
	Skipped  int
	NoAction int
	Failed   int
}

// Remediate settles every decided task in a campaign: REVOKE verdicts go
// through the gate one at a time in deterministic order, APPROVE verdicts
// move to NO_ACTION. A failure on one task is recorded and the run
// continues.
func (p *Pipeline) Remediate(ctx context.Context, campaignID uuid.UUID) (*RemediateResult, error) {
	c, err := p.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("loading campaign: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: campaign %s", models.ErrNotFound, campaignID)
	}

	var result RemediateResult

	tasks, err := p.store.ListRevokeTasksPendingRemediation(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("listing revoke tasks: %w", err)
	}
	for i := range tasks {
		task := tasks[i]
		decision, err := p.store.GetDecisionForTask(ctx, task.ID)
		if err != nil || decision == nil {
			p.logger.Error("loading decision failed", "task_id", task.ID, "error", err)
			result.Failed++
			continue
		}
		action, err := p.gate.Attempt(ctx, &task, decision, p.gateCfg)
		if err != nil {
			p.logger.Error("remediation attempt failed", "task_id", task.ID, "error", err)
			result.Failed++
			continue
		}
		switch action.Outcome {
		case models.OutcomeExecuted:
			result.Executed++
		case models.OutcomeBlocked:
			result.Blocked++
		case models.OutcomeDryRunSkipped:
			result.Skipped++
		}
	}

	approved, err := p.store.ListApprovedTasksStillDecided(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("listing approved tasks: %w", err)
	}
	for _, task := range approved {
		if err := p.store.UpdateTaskState(ctx, task.ID, models.TaskDecided, models.TaskNoAction); err != nil {
			p.logger.Error("settling approved task failed", "task_id", task.ID, "error", err)
			result.Failed++
			continue
		}
		result.NoAction++
	}

	p.logger.Info("remediation stage complete",
		"campaign_id", campaignID,
		"executed", result.Executed,
		"blocked", result.Blocked,
		"skipped", result.Skipped,
		"no_action", result.NoAction,
		"failed", result.Failed)

	p.notify(ctx, &notifications.Event{
		Type:    notifications.EventRemediationComplete,
		Title:   "Remediation stage complete",
		Message: fmt.Sprintf("Campaign %q: %d executed, %d blocked, %d skipped.", c.Name, result.Executed, result.Blocked, result.Skipped),
		Tier:    c.RiskThreshold,
		Data: map[string]interface{}{
			"campaign": c.Name,
			"executed": result.Executed,
			"blocked":  result.Blocked,
		},
	})
	return &result, nil
}

// Export writes the campaign's audit artifact.
func (p *Pipeline) Export(ctx context.Context, campaignID uuid.UUID) (*models.AuditArtifact, error) {
	artifact, err := p.exporter.Export(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	p.notify(ctx, &notifications.Event{
		Type:    notifications.EventExportReady,
		Title:   "Audit export ready",
		Message: fmt.Sprintf("Campaign %s exported.", campaignID),
		Tier:    models.RiskLow,
		Data: map[string]interface{}{
			"content_hash": artifact.ContentHash,
		},
	})
	return artifact, nil
}

func (p *Pipeline) notify(ctx context.Context, event *notifications.Event) {
	if p.notifier == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := p.notifier.Send(ctx, event); err != nil {
		p.logger.Warn("notification delivery failed", "type", event.Type, "error", err)
	}
}
