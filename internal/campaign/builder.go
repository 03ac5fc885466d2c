package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
	"github.com/accessguard/iga/internal/risk"
)

// Store is the persistence contract the builder needs. CreateCampaign must
// write the campaign and its tasks as one transaction: a partially built
// campaign would hide entitlements from review.
type Store interface {
	CreateCampaign(ctx context.Context, campaign *models.Campaign, tasks []models.ReviewTask) error
	ListOpenEntitlementIDs(ctx context.Context) (map[uuid.UUID]bool, error)
}

type Builder struct {
	classifier *risk.Classifier
	store      Store
	logger     *slog.Logger
}

func NewBuilder(classifier *risk.Classifier, store Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		classifier: classifier,
		store:      store,
		logger:     logger,
	}
}

// Build groups every entitlement at or above threshold into a new campaign
// with exactly one task per qualifying entitlement. Empty inputs signal an
// upstream discovery failure and abort the stage rather than silently
// producing an empty campaign. Entitlements that still sit in an open
// campaign are rejected with ErrConflict instead of being double-tasked.
func (b *Builder) Build(ctx context.Context, name string, identities []models.Identity, entitlements []models.Entitlement, threshold models.RiskTier) (*models.Campaign, error) {
	if !threshold.Valid() {
		return nil, fmt.Errorf("%w: invalid risk threshold %q", models.ErrConfiguration, threshold)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("%w: no identities in discovery snapshot", models.ErrConfiguration)
	}
	if len(entitlements) == 0 {
		return nil, fmt.Errorf("%w: no entitlements in discovery snapshot", models.ErrConfiguration)
	}

	identityByID := make(map[uuid.UUID]models.Identity, len(identities))
	for _, id := range identities {
		identityByID[id.ID] = id
	}

	open, err := b.store.ListOpenEntitlementIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing open campaign entitlements: %w", err)
	}

	campaign := &models.Campaign{
		ID:            uuid.New(),
		Name:          name,
		RiskThreshold: threshold,
		RuleVersion:   b.classifier.Version(),
		Status:        models.CampaignOpen,
		CreatedAt:     time.Now(),
	}

	seen := make(map[uuid.UUID]bool, len(entitlements))
	var tasks []models.ReviewTask
	for _, ent := range entitlements {
		if seen[ent.ID] {
			continue
		}
		seen[ent.ID] = true

		identity, ok := identityByID[ent.IdentityID]
		if !ok {
			return nil, fmt.Errorf("%w: entitlement %s references unknown identity %s", models.ErrConfiguration, ent.ID, ent.IdentityID)
		}

		tier := b.classifier.Classify(ent.RoleName, ent.PolicyName)
		if !tier.AtLeast(threshold) {
			continue
		}

		if open[ent.ID] {
			return nil, fmt.Errorf("%w: entitlement %s (%s/%s) is already under review in an open campaign",
				models.ErrConflict, ent.ID, identity.PrincipalARN, ent.PolicyName)
		}

		now := time.Now()
		tasks = append(tasks, models.ReviewTask{
			ID:            uuid.New(),
			CampaignID:    campaign.ID,
			IdentityID:    identity.ID,
			EntitlementID: ent.ID,
			PrincipalARN:  identity.PrincipalARN,
			DisplayName:   identity.DisplayName,
			PolicyARN:     ent.PolicyARN,
			PolicyName:    ent.PolicyName,
			RoleName:      ent.RoleName,
			RiskTier:      tier,
			State:         models.TaskCreated,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	// Stable ordering for reproducible exports.
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].PrincipalARN != tasks[j].PrincipalARN {
			return tasks[i].PrincipalARN < tasks[j].PrincipalARN
		}
		return tasks[i].PolicyName < tasks[j].PolicyName
	})

	campaign.TaskCount = len(tasks)

	if err := b.store.CreateCampaign(ctx, campaign, tasks); err != nil {
		return nil, fmt.Errorf("persisting campaign: %w", err)
	}

	b.logger.Info("campaign built",
		"campaign_id", campaign.ID,
		"name", campaign.Name,
		"threshold", campaign.RiskThreshold,
		"rule_version", campaign.RuleVersion,
		"tasks", campaign.TaskCount)

	return campaign, nil
}
