package campaign

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
	"github.com/accessguard/iga/internal/risk"
)

type fakeStore struct {
	campaign *models.Campaign
	tasks    []models.ReviewTask
	open     map[uuid.UUID]bool
}

func (f *fakeStore) CreateCampaign(ctx context.Context, c *models.Campaign, tasks []models.ReviewTask) error {
	f.campaign = c
	f.tasks = tasks
	return nil
}

func (f *fakeStore) ListOpenEntitlementIDs(ctx context.Context) (map[uuid.UUID]bool, error) {
	if f.open == nil {
		return map[uuid.UUID]bool{}, nil
	}
	return f.open, nil
}

func fixture() ([]models.Identity, []models.Entitlement) {
	alice := models.Identity{ID: uuid.New(), PrincipalARN: "arn:aws:iam::123456789012:user/alice", PrincipalType: models.PrincipalUser, DisplayName: "alice"}
	bob := models.Identity{ID: uuid.New(), PrincipalARN: "arn:aws:iam::123456789012:user/bob", PrincipalType: models.PrincipalUser, DisplayName: "bob"}

	ents := []models.Entitlement{
		{ID: uuid.New(), IdentityID: bob.ID, PolicyARN: "arn:aws:iam::aws:policy/AdministratorAccess", PolicyName: "AdministratorAccess", RoleName: "developer"},
		{ID: uuid.New(), IdentityID: alice.ID, PolicyARN: "arn:aws:iam::aws:policy/PowerUserAccess", PolicyName: "PowerUserAccess", RoleName: "developer"},
		{ID: uuid.New(), IdentityID: alice.ID, PolicyARN: "arn:aws:iam::aws:policy/ReadOnlyAccess", PolicyName: "ReadOnlyAccess", RoleName: "analyst"},
	}
	return []models.Identity{alice, bob}, ents
}

func TestBuilder_ThresholdCoverage(t *testing.T) {
	store := &fakeStore{}
	b := NewBuilder(risk.MustCurrent(), store, nil)

	identities, ents := fixture()

	campaign, err := b.Build(context.Background(), "q3-cert", identities, ents, models.RiskMedium)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// AdministratorAccess (HIGH) and PowerUserAccess (MEDIUM) qualify at
	// MEDIUM; ReadOnlyAccess (LOW) must not get a task.
	if campaign.TaskCount != 2 {
		t.Fatalf("expected 2 tasks, got %d", campaign.TaskCount)
	}
	for _, task := range store.tasks {
		if task.PolicyName == "ReadOnlyAccess" {
			t.Error("below-threshold entitlement got a task")
		}
		if task.State != models.TaskCreated {
			t.Errorf("expected state CREATED, got %s", task.State)
		}
	}
	if campaign.RuleVersion != risk.CurrentRuleVersion {
		t.Errorf("expected rule version %s, got %s", risk.CurrentRuleVersion, campaign.RuleVersion)
	}
}

func TestBuilder_StableOrdering(t *testing.T) {
	store := &fakeStore{}
	b := NewBuilder(risk.MustCurrent(), store, nil)

	identities, ents := fixture()

	if _, err := b.Build(context.Background(), "q3-cert", identities, ents, models.RiskMedium); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// alice sorts before bob regardless of entitlement input order.
	if store.tasks[0].DisplayName != "alice" || store.tasks[1].DisplayName != "bob" {
		t.Errorf("tasks not in (identity, policy) order: %s, %s",
			store.tasks[0].DisplayName, store.tasks[1].DisplayName)
	}
}

func TestBuilder_NoDuplicateTasks(t *testing.T) {
	store := &fakeStore{}
	b := NewBuilder(risk.MustCurrent(), store, nil)

	identities, ents := fixture()
	ents = append(ents, ents[0]) // duplicated entitlement in snapshot

	campaign, err := b.Build(context.Background(), "q3-cert", identities, ents, models.RiskMedium)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if campaign.TaskCount != 2 {
		t.Errorf("expected duplicate entitlement to be collapsed, got %d tasks", campaign.TaskCount)
	}
}

func TestBuilder_EmptyInputs(t *testing.T) {
	b := NewBuilder(risk.MustCurrent(), &fakeStore{}, nil)
	identities, ents := fixture()

	_, err := b.Build(context.Background(), "c", nil, ents, models.RiskMedium)
	if !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for empty identities, got %v", err)
	}

	_, err = b.Build(context.Background(), "c", identities, nil, models.RiskMedium)
	if !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for empty entitlements, got %v", err)
	}

	_, err = b.Build(context.Background(), "c", identities, ents, models.RiskTier("SEVERE"))
	if !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for invalid threshold, got %v", err)
	}
}

func TestBuilder_RejectsOpenCampaignOverlap(t *testing.T) {
	identities, ents := fixture()

	store := &fakeStore{open: map[uuid.UUID]bool{ents[0].ID: true}}
	b := NewBuilder(risk.MustCurrent(), store, nil)

	_, err := b.Build(context.Background(), "c", identities, ents, models.RiskMedium)
	if !errors.Is(err, models.ErrConflict) {
		t.Errorf("expected ErrConflict for overlapping open campaign, got %v", err)
	}
	if store.campaign != nil {
		t.Error("campaign persisted despite overlap")
	}
}
