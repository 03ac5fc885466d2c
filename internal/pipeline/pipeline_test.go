package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/gate"
	"github.com/accessguard/iga/internal/models"
	"github.com/accessguard/iga/internal/source"
)

// memStore implements the orchestration store plus the gate's store so a
// whole remediation stage can run in memory.
type memStore struct {
	mu           sync.Mutex
	identities   map[string]models.Identity
	entitlements map[string]models.Entitlement
	campaigns    map[uuid.UUID]*models.Campaign
	tasks        map[uuid.UUID]*models.ReviewTask
	decisions    map[uuid.UUID]*models.Decision
	actions      map[uuid.UUID]*models.RemediationAction
}

func newMemStore() *memStore {
	return &memStore{
		identities:   make(map[string]models.Identity),
		entitlements: make(map[string]models.Entitlement),
		campaigns:    make(map[uuid.UUID]*models.Campaign),
		tasks:        make(map[uuid.UUID]*models.ReviewTask),
		decisions:    make(map[uuid.UUID]*models.Decision),
		actions:      make(map[uuid.UUID]*models.RemediationAction),
	}
}

func (s *memStore) UpsertIdentity(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	s.identities[identity.PrincipalARN] = *identity
	return nil
}

func (s *memStore) UpsertEntitlement(_ context.Context, ent *models.Entitlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ent.ID == uuid.Nil {
		ent.ID = uuid.New()
	}
	s.entitlements[ent.IdentityID.String()+"/"+ent.PolicyName] = *ent
	return nil
}

func (s *memStore) ListIdentities(_ context.Context) ([]models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Identity, 0, len(s.identities))
	for _, v := range s.identities {
		out = append(out, v)
	}
	return out, nil
}

func (s *memStore) ListEntitlements(_ context.Context) ([]models.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Entitlement, 0, len(s.entitlements))
	for _, v := range s.entitlements {
		out = append(out, v)
	}
	return out, nil
}

func (s *memStore) GetCampaign(_ context.Context, id uuid.UUID) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.campaigns[id], nil
}

func (s *memStore) GetDecisionForTask(_ context.Context, taskID uuid.UUID) (*models.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decisions[taskID], nil
}

func (s *memStore) ListRevokeTasksPendingRemediation(_ context.Context, campaignID uuid.UUID) ([]models.ReviewTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReviewTask
	for id, t := range s.tasks {
		if t.CampaignID != campaignID {
			continue
		}
		d := s.decisions[id]
		if d == nil || d.Verdict != models.VerdictRevoke {
			continue
		}
		if a := s.actions[id]; a != nil && a.Outcome != models.OutcomeDryRunSkipped {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *memStore) ListApprovedTasksStillDecided(_ context.Context, campaignID uuid.UUID) ([]models.ReviewTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReviewTask
	for id, t := range s.tasks {
		if t.CampaignID != campaignID || t.State != models.TaskDecided {
			continue
		}
		if d := s.decisions[id]; d != nil && d.Verdict == models.VerdictApprove {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *memStore) UpdateTaskState(_ context.Context, id uuid.UUID, from, to models.TaskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	if t == nil || t.State != from || !from.Allows(to) {
		return models.ErrConflict
	}
	t.State = to
	return nil
}

func (s *memStore) GetActionForTask(_ context.Context, taskID uuid.UUID) (*models.RemediationAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.actions[taskID]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) CreateRemediationAction(_ context.Context, a *models.RemediationAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.actions[a.TaskID] = &cp
	return nil
}

func (s *memStore) UpdateRemediationAction(_ context.Context, a *models.RemediationAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.actions[a.TaskID] = &cp
	return nil
}

type flakySource struct {
	identities []models.Identity
	ents       map[string][]models.Entitlement
	failFor    string
}

func (s *flakySource) ListIdentities(_ context.Context) ([]models.Identity, error) {
	return s.identities, nil
}

func (s *flakySource) ListEntitlements(_ context.Context, identity models.Identity) ([]models.Entitlement, error) {
	if identity.PrincipalARN == s.failFor {
		return nil, errors.New("throttled")
	}
	return s.ents[identity.PrincipalARN], nil
}

func TestDiscoverFanOutAndIsolation(t *testing.T) {
	store := newMemStore()

	aliceARN := "arn:aws:iam::123456789012:user/alice"
	bobARN := "arn:aws:iam::123456789012:user/bob"
	src := &flakySource{
		identities: []models.Identity{
			{PrincipalARN: aliceARN, PrincipalType: models.PrincipalUser, DisplayName: "alice"},
			{PrincipalARN: bobARN, PrincipalType: models.PrincipalUser, DisplayName: "bob"},
		},
		ents: map[string][]models.Entitlement{
			aliceARN: {
				{PolicyARN: "arn:aws:iam::aws:policy/PowerUserAccess", PolicyName: "PowerUserAccess"},
				{PolicyARN: "arn:aws:iam::aws:policy/ReadOnlyAccess", PolicyName: "ReadOnlyAccess"},
			},
		},
		failFor: bobARN,
	}

	p := New(Options{Source: src, Store: store, Workers: 2})
	result, err := p.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if result.Identities != 2 {
		t.Errorf("identities = %d, want 2", result.Identities)
	}
	if result.Entitlements != 2 {
		t.Errorf("entitlements = %d, want 2", result.Entitlements)
	}
	if result.Failed != 1 {
		t.Errorf("failed = %d, want 1", result.Failed)
	}
	if len(store.identities) != 2 {
		t.Errorf("stored identities = %d", len(store.identities))
	}
}

type countingDetacher struct {
	mu    sync.Mutex
	calls int
}

func (d *countingDetacher) Detach(_ context.Context, _ string, _ models.PrincipalType, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return nil
}

func TestRemediateSettlesAllDecidedTasks(t *testing.T) {
	store := newMemStore()
	campaignID := uuid.New()
	store.campaigns[campaignID] = &models.Campaign{ID: campaignID, Status: models.CampaignOpen}

	addTask := func(policy string, verdict models.Verdict) uuid.UUID {
		id := uuid.New()
		store.tasks[id] = &models.ReviewTask{
			ID:           id,
			CampaignID:   campaignID,
			PrincipalARN: "arn:aws:iam::123456789012:user/alice",
			PolicyARN:    "arn:aws:iam::aws:policy/" + policy,
			PolicyName:   policy,
			State:        models.TaskDecided,
		}
		store.decisions[id] = &models.Decision{ID: uuid.New(), TaskID: id, Verdict: verdict, Reviewer: "carol@example.com"}
		return id
	}

	revoked := addTask("PowerUserAccess", models.VerdictRevoke)
	denied := addTask("AdministratorAccess", models.VerdictRevoke)
	approved := addTask("ReadOnlyAccess", models.VerdictApprove)

	detacher := &countingDetacher{}
	p := New(Options{
		Store: store,
		Gate:  gate.New(detacher, store, nil),
		GateCfg: gate.Config{
			DryRun:             false,
			RemediationEnabled: true,
		},
		Source: &source.Static{},
	})

	result, err := p.Remediate(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("Remediate: %v", err)
	}
	if result.Executed != 1 || result.Blocked != 1 || result.NoAction != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if detacher.calls != 1 {
		t.Errorf("detach calls = %d, want 1", detacher.calls)
	}
	if store.tasks[revoked].State != models.TaskRemediationDone {
		t.Errorf("revoked task state = %s", store.tasks[revoked].State)
	}
	if store.tasks[denied].State != models.TaskRemediationBlocked {
		t.Errorf("denied task state = %s", store.tasks[denied].State)
	}
	if store.tasks[approved].State != models.TaskNoAction {
		t.Errorf("approved task state = %s", store.tasks[approved].State)
	}
}

func TestRemediateUnknownCampaign(t *testing.T) {
	p := New(Options{Store: newMemStore(), Source: &source.Static{}})
	if _, err := p.Remediate(context.Background(), uuid.New()); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
