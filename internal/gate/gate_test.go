package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
)

type fakeStore struct {
	actions map[uuid.UUID]*models.RemediationAction
	states  map[uuid.UUID]models.TaskState
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		actions: make(map[uuid.UUID]*models.RemediationAction),
		states:  make(map[uuid.UUID]models.TaskState),
	}
}

func (s *fakeStore) GetActionForTask(_ context.Context, taskID uuid.UUID) (*models.RemediationAction, error) {
	if a, ok := s.actions[taskID]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) CreateRemediationAction(_ context.Context, a *models.RemediationAction) error {
	if _, ok := s.actions[a.TaskID]; ok {
		return errors.New("duplicate action for task")
	}
	cp := *a
	s.actions[a.TaskID] = &cp
	return nil
}

func (s *fakeStore) UpdateRemediationAction(_ context.Context, a *models.RemediationAction) error {
	if _, ok := s.actions[a.TaskID]; !ok {
		return errors.New("no action to update")
	}
	cp := *a
	s.actions[a.TaskID] = &cp
	return nil
}

func (s *fakeStore) UpdateTaskState(_ context.Context, taskID uuid.UUID, from, to models.TaskState) error {
	if cur, ok := s.states[taskID]; ok && cur != from {
		return models.ErrConflict
	}
	if !from.Allows(to) {
		return models.ErrConflict
	}
	s.states[taskID] = to
	return nil
}

type fakeDetacher struct {
	calls int
	err   error
}

func (d *fakeDetacher) Detach(_ context.Context, _ string, _ models.PrincipalType, _ string) error {
	d.calls++
	return d.err
}

func revokedTask(policyName string) (*models.ReviewTask, *models.Decision) {
	task := &models.ReviewTask{
		ID:           uuid.New(),
		PrincipalARN: "arn:aws:iam::123456789012:user/alice",
		PolicyARN:    "arn:aws:iam::aws:policy/" + policyName,
		PolicyName:   policyName,
		State:        models.TaskDecided,
	}
	decision := &models.Decision{
		ID:      uuid.New(),
		TaskID:  task.ID,
		Verdict: models.VerdictRevoke,
	}
	return task, decision
}

func liveConfig() Config {
	return Config{DryRun: false, RemediationEnabled: true, DetachTimeout: time.Second}
}

func TestAttemptExecutesDetach(t *testing.T) {
	store := newFakeStore()
	detacher := &fakeDetacher{}
	g := New(detacher, store, nil)

	task, decision := revokedTask("PowerUserAccess")
	action, err := g.Attempt(context.Background(), task, decision, liveConfig())
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if action.Outcome != models.OutcomeExecuted {
		t.Fatalf("outcome = %s, want EXECUTED", action.Outcome)
	}
	if action.Reason != models.ReasonDetached {
		t.Errorf("reason = %s, want DETACHED", action.Reason)
	}
	if detacher.calls != 1 {
		t.Errorf("detach calls = %d, want 1", detacher.calls)
	}
	if task.State != models.TaskRemediationDone {
		t.Errorf("task state = %s, want REMEDIATION_EXECUTED", task.State)
	}
}

func TestAttemptGateOrdering(t *testing.T) {
	tests := []struct {
		name       string
		policyName string
		cfg        Config
		outcome    models.RemediationOutcome
		reason     models.ReasonCode
		detached   bool
	}{
		{
			name:       "baseline deny floor with empty configured denylist",
			policyName: "AdministratorAccess",
			cfg:        liveConfig(),
			outcome:    models.OutcomeBlocked,
			reason:     models.ReasonDenylisted,
		},
		{
			name:       "break-glass marker blocked",
			policyName: "BreakGlassEmergency",
			cfg:        liveConfig(),
			outcome:    models.OutcomeBlocked,
			reason:     models.ReasonDenylisted,
		},
		{
			name:       "configured deny entry",
			policyName: "BillingFullAccess",
			cfg: func() Config {
				c := liveConfig()
				c.DenyList = []string{"billing"}
				return c
			}(),
			outcome: models.OutcomeBlocked,
			reason:  models.ReasonDenylisted,
		},
		{
			name:       "deny wins over allow",
			policyName: "AdministratorAccess",
			cfg: func() Config {
				c := liveConfig()
				c.AllowList = []string{"administratoraccess"}
				return c
			}(),
			outcome: models.OutcomeBlocked,
			reason:  models.ReasonDenylisted,
		},
		{
			name:       "allowlist miss blocked",
			policyName: "PowerUserAccess",
			cfg: func() Config {
				c := liveConfig()
				c.AllowList = []string{"s3readonly"}
				return c
			}(),
			outcome: models.OutcomeBlocked,
			reason:  models.ReasonNotAllowlisted,
		},
		{
			name:       "allowlist match executes",
			policyName: "PowerUserAccess",
			cfg: func() Config {
				c := liveConfig()
				c.AllowList = []string{"poweruser"}
				return c
			}(),
			outcome:  models.OutcomeExecuted,
			reason:   models.ReasonDetached,
			detached: true,
		},
		{
			name:       "remediation disabled skips",
			policyName: "PowerUserAccess",
			cfg:        Config{DryRun: false, RemediationEnabled: false},
			outcome:    models.OutcomeDryRunSkipped,
			reason:     models.ReasonRemediationDisabled,
		},
		{
			name:       "dry run skips even when enabled",
			policyName: "PowerUserAccess",
			cfg:        Config{DryRun: true, RemediationEnabled: true},
			outcome:    models.OutcomeDryRunSkipped,
			reason:     models.ReasonDryRun,
		},
		{
			name:       "defaults never execute",
			policyName: "PowerUserAccess",
			cfg:        DefaultConfig(),
			outcome:    models.OutcomeDryRunSkipped,
			reason:     models.ReasonRemediationDisabled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			detacher := &fakeDetacher{}
			g := New(detacher, store, nil)

			task, decision := revokedTask(tt.policyName)
			action, err := g.Attempt(context.Background(), task, decision, tt.cfg)
			if err != nil {
				t.Fatalf("Attempt: %v", err)
			}
			if action.Outcome != tt.outcome {
				t.Errorf("outcome = %s, want %s", action.Outcome, tt.outcome)
			}
			if action.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", action.Reason, tt.reason)
			}
			wantCalls := 0
			if tt.detached {
				wantCalls = 1
			}
			if detacher.calls != wantCalls {
				t.Errorf("detach calls = %d, want %d", detacher.calls, wantCalls)
			}
			if len(store.actions) != 1 {
				t.Errorf("persisted actions = %d, want 1", len(store.actions))
			}
		})
	}
}

func TestAttemptDetachFailureRecordedNotRetried(t *testing.T) {
	store := newFakeStore()
	detacher := &fakeDetacher{err: errors.New("api throttled")}
	g := New(detacher, store, nil)

	task, decision := revokedTask("PowerUserAccess")
	action, err := g.Attempt(context.Background(), task, decision, liveConfig())
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if action.Outcome != models.OutcomeBlocked || action.Reason != models.ReasonDetachFailed {
		t.Fatalf("got %s/%s, want BLOCKED/DETACH_FAILED", action.Outcome, action.Reason)
	}
	if action.Detail != "api throttled" {
		t.Errorf("detail = %q, want failure message", action.Detail)
	}
	if task.State != models.TaskRemediationBlocked {
		t.Errorf("task state = %s, want REMEDIATION_BLOCKED", task.State)
	}

	// A second attempt must return the recorded failure without touching
	// the external system again.
	detacher.err = nil
	again, err := g.Attempt(context.Background(), task, decision, liveConfig())
	if err != nil {
		t.Fatalf("second Attempt: %v", err)
	}
	if again.ID != action.ID || again.Outcome != models.OutcomeBlocked {
		t.Errorf("second attempt got %s (id %s), want original blocked action", again.Outcome, again.ID)
	}
	if detacher.calls != 1 {
		t.Errorf("detach calls = %d, want 1", detacher.calls)
	}
}

func TestAttemptExecutedIsIdempotent(t *testing.T) {
	store := newFakeStore()
	detacher := &fakeDetacher{}
	g := New(detacher, store, nil)

	task, decision := revokedTask("PowerUserAccess")
	first, err := g.Attempt(context.Background(), task, decision, liveConfig())
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	second, err := g.Attempt(context.Background(), task, decision, liveConfig())
	if err != nil {
		t.Fatalf("second Attempt: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second attempt created a new action")
	}
	if detacher.calls != 1 {
		t.Errorf("detach calls = %d, want 1", detacher.calls)
	}
}

func TestAttemptDryRunSupersededByLiveRun(t *testing.T) {
	store := newFakeStore()
	detacher := &fakeDetacher{}
	g := New(detacher, store, nil)

	task, decision := revokedTask("PowerUserAccess")
	dry, err := g.Attempt(context.Background(), task, decision, DefaultConfig())
	if err != nil {
		t.Fatalf("dry-run Attempt: %v", err)
	}
	if dry.Outcome != models.OutcomeDryRunSkipped {
		t.Fatalf("dry-run outcome = %s", dry.Outcome)
	}
	if task.State != models.TaskRemediationPending {
		t.Fatalf("task state = %s, want REMEDIATION_PENDING", task.State)
	}

	live, err := g.Attempt(context.Background(), task, decision, liveConfig())
	if err != nil {
		t.Fatalf("live Attempt: %v", err)
	}
	if live.Outcome != models.OutcomeExecuted {
		t.Fatalf("live outcome = %s, want EXECUTED", live.Outcome)
	}
	if live.ID != dry.ID {
		t.Errorf("live run created a second action record")
	}
	if len(store.actions) != 1 {
		t.Errorf("persisted actions = %d, want 1", len(store.actions))
	}
	if task.State != models.TaskRemediationDone {
		t.Errorf("task state = %s, want REMEDIATION_EXECUTED", task.State)
	}
}

func TestAttemptRejectsNonRevoke(t *testing.T) {
	store := newFakeStore()
	g := New(&fakeDetacher{}, store, nil)

	task, decision := revokedTask("PowerUserAccess")
	decision.Verdict = models.VerdictApprove
	if _, err := g.Attempt(context.Background(), task, decision, liveConfig()); !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
	if len(store.actions) != 0 {
		t.Errorf("action persisted for APPROVE verdict")
	}
}
