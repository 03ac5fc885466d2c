package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
)

func getTestDSN() string {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=iga password=iga_password dbname=iga_test sslmode=disable"
	}
	return dsn
}

// skipIfNoTestDB skips the test if no test database is available.
func skipIfNoTestDB(t *testing.T) *Store {
	t.Helper()

	store, err := New(Config{
		DSN:          getTestDSN(),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	if err != nil {
		t.Skipf("Skipping test, database not available: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		t.Skipf("Skipping test, database not reachable: %v", err)
		return nil
	}
	if err := store.Migrate(ctx, nil); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	return store
}

func seedCampaign(t *testing.T, store *Store) (*models.Campaign, []models.ReviewTask) {
	t.Helper()
	ctx := context.Background()

	identity := &models.Identity{
		PrincipalARN:  "arn:aws:iam::123456789012:user/alice-" + uuid.NewString()[:8],
		PrincipalType: models.PrincipalUser,
		DisplayName:   "alice",
	}
	if err := store.UpsertIdentity(ctx, identity); err != nil {
		t.Fatalf("upserting identity: %v", err)
	}

	ent := &models.Entitlement{
		IdentityID: identity.ID,
		PolicyARN:  "arn:aws:iam::aws:policy/PowerUserAccess",
		PolicyName: "PowerUserAccess",
	}
	if err := store.UpsertEntitlement(ctx, ent); err != nil {
		t.Fatalf("upserting entitlement: %v", err)
	}

	campaign := &models.Campaign{
		Name:          "test-" + uuid.NewString()[:8],
		RiskThreshold: models.RiskMedium,
		RuleVersion:   "v1",
		TaskCount:     1,
	}
	tasks := []models.ReviewTask{{
		IdentityID:    identity.ID,
		EntitlementID: ent.ID,
		PrincipalARN:  identity.PrincipalARN,
		DisplayName:   identity.DisplayName,
		PolicyARN:     ent.PolicyARN,
		PolicyName:    ent.PolicyName,
		RiskTier:      models.RiskMedium,
		State:         models.TaskCreated,
	}}
	if err := store.CreateCampaign(ctx, campaign, tasks); err != nil {
		t.Fatalf("creating campaign: %v", err)
	}
	return campaign, tasks
}

func TestStore_CampaignLifecycle(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	campaign, tasks := seedCampaign(t, store)

	got, err := store.GetCampaign(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	if got == nil || got.Status != models.CampaignOpen || got.TaskCount != 1 {
		t.Fatalf("unexpected campaign: %+v", got)
	}

	open, err := store.ListOpenEntitlementIDs(ctx)
	if err != nil {
		t.Fatalf("ListOpenEntitlementIDs: %v", err)
	}
	if !open[tasks[0].EntitlementID] {
		t.Errorf("entitlement not reported as open")
	}

	if err := store.CloseCampaign(ctx, campaign.ID); err != nil {
		t.Fatalf("CloseCampaign: %v", err)
	}
	if err := store.CloseCampaign(ctx, campaign.ID); !errors.Is(err, models.ErrConflict) {
		t.Errorf("second close err = %v, want ErrConflict", err)
	}
}

func TestStore_DecisionSingleWriter(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	_, tasks := seedCampaign(t, store)
	taskID := tasks[0].ID

	first := &models.Decision{
		TaskID:   taskID,
		Verdict:  models.VerdictRevoke,
		Reviewer: "carol@example.com",
	}
	if err := store.CreateDecision(ctx, first); err != nil {
		t.Fatalf("CreateDecision: %v", err)
	}

	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.State != models.TaskDecided {
		t.Errorf("task state = %s, want DECIDED", task.State)
	}
	if task.DecidedAt == nil {
		t.Errorf("decided_at not set")
	}

	second := &models.Decision{
		TaskID:   taskID,
		Verdict:  models.VerdictApprove,
		Reviewer: "mallory@example.com",
	}
	if err := store.CreateDecision(ctx, second); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("second decision err = %v, want ErrConflict", err)
	}

	stored, err := store.GetDecisionForTask(ctx, taskID)
	if err != nil {
		t.Fatalf("GetDecisionForTask: %v", err)
	}
	if stored.ID != first.ID || stored.Verdict != models.VerdictRevoke {
		t.Errorf("stored decision mutated: %+v", stored)
	}
}

func TestStore_TaskStateMonotonic(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	_, tasks := seedCampaign(t, store)
	taskID := tasks[0].ID

	// Illegal transition rejected without touching the row.
	err := store.UpdateTaskState(ctx, taskID, models.TaskCreated, models.TaskRemediationDone)
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("illegal transition err = %v, want ErrConflict", err)
	}

	if err := store.UpdateTaskState(ctx, taskID, models.TaskCreated, models.TaskDecided); err != nil {
		t.Fatalf("legal transition: %v", err)
	}

	// Stale expected state rejected.
	err = store.UpdateTaskState(ctx, taskID, models.TaskCreated, models.TaskDecided)
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("stale transition err = %v, want ErrConflict", err)
	}
}

func TestStore_RemediationActionUniquePerTask(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	_, tasks := seedCampaign(t, store)
	taskID := tasks[0].ID

	action := &models.RemediationAction{
		TaskID:  taskID,
		Outcome: models.OutcomeDryRunSkipped,
		Reason:  models.ReasonDryRun,
	}
	if err := store.CreateRemediationAction(ctx, action); err != nil {
		t.Fatalf("CreateRemediationAction: %v", err)
	}

	dup := &models.RemediationAction{
		TaskID:  taskID,
		Outcome: models.OutcomeExecuted,
		Reason:  models.ReasonDetached,
	}
	if err := store.CreateRemediationAction(ctx, dup); err == nil {
		t.Fatalf("duplicate action insert succeeded")
	}

	// Dry-run records may be settled once.
	action.Outcome = models.OutcomeExecuted
	action.Reason = models.ReasonDetached
	action.AttemptedAt = time.Now()
	if err := store.UpdateRemediationAction(ctx, action); err != nil {
		t.Fatalf("UpdateRemediationAction: %v", err)
	}
	if err := store.UpdateRemediationAction(ctx, action); !errors.Is(err, models.ErrConflict) {
		t.Errorf("settled update err = %v, want ErrConflict", err)
	}
}

func TestStore_AuditArtifacts(t *testing.T) {
	store := skipIfNoTestDB(t)
	if store == nil {
		return
	}
	defer store.Close()

	ctx := context.Background()
	campaign, _ := seedCampaign(t, store)

	artifact := &models.AuditArtifact{
		CampaignID:  campaign.ID,
		ContentHash: "deadbeef",
		JSONData:    []byte(`{"rows":[]}`),
		CSVData:     []byte("task_id\n"),
	}
	if err := store.CreateAuditArtifact(ctx, artifact); err != nil {
		t.Fatalf("CreateAuditArtifact: %v", err)
	}

	list, err := store.ListAuditArtifacts(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("ListAuditArtifacts: %v", err)
	}
	if len(list) != 1 || list[0].ContentHash != "deadbeef" {
		t.Fatalf("unexpected artifacts: %+v", list)
	}
}
