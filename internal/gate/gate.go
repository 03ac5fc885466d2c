package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
)

// Detacher is the sole mutating collaborator against the governed system.
// It is invoked from exactly one place: step four of Attempt.
type Detacher interface {
	Detach(ctx context.Context, principalARN string, principalType models.PrincipalType, policyARN string) error
}

// Store persists remediation outcomes and applies monotonic task-state
// updates. UpdateTaskState must be a conditional write (state moves only
// along the legal transition table).
type Store interface {
	GetActionForTask(ctx context.Context, taskID uuid.UUID) (*models.RemediationAction, error)
	CreateRemediationAction(ctx context.Context, action *models.RemediationAction) error
	UpdateRemediationAction(ctx context.Context, action *models.RemediationAction) error
	UpdateTaskState(ctx context.Context, taskID uuid.UUID, from, to models.TaskState) error
}

// Config is passed explicitly at call time so the gate's behavior is a
// pure function of (task, config), never of ambient process state.
type Config struct {
	DryRun             bool
	RemediationEnabled bool
	AllowList          []string
	DenyList           []string
	DetachTimeout      time.Duration
}

// DefaultConfig is safe by construction: dry-run on, execution off.
func DefaultConfig() Config {
	return Config{
		DryRun:             true,
		RemediationEnabled: false,
		DetachTimeout:      30 * time.Second,
	}
}

// baselineDenyList covers full-administrative and break-glass policies.
// It is compiled in and cannot be removed by configuration.
var baselineDenyList = []string{
	"administratoraccess",
	"break-glass",
	"breakglass",
	"root",
}

type Gate struct {
	detacher Detacher
	store    Store
	logger   *slog.Logger
}

func New(detacher Detacher, store Store, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{detacher: detacher, store: store, logger: logger}
}

// Attempt evaluates whether a REVOKE decision may be executed and records
// the outcome. Every path, blocked ones included, persists exactly one
// RemediationAction: auditors must see why access was or was not changed.
//
// Evaluation order, short-circuiting on first match:
//  1. deny list (baseline floor + configured entries)
//  2. allow list (when non-empty, policy must match an entry)
//  3. double opt-in (remediationEnabled AND not dryRun, independently)
//  4. external detach call, bounded by DetachTimeout
//
// A prior definitive outcome (EXECUTED or BLOCKED) is returned as-is and
// never retried: retrying a destructive operation without reconfirmation
// would break the double-opt-in guarantee. A prior DRY_RUN_SKIPPED is
// provisional and superseded by the next attempt's outcome.
func (g *Gate) Attempt(ctx context.Context, task *models.ReviewTask, decision *models.Decision, cfg Config) (*models.RemediationAction, error) {
	if decision == nil || decision.TaskID != task.ID {
		return nil, fmt.Errorf("%w: decision does not belong to task %s", models.ErrConfiguration, task.ID)
	}
	if decision.Verdict != models.VerdictRevoke {
		return nil, fmt.Errorf("%w: remediation requires a REVOKE verdict, got %s", models.ErrConfiguration, decision.Verdict)
	}

	existing, err := g.store.GetActionForTask(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("loading prior action: %w", err)
	}
	if existing != nil && existing.Outcome != models.OutcomeDryRunSkipped {
		g.logger.Debug("remediation already settled",
			"task_id", task.ID,
			"outcome", existing.Outcome)
		return existing, nil
	}

	outcome, reason, detail := g.evaluate(ctx, task, cfg)

	action := &models.RemediationAction{
		ID:          uuid.New(),
		TaskID:      task.ID,
		Outcome:     outcome,
		Reason:      reason,
		Detail:      detail,
		AttemptedAt: time.Now(),
	}

	if existing != nil {
		action.ID = existing.ID
		err = g.store.UpdateRemediationAction(ctx, action)
	} else {
		err = g.store.CreateRemediationAction(ctx, action)
	}
	if err != nil {
		return nil, fmt.Errorf("persisting remediation action: %w", err)
	}

	if err := g.advanceTask(ctx, task, outcome); err != nil {
		return nil, err
	}

	g.logger.Info("remediation attempt recorded",
		"task_id", task.ID,
		"policy", task.PolicyName,
		"outcome", outcome,
		"reason", reason)

	return action, nil
}

func (g *Gate) evaluate(ctx context.Context, task *models.ReviewTask, cfg Config) (models.RemediationOutcome, models.ReasonCode, string) {
	policy := strings.ToLower(task.PolicyName)

	for _, marker := range baselineDenyList {
		if strings.Contains(policy, marker) {
			return models.OutcomeBlocked, models.ReasonDenylisted, fmt.Sprintf("matched baseline deny entry %q", marker)
		}
	}
	for _, entry := range cfg.DenyList {
		if entry != "" && strings.Contains(policy, strings.ToLower(entry)) {
			return models.OutcomeBlocked, models.ReasonDenylisted, fmt.Sprintf("matched deny entry %q", entry)
		}
	}

	if len(cfg.AllowList) > 0 {
		allowed := false
		for _, entry := range cfg.AllowList {
			if entry != "" && strings.Contains(policy, strings.ToLower(entry)) {
				allowed = true
				break
			}
		}
		if !allowed {
			return models.OutcomeBlocked, models.ReasonNotAllowlisted, "policy matches no allow-list entry"
		}
	}

	// Double opt-in: both flags must independently affirm execution before
	// any external mutating call is attempted.
	if !cfg.RemediationEnabled {
		return models.OutcomeDryRunSkipped, models.ReasonRemediationDisabled, ""
	}
	if cfg.DryRun {
		return models.OutcomeDryRunSkipped, models.ReasonDryRun, ""
	}

	timeout := cfg.DetachTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().DetachTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	principalType := models.PrincipalUser
	if task.RoleName != "" {
		principalType = models.PrincipalRole
	}

	if err := g.detacher.Detach(callCtx, task.PrincipalARN, principalType, task.PolicyARN); err != nil {
		// Timeouts and ambiguous failures are treated as failure, recorded
		// and never silently retried.
		return models.OutcomeBlocked, models.ReasonDetachFailed, err.Error()
	}

	return models.OutcomeExecuted, models.ReasonDetached, ""
}

func (g *Gate) advanceTask(ctx context.Context, task *models.ReviewTask, outcome models.RemediationOutcome) error {
	var next models.TaskState
	switch outcome {
	case models.OutcomeExecuted:
		next = models.TaskRemediationDone
	case models.OutcomeBlocked:
		next = models.TaskRemediationBlocked
	case models.OutcomeDryRunSkipped:
		next = models.TaskRemediationPending
	default:
		return fmt.Errorf("unknown remediation outcome: %s", outcome)
	}

	if task.State == next {
		return nil
	}
	if err := g.store.UpdateTaskState(ctx, task.ID, task.State, next); err != nil {
		return fmt.Errorf("advancing task %s to %s: %w", task.ID, next, err)
	}
	task.State = next
	return nil
}
