package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type RiskTier string

const (
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskHigh   RiskTier = "HIGH"
)

// Rank maps a tier onto the total ordering LOW < MEDIUM < HIGH.
// Unknown tiers rank below LOW.
func (t RiskTier) Rank() int {
	switch t {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	}
	return 0
}

func (t RiskTier) Valid() bool {
	return t.Rank() > 0
}

// AtLeast reports whether t meets or exceeds threshold.
func (t RiskTier) AtLeast(threshold RiskTier) bool {
	return t.Rank() >= threshold.Rank()
}

type PrincipalType string

const (
	PrincipalUser PrincipalType = "USER"
	PrincipalRole PrincipalType = "ROLE"
)

// TaskState is the lifecycle state of a ReviewTask. Transitions are
// monotonic; Allows is the single source of truth for legality.
type TaskState string

const (
	TaskCreated            TaskState = "CREATED"
	TaskDecided            TaskState = "DECIDED"
	TaskRemediationPending TaskState = "REMEDIATION_PENDING"
	TaskRemediationBlocked TaskState = "REMEDIATION_BLOCKED"
	TaskRemediationDone    TaskState = "REMEDIATION_EXECUTED"
	TaskNoAction           TaskState = "NO_ACTION"
)

var taskTransitions = map[TaskState][]TaskState{
	TaskCreated: {TaskDecided},
	TaskDecided: {TaskRemediationPending, TaskRemediationBlocked, TaskRemediationDone, TaskNoAction},
	TaskRemediationPending: {TaskRemediationBlocked, TaskRemediationDone},
	TaskRemediationBlocked: {},
	TaskRemediationDone:    {},
	TaskNoAction:           {},
}

// Allows reports whether a transition from s to next is legal.
func (s TaskState) Allows(next TaskState) bool {
	for _, t := range taskTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s TaskState) Terminal() bool {
	return len(taskTransitions[s]) == 0
}

type Verdict string

const (
	VerdictApprove Verdict = "APPROVE"
	VerdictRevoke  Verdict = "REVOKE"
)

func (v Verdict) Valid() bool {
	return v == VerdictApprove || v == VerdictRevoke
}

type RemediationOutcome string

const (
	OutcomeExecuted      RemediationOutcome = "EXECUTED"
	OutcomeBlocked       RemediationOutcome = "BLOCKED"
	OutcomeDryRunSkipped RemediationOutcome = "DRY_RUN_SKIPPED"
)

// ReasonCode explains why a remediation attempt ended the way it did.
type ReasonCode string

const (
	ReasonDenylisted          ReasonCode = "DENYLISTED"
	ReasonNotAllowlisted      ReasonCode = "NOT_ALLOWLISTED"
	ReasonDryRun              ReasonCode = "DRY_RUN"
	ReasonRemediationDisabled ReasonCode = "REMEDIATION_DISABLED"
	ReasonDetachFailed        ReasonCode = "DETACH_FAILED"
	ReasonDetached            ReasonCode = "DETACHED"
)

type CampaignStatus string

const (
	CampaignOpen   CampaignStatus = "open"
	CampaignClosed CampaignStatus = "closed"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Identity is a governed principal. Immutable once discovered; re-discovery
// may add identities but never mutates existing rows mid-campaign.
type Identity struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	PrincipalARN  string        `json:"principal_arn" db:"principal_arn"`
	PrincipalType PrincipalType `json:"principal_type" db:"principal_type"`
	DisplayName   string        `json:"display_name" db:"display_name"`
	DiscoveredAt  time.Time     `json:"discovered_at" db:"discovered_at"`
}

// Entitlement is an (identity, attached policy) grant. Unique per
// (identity, policy name) within a discovery snapshot.
type Entitlement struct {
	ID           uuid.UUID `json:"id" db:"id"`
	IdentityID   uuid.UUID `json:"identity_id" db:"identity_id"`
	PolicyARN    string    `json:"policy_arn" db:"policy_arn"`
	PolicyName   string    `json:"policy_name" db:"policy_name"`
	RoleName     string    `json:"role_name" db:"role_name"`
	DiscoveredAt time.Time `json:"discovered_at" db:"discovered_at"`
}

// Campaign is a named, timestamped batch of review tasks built from one
// discovery snapshot at one risk threshold.
type Campaign struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	Name          string         `json:"name" db:"name"`
	RiskThreshold RiskTier       `json:"risk_threshold" db:"risk_threshold"`
	RuleVersion   string         `json:"rule_version" db:"rule_version"`
	Status        CampaignStatus `json:"status" db:"status"`
	TaskCount     int            `json:"task_count" db:"task_count"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty" db:"closed_at"`
}

// ReviewTask carries denormalized principal and policy fields so the gate
// and the exporter never need to re-join against discovery tables.
type ReviewTask struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	CampaignID    uuid.UUID  `json:"campaign_id" db:"campaign_id"`
	IdentityID    uuid.UUID  `json:"identity_id" db:"identity_id"`
	EntitlementID uuid.UUID  `json:"entitlement_id" db:"entitlement_id"`
	PrincipalARN  string     `json:"principal_arn" db:"principal_arn"`
	DisplayName   string     `json:"display_name" db:"display_name"`
	PolicyARN     string     `json:"policy_arn" db:"policy_arn"`
	PolicyName    string     `json:"policy_name" db:"policy_name"`
	RoleName      string     `json:"role_name" db:"role_name"`
	RiskTier      RiskTier   `json:"risk_tier" db:"risk_tier"`
	Explanation   string     `json:"explanation,omitempty" db:"explanation"`
	State         TaskState  `json:"state" db:"state"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	DecidedAt     *time.Time `json:"decided_at,omitempty" db:"decided_at"`
}

// Decision is immutable once recorded. A second decision attempt with a
// differing verdict fails with ErrConflict rather than overwriting.
type Decision struct {
	ID         uuid.UUID `json:"id" db:"id"`
	TaskID     uuid.UUID `json:"task_id" db:"task_id"`
	Verdict    Verdict   `json:"verdict" db:"verdict"`
	Reviewer   string    `json:"reviewer" db:"reviewer"`
	Comment    string    `json:"comment,omitempty" db:"comment"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// RemediationAction records every remediation attempt, blocked ones
// included. Exactly one action exists per REVOKE decision.
type RemediationAction struct {
	ID          uuid.UUID          `json:"id" db:"id"`
	TaskID      uuid.UUID          `json:"task_id" db:"task_id"`
	Outcome     RemediationOutcome `json:"outcome" db:"outcome"`
	Reason      ReasonCode         `json:"reason" db:"reason"`
	Detail      string             `json:"detail,omitempty" db:"detail"`
	AttemptedAt time.Time          `json:"attempted_at" db:"attempted_at"`
}

// AuditArtifact is an immutable export of a campaign's full
// task/decision/action graph. Re-export produces a new artifact.
type AuditArtifact struct {
	ID          uuid.UUID `json:"id" db:"id"`
	CampaignID  uuid.UUID `json:"campaign_id" db:"campaign_id"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	JSONData    []byte    `json:"-" db:"json_data"`
	CSVData     []byte    `json:"-" db:"csv_data"`
	RemoteKey   string    `json:"remote_key,omitempty" db:"remote_key"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
