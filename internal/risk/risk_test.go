package risk

import (
	"errors"
	"testing"

	"github.com/accessguard/iga/internal/models"
)

func TestClassifier_RuleTable(t *testing.T) {
	c := MustCurrent()

	tests := []struct {
		name     string
		role     string
		policy   string
		expected models.RiskTier
	}{
		{"full admin policy", "developer", "AdministratorAccess", models.RiskHigh},
		{"admin substring", "ops", "AdminReadOnly", models.RiskHigh},
		{"break glass", "oncall", "break-glass-prod", models.RiskHigh},
		{"root marker in role", "root-operator", "ReadOnlyAccess", models.RiskHigh},
		{"write marker in role", "db-write-runner", "CustomBillingView", models.RiskMedium},
		{"power user", "developer", "PowerUserAccess", models.RiskMedium},
		{"scoped full access", "developer", "AmazonS3FullAccess", models.RiskMedium},
		{"write access", "ci", "DynamoDBWriteOnly", models.RiskMedium},
		{"read only", "analyst", "ReadOnlyAccess", models.RiskLow},
		{"empty names", "", "", models.RiskLow},
		{"case insensitive", "DEVELOPER", "ADMINISTRATORACCESS", models.RiskHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.role, tt.policy); got != tt.expected {
				t.Errorf("Classify(%q, %q) = %s, expected %s", tt.role, tt.policy, got, tt.expected)
			}
		})
	}
}

// A name matching both an admin marker and a scoped marker must resolve to
// the most privileged tier, regardless of where the markers sit.
func TestClassifier_PrecedenceMostPrivilegedWins(t *testing.T) {
	c := MustCurrent()

	if got := c.Classify("developer", "AdminWriteAccess"); got != models.RiskHigh {
		t.Errorf("expected HIGH for overlapping markers, got %s", got)
	}
	if got := c.Classify("poweruser", "AdministratorAccess"); got != models.RiskHigh {
		t.Errorf("expected HIGH for overlapping markers, got %s", got)
	}
}

func TestClassifier_Deterministic(t *testing.T) {
	c := MustCurrent()

	inputs := [][2]string{
		{"developer", "AdministratorAccess"},
		{"analyst", "ReadOnlyAccess"},
		{"ci", "S3FullAccess"},
	}

	for _, in := range inputs {
		first := c.Classify(in[0], in[1])
		for i := 0; i < 10; i++ {
			if got := c.Classify(in[0], in[1]); got != first {
				t.Fatalf("Classify(%q, %q) not deterministic: %s then %s", in[0], in[1], first, got)
			}
		}
	}
}

func TestNew_UnknownVersion(t *testing.T) {
	_, err := New("v999")
	if err == nil {
		t.Fatal("expected error for unknown rule version")
	}
	if !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestNew_CurrentVersion(t *testing.T) {
	c, err := New(CurrentRuleVersion)
	if err != nil {
		t.Fatalf("New(%s) failed: %v", CurrentRuleVersion, err)
	}
	if c.Version() != CurrentRuleVersion {
		t.Errorf("expected version %s, got %s", CurrentRuleVersion, c.Version())
	}
}
