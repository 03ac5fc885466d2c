package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/accessguard/iga/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Campaign.RiskThreshold != models.RiskMedium {
		t.Errorf("risk threshold = %s, want MEDIUM", cfg.Campaign.RiskThreshold)
	}
	if !cfg.Remediation.DryRunEnabled() {
		t.Errorf("dry run should default to enabled")
	}
	if cfg.Remediation.RemediationEnabled {
		t.Errorf("remediation should default to disabled")
	}
}

func TestLoadExpandsEnvAndParses(t *testing.T) {
	t.Setenv("IGA_DB_PASSWORD", "sekrit")

	path := writeConfig(t, `
database:
  host: db.internal
  password: ${IGA_DB_PASSWORD}
campaign:
  risk_threshold: HIGH
remediation:
  dry_run: false
  remediation_enabled: true
  allow_list:
    - poweruser
  deny_list:
    - billing
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Password != "sekrit" {
		t.Errorf("password = %q, env not expanded", cfg.Database.Password)
	}
	if cfg.Campaign.RiskThreshold != models.RiskHigh {
		t.Errorf("risk threshold = %s", cfg.Campaign.RiskThreshold)
	}
	if cfg.Remediation.DryRunEnabled() {
		t.Errorf("dry_run: false not honored")
	}
	if !cfg.Remediation.RemediationEnabled {
		t.Errorf("remediation_enabled: true not honored")
	}
	if len(cfg.Remediation.AllowList) != 1 || cfg.Remediation.AllowList[0] != "poweruser" {
		t.Errorf("allow list = %v", cfg.Remediation.AllowList)
	}
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	path := writeConfig(t, `
campaign:
  risk_threshold: EXTREME
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid risk threshold")
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "iga",
		Password: "pw", Database: "iga", SSLMode: "disable",
	}
	want := "host=localhost port=5432 user=iga password=pw dbname=iga sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
