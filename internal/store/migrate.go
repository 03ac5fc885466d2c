package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

type migration struct {
	version int
	name    string
	ddl     string
}

// Migrations are append-only. Never edit a shipped entry; add a new
// version instead.
var migrations = []migration{
	{
		version: 1,
		name:    "initial schema",
		ddl: `
CREATE TABLE IF NOT EXISTS identities (
	id UUID PRIMARY KEY,
	principal_arn TEXT NOT NULL UNIQUE,
	principal_type TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	discovered_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS entitlements (
	id UUID PRIMARY KEY,
	identity_id UUID NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
	policy_arn TEXT NOT NULL,
	policy_name TEXT NOT NULL,
	role_name TEXT NOT NULL DEFAULT '',
	discovered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (identity_id, policy_name)
);

CREATE TABLE IF NOT EXISTS campaigns (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	risk_threshold TEXT NOT NULL,
	rule_version TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	task_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	closed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS review_tasks (
	id UUID PRIMARY KEY,
	campaign_id UUID NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	identity_id UUID NOT NULL REFERENCES identities(id),
	entitlement_id UUID NOT NULL REFERENCES entitlements(id),
	principal_arn TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	policy_arn TEXT NOT NULL,
	policy_name TEXT NOT NULL,
	role_name TEXT NOT NULL DEFAULT '',
	risk_tier TEXT NOT NULL,
	explanation TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT 'CREATED',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	decided_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_review_tasks_campaign ON review_tasks(campaign_id);
CREATE INDEX IF NOT EXISTS idx_review_tasks_state ON review_tasks(state);

CREATE TABLE IF NOT EXISTS decisions (
	id UUID PRIMARY KEY,
	task_id UUID NOT NULL UNIQUE REFERENCES review_tasks(id) ON DELETE CASCADE,
	verdict TEXT NOT NULL,
	reviewer TEXT NOT NULL,
	comment TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS remediation_actions (
	id UUID PRIMARY KEY,
	task_id UUID NOT NULL UNIQUE REFERENCES review_tasks(id) ON DELETE CASCADE,
	outcome TEXT NOT NULL,
	reason TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	attempted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_artifacts (
	id UUID PRIMARY KEY,
	campaign_id UUID NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	content_hash TEXT NOT NULL,
	json_data BYTEA NOT NULL,
	csv_data BYTEA NOT NULL,
	remote_key TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_audit_artifacts_campaign ON audit_artifacts(campaign_id);
`,
	},
	{
		version: 2,
		name:    "certification schedules",
		ddl: `
CREATE TABLE IF NOT EXISTS schedules (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	cron_expr TEXT NOT NULL,
	stage TEXT NOT NULL,
	params JSONB,
	enabled BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`,
	},
	{
		version: 3,
		name:    "api users and refresh tokens",
		ddl: `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'auditor',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	token TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id);
`,
	},
}

// Migrate applies pending migrations inside transactions and records each
// in schema_version. Safe to run on every startup.
func (s *Store) Migrate(ctx context.Context, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	err = s.db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.ddl); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
		logger.Info("applied migration", "version", m.version, "name", m.name)
	}

	return nil
}
