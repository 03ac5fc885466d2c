package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/accessguard/iga/internal/models"
)

type Store struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) UpsertIdentity(ctx context.Context, identity *models.Identity) error {
	query := `
		INSERT INTO identities (id, principal_arn, principal_type, display_name, discovered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (principal_arn) DO UPDATE SET
			display_name = EXCLUDED.display_name
		RETURNING id
	`
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	if identity.DiscoveredAt.IsZero() {
		identity.DiscoveredAt = time.Now()
	}

	return s.db.QueryRowContext(ctx, query,
		identity.ID,
		identity.PrincipalARN,
		identity.PrincipalType,
		identity.DisplayName,
		identity.DiscoveredAt,
	).Scan(&identity.ID)
}

func (s *Store) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	var identity models.Identity
	query := `SELECT * FROM identities WHERE id = $1`
	err := s.db.GetContext(ctx, &identity, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &identity, err
}

func (s *Store) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	var identities []models.Identity
	query := `SELECT * FROM identities ORDER BY principal_arn`
	err := s.db.SelectContext(ctx, &identities, query)
	return identities, err
}

func (s *Store) UpsertEntitlement(ctx context.Context, ent *models.Entitlement) error {
	query := `
		INSERT INTO entitlements (id, identity_id, policy_arn, policy_name, role_name, discovered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identity_id, policy_name) DO UPDATE SET
			policy_arn = EXCLUDED.policy_arn,
			role_name = EXCLUDED.role_name
		RETURNING id
	`
	if ent.ID == uuid.Nil {
		ent.ID = uuid.New()
	}
	if ent.DiscoveredAt.IsZero() {
		ent.DiscoveredAt = time.Now()
	}

	return s.db.QueryRowContext(ctx, query,
		ent.ID,
		ent.IdentityID,
		ent.PolicyARN,
		ent.PolicyName,
		ent.RoleName,
		ent.DiscoveredAt,
	).Scan(&ent.ID)
}

func (s *Store) ListEntitlements(ctx context.Context) ([]models.Entitlement, error) {
	var ents []models.Entitlement
	query := `SELECT * FROM entitlements ORDER BY identity_id, policy_name`
	err := s.db.SelectContext(ctx, &ents, query)
	return ents, err
}
