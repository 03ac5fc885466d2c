package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
)

func (s *Store) CreateAuditArtifact(ctx context.Context, artifact *models.AuditArtifact) error {
	if artifact.ID == uuid.Nil {
		artifact.ID = uuid.New()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_artifacts (id, campaign_id, content_hash, json_data, csv_data, remote_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		artifact.ID, artifact.CampaignID, artifact.ContentHash,
		artifact.JSONData, artifact.CSVData, artifact.RemoteKey, artifact.CreatedAt,
	)
	return err
}

func (s *Store) GetAuditArtifact(ctx context.Context, id uuid.UUID) (*models.AuditArtifact, error) {
	var artifact models.AuditArtifact
	query := `SELECT * FROM audit_artifacts WHERE id = $1`
	err := s.db.GetContext(ctx, &artifact, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &artifact, err
}

func (s *Store) ListAuditArtifacts(ctx context.Context, campaignID uuid.UUID) ([]models.AuditArtifact, error) {
	var artifacts []models.AuditArtifact
	query := `
		SELECT id, campaign_id, content_hash, remote_key, created_at, json_data, csv_data
		FROM audit_artifacts WHERE campaign_id = $1 ORDER BY created_at DESC
	`
	err := s.db.SelectContext(ctx, &artifacts, query, campaignID)
	return artifacts, err
}
