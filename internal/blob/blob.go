// Package blob provides object-storage backends for audit artifact
// uploads. All backends implement the same Put-only interface: exports
// are written once and never rewritten.
package blob

import (
	"context"
	"fmt"

	"github.com/accessguard/iga/internal/models"
)

type Uploader interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Config selects and configures a backend. Backend is one of "s3",
// "gcs" or "azure"; an empty backend disables uploads.
type Config struct {
	Backend string `yaml:"backend"`
	Bucket  string `yaml:"bucket"`

	// AWS
	Region        string `yaml:"region"`
	AssumeRoleARN string `yaml:"assume_role_arn"`
	ExternalID    string `yaml:"external_id"`

	// GCP
	CredentialsFile string `yaml:"credentials_file"`

	// Azure
	AccountName string `yaml:"account_name"`
}

// New builds the configured uploader. A nil, nil return means uploads
// are disabled.
func New(ctx context.Context, cfg Config) (Uploader, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "s3":
		return newS3Uploader(ctx, cfg)
	case "gcs":
		return newGCSUploader(ctx, cfg)
	case "azure":
		return newAzureUploader(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown blob backend %q", models.ErrConfiguration, cfg.Backend)
	}
}
