// Package source abstracts where identities and entitlements come from.
// The AWS connector is the production source; Static backs offline runs
// and fixture-driven tests.
package source

import (
	"context"

	"github.com/accessguard/iga/internal/models"
)

// Source enumerates principals and their attached policies. Listings are
// point-in-time snapshots; callers persist them before building campaigns.
type Source interface {
	ListIdentities(ctx context.Context) ([]models.Identity, error)
	ListEntitlements(ctx context.Context, identity models.Identity) ([]models.Entitlement, error)
}

// Static serves fixed slices. Entitlements are keyed by principal ARN.
type Static struct {
	Identities   []models.Identity
	Entitlements map[string][]models.Entitlement
}

func (s *Static) ListIdentities(_ context.Context) ([]models.Identity, error) {
	out := make([]models.Identity, len(s.Identities))
	copy(out, s.Identities)
	return out, nil
}

func (s *Static) ListEntitlements(_ context.Context, identity models.Identity) ([]models.Entitlement, error) {
	ents := s.Entitlements[identity.PrincipalARN]
	out := make([]models.Entitlement, len(ents))
	copy(out, ents)
	return out, nil
}
