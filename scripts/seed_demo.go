// Seeds a local database with demo identities, entitlements, and an admin
// user so the review workflow can be exercised without AWS access.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/auth"
	"github.com/accessguard/iga/internal/config"
	"github.com/accessguard/iga/internal/models"
	"github.com/accessguard/iga/internal/store"
)

var demoUsers = []struct {
	name     string
	policies []string
}{
	{"alice", []string{"AdministratorAccess", "AmazonS3FullAccess"}},
	{"bob", []string{"PowerUserAccess"}},
	{"carol", []string{"ReadOnlyAccess"}},
	{"dave", []string{"IAMFullAccess", "AmazonEC2FullAccess"}},
	{"erin", []string{"AmazonS3ReadOnlyAccess", "CloudWatchReadOnlyAccess"}},
}

var demoRoles = []struct {
	name     string
	policies []string
}{
	{"deploy-role", []string{"AWSCodeDeployFullAccess"}},
	{"break-glass", []string{"AdministratorAccess"}},
	{"audit-role", []string{"SecurityAudit"}},
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	adminEmail := flag.String("admin-email", "admin@example.com", "Admin user email")
	adminPassword := flag.String("admin-password", "", "Admin user password (required)")
	flag.Parse()

	if *adminPassword == "" {
		fmt.Fprintln(os.Stderr, "-admin-password is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	st, err := store.New(store.Config{DSN: cfg.Database.DSN()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(ctx, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	const accountID = "123456789012"
	now := time.Now()
	entitlements := 0

	for _, u := range demoUsers {
		identity := &models.Identity{
			PrincipalARN:  fmt.Sprintf("arn:aws:iam::%s:user/%s", accountID, u.name),
			PrincipalType: models.PrincipalUser,
			DisplayName:   u.name,
			DiscoveredAt:  now,
		}
		if err := st.UpsertIdentity(ctx, identity); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to seed identity %s: %v\n", u.name, err)
			os.Exit(1)
		}
		for _, policy := range u.policies {
			ent := &models.Entitlement{
				IdentityID:   identity.ID,
				PolicyARN:    "arn:aws:iam::aws:policy/" + policy,
				PolicyName:   policy,
				DiscoveredAt: now,
			}
			if err := st.UpsertEntitlement(ctx, ent); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to seed entitlement %s: %v\n", policy, err)
				os.Exit(1)
			}
			entitlements++
		}
	}

	for _, r := range demoRoles {
		identity := &models.Identity{
			PrincipalARN:  fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, r.name),
			PrincipalType: models.PrincipalRole,
			DisplayName:   r.name,
			DiscoveredAt:  now,
		}
		if err := st.UpsertIdentity(ctx, identity); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to seed identity %s: %v\n", r.name, err)
			os.Exit(1)
		}
		for _, policy := range r.policies {
			ent := &models.Entitlement{
				IdentityID:   identity.ID,
				PolicyARN:    "arn:aws:iam::aws:policy/" + policy,
				PolicyName:   policy,
				RoleName:     r.name,
				DiscoveredAt: now,
			}
			if err := st.UpsertEntitlement(ctx, ent); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to seed entitlement %s: %v\n", policy, err)
				os.Exit(1)
			}
			entitlements++
		}
	}

	hash, err := auth.HashPassword(*adminPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash password: %v\n", err)
		os.Exit(1)
	}
	userStore := auth.NewPostgresUserStore(st.DB())
	existing, err := userStore.GetUserByEmail(ctx, *adminEmail)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to look up admin user: %v\n", err)
		os.Exit(1)
	}
	if existing == nil {
		if err := userStore.CreateUser(ctx, &auth.User{
			ID:       uuid.New().String(),
			Email:    *adminEmail,
			Name:     "Administrator",
			Password: hash,
			Role:     auth.RoleAdmin,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user %s\n", *adminEmail)
	}

	fmt.Printf("Seeded %d identities and %d entitlements\n", len(demoUsers)+len(demoRoles), entitlements)
}
