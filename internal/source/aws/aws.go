// Package aws discovers IAM users, roles and their attached managed
// policies, and detaches policies for executed revocations.
package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/accessguard/iga/internal/models"
)

type Connector struct {
	iamClient *iam.Client
	accountID string
}

type Config struct {
	Region        string
	AssumeRoleARN string
	ExternalID    string
}

func New(ctx context.Context, cfg Config) (*Connector, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	if cfg.AssumeRoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		creds := stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRoleARN, func(o *stscreds.AssumeRoleOptions) {
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}

	stsClient := sts.NewFromConfig(awsCfg)
	identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("getting caller identity: %w", err)
	}

	return &Connector{
		iamClient: iam.NewFromConfig(awsCfg),
		accountID: aws.ToString(identity.Account),
	}, nil
}

func (c *Connector) AccountID() string {
	return c.accountID
}

func (c *Connector) Validate(ctx context.Context) error {
	_, err := c.iamClient.ListUsers(ctx, &iam.ListUsersInput{MaxItems: aws.Int32(1)})
	if err != nil {
		return fmt.Errorf("validating IAM access: %w", err)
	}
	return nil
}

func (c *Connector) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	var identities []models.Identity

	userPager := iam.NewListUsersPaginator(c.iamClient, &iam.ListUsersInput{})
	for userPager.HasMorePages() {
		page, err := userPager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing users: %w", err)
		}
		for _, u := range page.Users {
			identities = append(identities, models.Identity{
				PrincipalARN:  aws.ToString(u.Arn),
				PrincipalType: models.PrincipalUser,
				DisplayName:   aws.ToString(u.UserName),
			})
		}
	}

	rolePager := iam.NewListRolesPaginator(c.iamClient, &iam.ListRolesInput{})
	for rolePager.HasMorePages() {
		page, err := rolePager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing roles: %w", err)
		}
		for _, r := range page.Roles {
			// Service-linked roles are AWS-managed and not reviewable.
			if strings.HasPrefix(aws.ToString(r.Path), "/aws-service-role/") {
				continue
			}
			identities = append(identities, models.Identity{
				PrincipalARN:  aws.ToString(r.Arn),
				PrincipalType: models.PrincipalRole,
				DisplayName:   aws.ToString(r.RoleName),
			})
		}
	}

	return identities, nil
}

func (c *Connector) ListEntitlements(ctx context.Context, identity models.Identity) ([]models.Entitlement, error) {
	var ents []models.Entitlement
	name := identity.DisplayName

	switch identity.PrincipalType {
	case models.PrincipalUser:
		pager := iam.NewListAttachedUserPoliciesPaginator(c.iamClient, &iam.ListAttachedUserPoliciesInput{
			UserName: aws.String(name),
		})
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("listing attached policies for user %s: %w", name, err)
			}
			for _, p := range page.AttachedPolicies {
				ents = append(ents, models.Entitlement{
					IdentityID: identity.ID,
					PolicyARN:  aws.ToString(p.PolicyArn),
					PolicyName: aws.ToString(p.PolicyName),
				})
			}
		}
	case models.PrincipalRole:
		pager := iam.NewListAttachedRolePoliciesPaginator(c.iamClient, &iam.ListAttachedRolePoliciesInput{
			RoleName: aws.String(name),
		})
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("listing attached policies for role %s: %w", name, err)
			}
			for _, p := range page.AttachedPolicies {
				ents = append(ents, models.Entitlement{
					IdentityID: identity.ID,
					PolicyARN:  aws.ToString(p.PolicyArn),
					PolicyName: aws.ToString(p.PolicyName),
					RoleName:   name,
				})
			}
		}
	default:
		return nil, fmt.Errorf("unknown principal type %q", identity.PrincipalType)
	}

	return ents, nil
}

// Detach removes a managed policy from a principal. Callers gate this
// behind dry-run and allow/deny checks; Detach itself performs no
// safety evaluation.
func (c *Connector) Detach(ctx context.Context, principalARN string, principalType models.PrincipalType, policyARN string) error {
	name, err := principalNameFromARN(principalARN)
	if err != nil {
		return err
	}

	switch principalType {
	case models.PrincipalUser:
		_, err = c.iamClient.DetachUserPolicy(ctx, &iam.DetachUserPolicyInput{
			UserName:  aws.String(name),
			PolicyArn: aws.String(policyARN),
		})
	case models.PrincipalRole:
		_, err = c.iamClient.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  aws.String(name),
			PolicyArn: aws.String(policyARN),
		})
	default:
		return fmt.Errorf("unknown principal type %q", principalType)
	}
	if err != nil {
		return fmt.Errorf("detaching %s from %s: %w", policyARN, principalARN, err)
	}
	return nil
}

// principalNameFromARN extracts the final path segment from an IAM ARN,
// e.g. arn:aws:iam::123456789012:user/eng/alice -> alice.
func principalNameFromARN(arn string) (string, error) {
	idx := strings.LastIndex(arn, "/")
	if idx < 0 || idx == len(arn)-1 {
		return "", fmt.Errorf("malformed principal ARN %q", arn)
	}
	return arn[idx+1:], nil
}
