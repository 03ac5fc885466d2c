package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/blob"
	"github.com/accessguard/iga/internal/campaign"
	"github.com/accessguard/iga/internal/config"
	"github.com/accessguard/iga/internal/enrich"
	"github.com/accessguard/iga/internal/export"
	"github.com/accessguard/iga/internal/gate"
	"github.com/accessguard/iga/internal/models"
	"github.com/accessguard/iga/internal/pipeline"
	"github.com/accessguard/iga/internal/review"
	"github.com/accessguard/iga/internal/risk"
	"github.com/accessguard/iga/internal/source/aws"
	"github.com/accessguard/iga/internal/store"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const usage = `Usage: iga [flags] <command> [args]

Commands:
  migrate                     apply pending database migrations
  discover                    discover identities and entitlements from AWS IAM
  build      -name -threshold build a review campaign from the latest snapshot
  enrich     -campaign        attach explanations to high-risk tasks
  decide     -task -verdict -reviewer
                              record a review decision
  remediate  -campaign        settle decided tasks through the remediation gate
  export     -campaign        export an immutable audit artifact
`

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("iga v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if flag.NArg() == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx := context.Background()

	if err := run(ctx, cfg, logger, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, command string, args []string) error {
	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()

	if command == "migrate" {
		return st.Migrate(ctx, logger)
	}
	if err := st.Migrate(ctx, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	switch command {
	case "discover":
		p, err := buildPipeline(ctx, cfg, st, logger)
		if err != nil {
			return err
		}
		result, err := p.Discover(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Discovered %d identities, %d entitlements (%d principals failed)\n",
			result.Identities, result.Entitlements, result.Failed)
		return nil

	case "build":
		fs := flag.NewFlagSet("build", flag.ExitOnError)
		name := fs.String("name", "", "campaign name")
		threshold := fs.String("threshold", string(cfg.Campaign.RiskThreshold), "risk threshold (LOW, MEDIUM, HIGH)")
		_ = fs.Parse(args)
		if *name == "" {
			return fmt.Errorf("%w: -name is required", models.ErrConfiguration)
		}
		p, err := buildPipeline(ctx, cfg, st, logger)
		if err != nil {
			return err
		}
		c, err := p.BuildCampaign(ctx, *name, models.RiskTier(*threshold))
		if err != nil {
			return err
		}
		fmt.Printf("Campaign %s created: %s (%d tasks)\n", c.Name, c.ID, c.TaskCount)
		return nil

	case "enrich":
		id, err := campaignArg(args)
		if err != nil {
			return err
		}
		p, err := buildPipeline(ctx, cfg, st, logger)
		if err != nil {
			return err
		}
		n, err := p.Enrich(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Enriched %d tasks\n", n)
		return nil

	case "decide":
		fs := flag.NewFlagSet("decide", flag.ExitOnError)
		taskID := fs.String("task", "", "review task id")
		verdict := fs.String("verdict", "", "APPROVE or REVOKE")
		reviewer := fs.String("reviewer", "", "reviewer identifier")
		_ = fs.Parse(args)
		id, err := uuid.Parse(*taskID)
		if err != nil {
			return fmt.Errorf("%w: invalid task id %q", models.ErrConfiguration, *taskID)
		}
		collector := review.NewCollector(st, logger)
		decision, err := collector.Record(ctx, id, models.Verdict(*verdict), *reviewer)
		if err != nil {
			return err
		}
		fmt.Printf("Decision %s recorded: %s by %s\n", decision.ID, decision.Verdict, decision.Reviewer)
		return nil

	case "remediate":
		id, err := campaignArg(args)
		if err != nil {
			return err
		}
		p, err := buildPipeline(ctx, cfg, st, logger)
		if err != nil {
			return err
		}
		result, err := p.Remediate(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Remediation complete: %d executed, %d blocked, %d skipped, %d no-action, %d failed\n",
			result.Executed, result.Blocked, result.Skipped, result.NoAction, result.Failed)
		return nil

	case "export":
		id, err := campaignArg(args)
		if err != nil {
			return err
		}
		p, err := buildPipeline(ctx, cfg, st, logger)
		if err != nil {
			return err
		}
		artifact, err := p.Export(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Artifact %s exported, content hash %s\n", artifact.ID, artifact.ContentHash)
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func campaignArg(args []string) (uuid.UUID, error) {
	fs := flag.NewFlagSet("campaign", flag.ExitOnError)
	campaignID := fs.String("campaign", "", "campaign id")
	_ = fs.Parse(args)
	id, err := uuid.Parse(*campaignID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid campaign id %q", models.ErrConfiguration, *campaignID)
	}
	return id, nil
}

func buildPipeline(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) (*pipeline.Pipeline, error) {
	conn, err := aws.New(ctx, aws.Config{
		Region:        cfg.AWS.Region,
		AssumeRoleARN: cfg.AWS.AssumeRoleARN,
		ExternalID:    cfg.AWS.ExternalID,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing aws connector: %w", err)
	}

	uploader, err := blob.New(ctx, blob.Config{
		Backend:         cfg.Export.Backend,
		Bucket:          cfg.Export.Bucket,
		Region:          cfg.Export.Region,
		AssumeRoleARN:   cfg.Export.AssumeRoleARN,
		ExternalID:      cfg.Export.ExternalID,
		CredentialsFile: cfg.Export.CredentialsFile,
		AccountName:     cfg.Export.AccountName,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing export uploader: %w", err)
	}

	var explainer enrich.Explainer
	if cfg.OpenAI.APIKey != "" {
		explainer, err = enrich.NewOpenAIExplainer(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
		if err != nil {
			return nil, fmt.Errorf("initializing explainer: %w", err)
		}
	}

	gateCfg := gate.DefaultConfig()
	gateCfg.DryRun = cfg.Remediation.DryRunEnabled()
	gateCfg.RemediationEnabled = cfg.Remediation.RemediationEnabled
	gateCfg.AllowList = cfg.Remediation.AllowList
	gateCfg.DenyList = cfg.Remediation.DenyList
	if cfg.Remediation.DetachTimeout > 0 {
		gateCfg.DetachTimeout = cfg.Remediation.DetachTimeout
	}

	return pipeline.New(pipeline.Options{
		Source:   conn,
		Store:    st,
		Builder:  campaign.NewBuilder(risk.MustCurrent(), st, logger),
		Enricher: enrich.New(explainer, st, cfg.OpenAI.Timeout, logger),
		Gate:     gate.New(conn, st, logger),
		Exporter: export.New(st, uploader, logger),
		GateCfg:  gateCfg,
		Workers:  cfg.Campaign.Workers,
		Logger:   logger,
	}), nil
}
