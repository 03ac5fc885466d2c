package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/accessguard/iga/internal/auth"
	"github.com/accessguard/iga/internal/blob"
	"github.com/accessguard/iga/internal/campaign"
	"github.com/accessguard/iga/internal/config"
	"github.com/accessguard/iga/internal/enrich"
	"github.com/accessguard/iga/internal/export"
	"github.com/accessguard/iga/internal/gate"
	"github.com/accessguard/iga/internal/notifications"
	"github.com/accessguard/iga/internal/pipeline"
	"github.com/accessguard/iga/internal/queue"
	"github.com/accessguard/iga/internal/reports"
	"github.com/accessguard/iga/internal/review"
	"github.com/accessguard/iga/internal/risk"
	"github.com/accessguard/iga/internal/scheduler"
	"github.com/accessguard/iga/internal/source"
	"github.com/accessguard/iga/internal/source/aws"
	"github.com/accessguard/iga/internal/store"
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	store  *store.Store
	http   *http.Server
	logger *slog.Logger

	authService *auth.Service
	userStore   auth.UserStore

	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	pipeline  *pipeline.Pipeline
	collector *review.Collector

	reportGenerator     *reports.Generator
	notificationService *notifications.Service

	source   source.Source
	detacher gate.Detacher
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSource overrides the AWS IAM source, for fixture-backed runs.
func WithSource(src source.Source) ServerOption {
	return func(s *Server) {
		s.source = src
	}
}

// WithDetacher overrides the AWS detacher the gate executes through.
func WithDetacher(d gate.Detacher) ServerOption {
	return func(s *Server) {
		s.detacher = d
	}
}

func NewServer(ctx context.Context, cfg *config.Config, opts ...ServerOption) (*Server, error) {
	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		store:  st,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.userStore = auth.NewPostgresUserStore(st.DB())
	s.authService = auth.NewService(auth.Config{
		JWTSecret:          cfg.Auth.JWTSecret,
		AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
	}, s.userStore)

	s.queue, err = queue.New(queue.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing queue: %w", err)
	}

	s.scheduler = scheduler.New(st, s.queue, s.logger)

	s.notificationService = notifications.NewService(notifications.Config{
		Slack: notifications.SlackConfig{
			WebhookURL: cfg.Notifications.Slack.WebhookURL,
			Channel:    cfg.Notifications.Slack.Channel,
			Username:   "AccessGuard",
			IconEmoji:  ":lock:",
			Enabled:    cfg.Notifications.Slack.Enabled,
			MinTier:    cfg.Notifications.MinTier,
		},
		Email: notifications.EmailConfig{
			SMTPHost: cfg.Notifications.Email.SMTPHost,
			SMTPPort: cfg.Notifications.Email.SMTPPort,
			Username: cfg.Notifications.Email.Username,
			Password: cfg.Notifications.Email.Password,
			From:     cfg.Notifications.Email.From,
			To:       cfg.Notifications.Email.To,
			Enabled:  cfg.Notifications.Email.Enabled,
			MinTier:  cfg.Notifications.MinTier,
		},
	}, s.logger)

	if s.source == nil || s.detacher == nil {
		conn, err := aws.New(ctx, aws.Config{
			Region:        cfg.AWS.Region,
			AssumeRoleARN: cfg.AWS.AssumeRoleARN,
			ExternalID:    cfg.AWS.ExternalID,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing aws connector: %w", err)
		}
		if s.source == nil {
			s.source = conn
		}
		if s.detacher == nil {
			s.detacher = conn
		}
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

	s.pipeline = pipeline.New(pipeline.Options{
		Source:   s.source,
		Store:    st,
		Builder:  campaign.NewBuilder(risk.MustCurrent(), st, s.logger),
		Enricher: enrich.New(explainer, st, cfg.OpenAI.Timeout, s.logger),
		Gate:     gate.New(s.detacher, st, s.logger),
		Exporter: export.New(st, uploader, s.logger),
		Notifier: s.notificationService,
		GateCfg:  gateCfg,
		Workers:  cfg.Campaign.Workers,
		Logger:   s.logger,
	})

	s.collector = review.NewCollector(st, s.logger)
	s.reportGenerator = reports.NewGenerator(st)

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)

			r.Post("/auth/logout", s.logout)
			r.Get("/auth/me", s.getCurrentUser)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Post("/users", s.createUser)
			})

			r.Route("/identities", func(r chi.Router) {
				r.Get("/", s.listIdentities)
				r.Get("/entitlements", s.listEntitlements)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleOperator))
				r.Post("/discover", s.triggerDiscover)
			})

			r.Route("/campaigns", func(r chi.Router) {
				r.Get("/", s.listCampaigns)
				r.Get("/{campaignID}", s.getCampaign)
				r.Get("/{campaignID}/tasks", s.listCampaignTasks)
				r.Get("/{campaignID}/decisions", s.listCampaignDecisions)
				r.Get("/{campaignID}/actions", s.listCampaignActions)
				r.Get("/{campaignID}/artifacts", s.listCampaignArtifacts)
				r.Get("/{campaignID}/report", s.campaignReport)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleOperator))
					r.Post("/", s.createCampaign)
					r.Post("/{campaignID}/close", s.closeCampaign)
					r.Post("/{campaignID}/enrich", s.triggerEnrich)
					r.Post("/{campaignID}/remediate", s.triggerRemediate)
					r.Post("/{campaignID}/export", s.triggerExport)
				})
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/{taskID}", s.getTask)
				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleOperator))
					r.Post("/{taskID}/decision", s.recordDecision)
				})
			})

			r.Route("/artifacts", func(r chi.Router) {
				r.Get("/{artifactID}", s.getArtifact)
				r.Get("/{artifactID}/download", s.downloadArtifact)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/stats", s.queueStats)
				r.Get("/{jobID}", s.jobStatus)
			})

			r.Route("/schedules", func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/", s.listSchedules)
				r.Post("/", s.createSchedule)
				r.Get("/{scheduleID}", s.getSchedule)
				r.Patch("/{scheduleID}", s.setScheduleEnabled)
				r.Delete("/{scheduleID}", s.deleteSchedule)
			})
		})
	})
}

func (s *Server) Run(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		s.logger.Error("failed to start scheduler", "error", err)
	}

	worker := queue.NewWorker(queue.WorkerConfig{
		Queue:    s.queue,
		Pipeline: s.pipeline,
		Logger:   s.logger,
	})
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.scheduler.Stop()
		worker.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
