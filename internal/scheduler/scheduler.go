// Package scheduler turns stored cron schedules into queued pipeline
// stage jobs. It never runs stages itself; the queue workers do.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/accessguard/iga/internal/models"
	"github.com/accessguard/iga/internal/queue"
	"github.com/accessguard/iga/internal/store"
)

type Store interface {
	ListEnabledSchedules(ctx context.Context) ([]store.Schedule, error)
	GetSchedule(ctx context.Context, id uuid.UUID) (*store.Schedule, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) error
}

type Scheduler struct {
	cron    *cron.Cron
	store   Store
	queue   Enqueuer
	entries map[uuid.UUID]cron.EntryID
	mu      sync.Mutex
	logger  *slog.Logger
}

func New(st Store, q Enqueuer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		store:   st,
		queue:   q,
		entries: make(map[uuid.UUID]cron.EntryID),
		logger:  logger,
	}
}

// Start loads enabled schedules and begins firing them. A schedule with
// a bad cron expression is logged and skipped, it does not abort startup.
func (s *Scheduler) Start(ctx context.Context) error {
	schedules, err := s.store.ListEnabledSchedules(ctx)
	if err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}

	for i := range schedules {
		if err := s.add(schedules[i]); err != nil {
			s.logger.Error("skipping schedule",
				"schedule", schedules[i].Name, "error", err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "schedules", len(s.entries))
	return nil
}

func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Reload re-reads one schedule from the store and reschedules it;
// disabled or deleted schedules are removed.
func (s *Scheduler) Reload(ctx context.Context, id uuid.UUID) error {
	s.remove(id)

	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if sched == nil || !sched.Enabled {
		return nil
	}
	return s.add(*sched)
}

func (s *Scheduler) add(sched store.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, err := s.cron.AddFunc(sched.CronExpr, func() {
		s.fire(sched)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", sched.CronExpr, err)
	}
	s.entries[sched.ID] = entryID

	s.logger.Info("schedule registered",
		"schedule", sched.Name,
		"stage", sched.Stage,
		"cron", sched.CronExpr)
	return nil
}

func (s *Scheduler) remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

func (s *Scheduler) fire(sched store.Schedule) {
	ctx := context.Background()

	job := &queue.Job{Stage: sched.Stage}
	if v, ok := sched.Params["campaign_id"].(string); ok {
		id, err := uuid.Parse(v)
		if err != nil {
			s.logger.Error("schedule has invalid campaign_id",
				"schedule", sched.Name, "value", v)
			return
		}
		job.CampaignID = &id
	}
	if v, ok := sched.Params["campaign_name"].(string); ok {
		job.CampaignName = v
	}
	if v, ok := sched.Params["risk_threshold"].(string); ok {
		job.RiskThreshold = models.RiskTier(v)
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Error("enqueueing scheduled job failed",
			"schedule", sched.Name, "stage", sched.Stage, "error", err)
		return
	}

	s.logger.Info("scheduled job enqueued",
		"schedule", sched.Name, "stage", sched.Stage, "job_id", job.ID)
}
