package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
	"github.com/accessguard/iga/internal/pipeline"
	"github.com/accessguard/iga/internal/queue"
	"github.com/accessguard/iga/internal/store"
)

type fakeScheduleStore struct {
	schedules []store.Schedule
}

func (s *fakeScheduleStore) ListEnabledSchedules(_ context.Context) ([]store.Schedule, error) {
	return s.schedules, nil
}

func (s *fakeScheduleStore) GetSchedule(_ context.Context, id uuid.UUID) (*store.Schedule, error) {
	for i := range s.schedules {
		if s.schedules[i].ID == id {
			return &s.schedules[i], nil
		}
	}
	return nil, nil
}

type captureQueue struct {
	mu   sync.Mutex
	jobs []*queue.Job
}

func (q *captureQueue) Enqueue(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func TestStartSkipsInvalidCron(t *testing.T) {
	st := &fakeScheduleStore{schedules: []store.Schedule{
		{ID: uuid.New(), Name: "good", CronExpr: "0 6 * * 1", Stage: pipeline.StageDiscover, Enabled: true},
		{ID: uuid.New(), Name: "bad", CronExpr: "not a cron", Stage: pipeline.StageDiscover, Enabled: true},
	}}
	s := New(st, &captureQueue{}, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if len(s.entries) != 1 {
		t.Errorf("registered entries = %d, want 1", len(s.entries))
	}
}

func TestFireBuildsStageJob(t *testing.T) {
	campaignID := uuid.New()
	q := &captureQueue{}
	s := New(&fakeScheduleStore{}, q, nil)

	s.fire(store.Schedule{
		Name:  "quarterly-export",
		Stage: pipeline.StageExport,
		Params: models.JSONB{
			"campaign_id": campaignID.String(),
		},
	})
	s.fire(store.Schedule{
		Name:  "quarterly-build",
		Stage: pipeline.StageBuild,
		Params: models.JSONB{
			"campaign_name":  "q3-cert",
			"risk_threshold": "HIGH",
		},
	})

	if len(q.jobs) != 2 {
		t.Fatalf("enqueued jobs = %d, want 2", len(q.jobs))
	}
	if q.jobs[0].Stage != pipeline.StageExport || q.jobs[0].CampaignID == nil || *q.jobs[0].CampaignID != campaignID {
		t.Errorf("export job wrong: %+v", q.jobs[0])
	}
	if q.jobs[1].CampaignName != "q3-cert" || q.jobs[1].RiskThreshold != models.RiskHigh {
		t.Errorf("build job wrong: %+v", q.jobs[1])
	}
}

func TestFireRejectsMalformedCampaignID(t *testing.T) {
	q := &captureQueue{}
	s := New(&fakeScheduleStore{}, q, nil)

	s.fire(store.Schedule{
		Name:   "broken",
		Stage:  pipeline.StageExport,
		Params: models.JSONB{"campaign_id": "not-a-uuid"},
	})

	if len(q.jobs) != 0 {
		t.Fatalf("job enqueued despite malformed campaign id")
	}
}
