// Package queue is a redis-backed job queue for pipeline stages. Jobs
// are scheduled through a sorted set so priorities and retry backoff
// share one ordering.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/accessguard/iga/internal/models"
)

const (
	StageJobsQueue      = "iga:jobs:stage"
	StageJobsProcessing = "iga:jobs:processing"
	StageJobsCompleted  = "iga:jobs:completed"
	StageJobsFailed     = "iga:jobs:failed"
	WorkerHeartbeatKey  = "iga:workers:heartbeat"
	JobStatusPrefix     = "iga:job:status:"

	maxAttempts = 3
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

type Queue struct {
	client *redis.Client
}

func New(cfg Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Job is one pipeline stage execution. CampaignID is required for every
// stage except discover; CampaignName and RiskThreshold only apply to
// the build stage.
type Job struct {
	ID            uuid.UUID       `json:"id"`
	Stage         string          `json:"stage"`
	CampaignID    *uuid.UUID      `json:"campaign_id,omitempty"`
	CampaignName  string          `json:"campaign_name,omitempty"`
	RiskThreshold models.RiskTier `json:"risk_threshold,omitempty"`
	Priority      int             `json:"priority"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempts      int             `json:"attempts"`
}

type Status struct {
	JobID       uuid.UUID  `json:"job_id"`
	Stage       string     `json:"stage"`
	Status      JobStatus  `json:"status"`
	Errors      []string   `json:"errors,omitempty"`
	WorkerID    string     `json:"worker_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	score := float64(time.Now().Unix()) - float64(job.Priority*1000)

	if err := q.client.ZAdd(ctx, StageJobsQueue, redis.Z{
		Score:  score,
		Member: string(data),
	}).Err(); err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}

	return q.setStatus(ctx, &Status{JobID: job.ID, Stage: job.Stage, Status: JobPending})
}

func (q *Queue) Dequeue(ctx context.Context, workerID string) (*Job, error) {
	results, err := q.client.ZPopMin(ctx, StageJobsQueue, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("dequeuing job: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(results[0].Member.(string)), &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job: %w", err)
	}

	data, _ := json.Marshal(job)
	if err := q.client.SAdd(ctx, StageJobsProcessing, string(data)).Err(); err != nil {
		q.client.ZAdd(ctx, StageJobsQueue, redis.Z{
			Score:  results[0].Score,
			Member: results[0].Member,
		})
		return nil, fmt.Errorf("marking job as processing: %w", err)
	}

	now := time.Now()
	_ = q.setStatus(ctx, &Status{
		JobID:     job.ID,
		Stage:     job.Stage,
		Status:    JobRunning,
		StartedAt: &now,
		WorkerID:  workerID,
	})

	return &job, nil
}

func (q *Queue) Complete(ctx context.Context, job *Job, success bool) error {
	data, _ := json.Marshal(job)
	q.client.SRem(ctx, StageJobsProcessing, string(data))

	targetSet := StageJobsCompleted
	status := JobCompleted
	if !success {
		targetSet = StageJobsFailed
		status = JobFailed
	}

	if err := q.client.SAdd(ctx, targetSet, string(data)).Err(); err != nil {
		return fmt.Errorf("marking job complete: %w", err)
	}

	now := time.Now()
	st, _ := q.GetStatus(ctx, job.ID)
	if st == nil {
		st = &Status{JobID: job.ID, Stage: job.Stage}
	}
	st.Status = status
	st.CompletedAt = &now
	return q.setStatus(ctx, st)
}

// Requeue schedules a retry with linear backoff. After maxAttempts the
// job is marked failed instead.
func (q *Queue) Requeue(ctx context.Context, job *Job, errorMsg string) error {
	data, _ := json.Marshal(job)
	q.client.SRem(ctx, StageJobsProcessing, string(data))

	job.Attempts++
	if job.Attempts >= maxAttempts {
		return q.Complete(ctx, job, false)
	}

	newData, _ := json.Marshal(job)
	backoff := time.Duration(job.Attempts*30) * time.Second
	score := float64(time.Now().Add(backoff).Unix())

	if err := q.client.ZAdd(ctx, StageJobsQueue, redis.Z{
		Score:  score,
		Member: string(newData),
	}).Err(); err != nil {
		return fmt.Errorf("requeuing job: %w", err)
	}

	st, _ := q.GetStatus(ctx, job.ID)
	if st == nil {
		st = &Status{JobID: job.ID, Stage: job.Stage}
	}
	st.Status = JobPending
	st.Errors = append(st.Errors, errorMsg)
	return q.setStatus(ctx, st)
}

func (q *Queue) setStatus(ctx context.Context, st *Status) error {
	st.UpdatedAt = time.Now()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}
	key := JobStatusPrefix + st.JobID.String()
	if err := q.client.Set(ctx, key, string(data), 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return nil
}

func (q *Queue) GetStatus(ctx context.Context, jobID uuid.UUID) (*Status, error) {
	key := JobStatusPrefix + jobID.String()
	data, err := q.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting status: %w", err)
	}

	var st Status
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("unmarshaling status: %w", err)
	}
	return &st, nil
}

func (q *Queue) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)

	pending, _ := q.client.ZCard(ctx, StageJobsQueue).Result()
	processing, _ := q.client.SCard(ctx, StageJobsProcessing).Result()
	completed, _ := q.client.SCard(ctx, StageJobsCompleted).Result()
	failed, _ := q.client.SCard(ctx, StageJobsFailed).Result()

	stats["pending"] = pending
	stats["processing"] = processing
	stats["completed"] = completed
	stats["failed"] = failed

	return stats, nil
}

func (q *Queue) WorkerHeartbeat(ctx context.Context, workerID string) error {
	return q.client.HSet(ctx, WorkerHeartbeatKey, workerID, time.Now().Unix()).Err()
}

func (q *Queue) ActiveWorkers(ctx context.Context, timeout time.Duration) ([]string, error) {
	workers, err := q.client.HGetAll(ctx, WorkerHeartbeatKey).Result()
	if err != nil {
		return nil, fmt.Errorf("getting workers: %w", err)
	}

	var active []string
	cutoff := time.Now().Add(-timeout).Unix()
	for workerID, lastSeen := range workers {
		var ts int64
		_, _ = fmt.Sscanf(lastSeen, "%d", &ts)
		if ts > cutoff {
			active = append(active, workerID)
		}
	}
	return active, nil
}
