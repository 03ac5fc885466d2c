package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/accessguard/iga/internal/models"
	"github.com/accessguard/iga/internal/pipeline"
)

// Worker pulls stage jobs off the queue and runs them through the
// pipeline. Stage-level failures are requeued with backoff; per-task
// failures inside a stage are already absorbed by the pipeline, and the
// remediation gate never re-executes a settled action, so retrying a
// stage is safe.
type Worker struct {
	id       string
	queue    *Queue
	pipeline *pipeline.Pipeline
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running bool
	mu      sync.Mutex
}

type WorkerConfig struct {
	Queue    *Queue
	Pipeline *pipeline.Pipeline
	Logger   *slog.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		id:       workerID,
		queue:    cfg.Queue,
		pipeline: cfg.Pipeline,
		logger:   logger.With("worker_id", workerID),
	}
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.logger.Info("worker starting")

	w.wg.Add(1)
	go w.heartbeatLoop()

	w.wg.Add(1)
	go w.processLoop()

	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopping")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.queue.WorkerHeartbeat(w.ctx, w.id)
		}
	}
}

func (w *Worker) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(w.ctx, w.id)
			if err != nil {
				w.logger.Error("dequeuing job failed", "error", err)
				time.Sleep(5 * time.Second)
				continue
			}
			if job == nil {
				time.Sleep(time.Second)
				continue
			}

			w.logger.Info("processing job", "job_id", job.ID, "stage", job.Stage)

			if err := w.runJob(job); err != nil {
				w.logger.Error("job failed", "job_id", job.ID, "stage", job.Stage, "error", err)
				w.queue.Requeue(w.ctx, job, err.Error())
			} else {
				w.logger.Info("job completed", "job_id", job.ID, "stage", job.Stage)
				w.queue.Complete(w.ctx, job, true)
			}
		}
	}
}

func (w *Worker) runJob(job *Job) error {
	switch job.Stage {
	case pipeline.StageDiscover:
		_, err := w.pipeline.Discover(w.ctx)
		return err
	case pipeline.StageBuild:
		if job.CampaignName == "" {
			return fmt.Errorf("%w: build job missing campaign name", models.ErrConfiguration)
		}
		threshold := job.RiskThreshold
		if threshold == "" {
			threshold = models.RiskMedium
		}
		_, err := w.pipeline.BuildCampaign(w.ctx, job.CampaignName, threshold)
		return err
	case pipeline.StageEnrich:
		if job.CampaignID == nil {
			return fmt.Errorf("%w: enrich job missing campaign id", models.ErrConfiguration)
		}
		_, err := w.pipeline.Enrich(w.ctx, *job.CampaignID)
		return err
	case pipeline.StageRemediate:
		if job.CampaignID == nil {
			return fmt.Errorf("%w: remediate job missing campaign id", models.ErrConfiguration)
		}
		_, err := w.pipeline.Remediate(w.ctx, *job.CampaignID)
		return err
	case pipeline.StageExport:
		if job.CampaignID == nil {
			return fmt.Errorf("%w: export job missing campaign id", models.ErrConfiguration)
		}
		_, err := w.pipeline.Export(w.ctx, *job.CampaignID)
		return err
	default:
		return fmt.Errorf("%w: unknown stage %q", models.ErrConfiguration, job.Stage)
	}
}
