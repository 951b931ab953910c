// Package worker drains the notification outbox: claim a job, send the
// notification, mark it done or reschedule it with backoff.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/marvin-wtt/camp-registration-api/internal/domain/job"
	"github.com/marvin-wtt/camp-registration-api/internal/notifications"
	"github.com/marvin-wtt/camp-registration-api/internal/observability"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
	RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error)
}

// DeliveriesRepository dedupes sends across workers. Optional, nil skips
// the dedupe step.
type DeliveriesRepository interface {
	TryStart(ctx context.Context, kind, jobID, registrationID, recipient string) error
	MarkSent(ctx context.Context, kind, registrationID string, providerMessageID *string) error
	MarkFailed(ctx context.Context, kind, registrationID, errMsg string) error
}

type Config struct {
	PollInterval time.Duration
	LockTTL      time.Duration
	WorkerID     string
}

type Worker struct {
	cfg        Config
	repo       JobsRepository
	deliveries DeliveriesRepository
	notifier   notifications.Notifier
	metrics    *observability.JobMetrics
	log        *slog.Logger

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, repo JobsRepository, deliveries DeliveriesRepository, notifier notifications.Notifier, log *slog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 60 * time.Second
	}
	if cfg.WorkerID == "" {
		host, _ := os.Hostname()
		cfg.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if log == nil {
		log = slog.Default()
	}

	return &Worker{
		cfg:        cfg,
		repo:       repo,
		deliveries: deliveries,
		notifier:   notifier,
		metrics:    observability.NewJobMetrics(),
		log:        log,
	}
}

func (w *Worker) Metrics() *observability.JobMetrics {
	return w.metrics
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	// reclaim jobs a crashed worker left in processing
	staleTicker := time.NewTicker(w.cfg.LockTTL)
	defer staleTicker.Stop()

	w.setReady(true)
	defer w.setReady(false)

	w.log.Info("worker started", "worker_id", w.cfg.WorkerID, "poll_interval", w.cfg.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker received shutdown signal")
			return nil

		case <-staleTicker.C:
			n, err := w.repo.RequeueStaleProcessing(ctx, w.cfg.LockTTL)
			if err != nil {
				w.log.Error("requeue stale failed", "err", err)
				continue
			}
			if n > 0 {
				w.log.Warn("requeued stale jobs", "count", n)
			}

		case <-ticker.C:
			// drain until the queue runs dry, then wait for the next tick
			for {
				processed, err := w.ProcessOne(ctx)
				if err != nil {
					w.log.Error("process error", "err", err)
					break
				}
				if !processed {
					break
				}
			}
		}
	}
}
