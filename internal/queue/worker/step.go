package worker

import (
	"context"
	"errors"
	"time"

	"github.com/marvin-wtt/camp-registration-api/internal/domain/job"
	"github.com/marvin-wtt/camp-registration-api/internal/jobs"
	"github.com/marvin-wtt/camp-registration-api/internal/notifications"
)

// ProcessOne claims and executes a single job. The bool reports whether a
// job was available at all.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)

	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}

		return false, err
	}

	w.metrics.IncClaimed()
	started := time.Now()

	err = w.execute(ctx, j)
	w.metrics.ObserveDuration(time.Since(started))

	if err != nil {
		w.handleFailure(ctx, j, err)
		return true, nil
	}

	err = w.repo.MarkDone(ctx, j.ID)

	if err != nil {
		_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
		w.metrics.IncFailed()
		return true, err
	}

	w.metrics.IncDone()
	return true, nil
}

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	p, err := jobs.DecodePayload(j)
	if err != nil {
		return err
	}

	recipient := ""
	if len(p.Emails) > 0 {
		recipient = p.Emails[0]
	}

	if w.deliveries != nil {
		err = w.deliveries.TryStart(ctx, j.Type, j.ID, p.RegistrationID, recipient)
		if errors.Is(err, notifications.ErrAlreadySent) {
			w.log.Info("delivery already sent, skipping",
				"job_id", j.ID, "type", j.Type, "registration_id", p.RegistrationID)
			return nil
		}
		if err != nil {
			return err
		}
	}

	msg := notifications.Message{
		Type:           jobs.JobType(j.Type),
		RegistrationID: p.RegistrationID,
		CampID:         p.CampID,
		CampName:       p.CampName,
		Name:           p.Name,
		Emails:         p.Emails,
		Status:         p.Status,
		Locale:         p.Locale,
	}

	if err := w.notifier.Send(ctx, msg); err != nil {
		if w.deliveries != nil {
			_ = w.deliveries.MarkFailed(ctx, j.Type, p.RegistrationID, err.Error())
		}
		return err
	}

	if w.deliveries != nil {
		if err := w.deliveries.MarkSent(ctx, j.Type, p.RegistrationID, nil); err != nil {
			return err
		}
	}

	return nil
}

func (w *Worker) handleFailure(ctx context.Context, j job.Job, cause error) {
	// attempts is pre-claim, this execution makes it one more
	attempt := j.Attempts + 1

	if attempt >= j.MaxAttempts {
		w.metrics.IncDeadLettered()
		w.log.Error("job dead lettered",
			"job_id", j.ID, "type", j.Type, "attempts", attempt, "err", cause)

		if err := w.repo.MarkFailed(ctx, j.ID, cause.Error()); err != nil {
			w.log.Error("mark failed error", "job_id", j.ID, "err", err)
		}
		return
	}

	delay := ExponentialBackoff(j.Attempts)
	w.metrics.IncRetried()
	w.log.Warn("job rescheduled",
		"job_id", j.ID, "type", j.Type, "attempt", attempt, "delay", delay.String(), "err", cause)

	if err := w.repo.Reschedule(ctx, j.ID, time.Now().UTC().Add(delay), cause.Error()); err != nil {
		w.log.Error("reschedule error", "job_id", j.ID, "err", err)
	}
}
