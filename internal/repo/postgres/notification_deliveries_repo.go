package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marvin-wtt/camp-registration-api/internal/notifications"
)

// NotificationDeliveriesRepo deduplicates sends per (kind, registration).
// The outbox guarantees at-least-once, this table squeezes it down to
// effectively-once per lifecycle event.
type NotificationDeliveriesRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationDeliveriesRepo(pool *pgxpool.Pool) *NotificationDeliveriesRepo {
	return &NotificationDeliveriesRepo{pool: pool}
}

// TryStart claims the delivery slot for this job. Returns ErrAlreadySent or
// ErrInProgress when another worker got there first.
func (r *NotificationDeliveriesRepo) TryStart(
	ctx context.Context,
	kind string,
	jobID string,
	registrationID string,
	recipient string,
) error {
	// 1) Insert if missing
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_deliveries (kind, registration_id, job_id, recipient, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'sending', NOW(), NOW())
	`, kind, registrationID, jobID, recipient)

	if err == nil {
		return nil
	}
	if !IsUniqueViolation(err) {
		return err
	}

	// 2) Row exists. If it was failed, "claim" it for retry by switching back to sending.
	// This is atomic: only one worker can flip failed -> sending.
	tag, uErr := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'sending',
		    job_id = $3,
		    recipient = $4,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE kind = $1 AND registration_id = $2 AND status = 'failed'
	`, kind, registrationID, jobID, recipient)

	if uErr != nil {
		return uErr
	}
	if tag.RowsAffected() == 1 {
		return nil // we successfully claimed the retry
	}

	// 3) Not failed. Determine whether it's already sent or currently sending.
	var status string
	var sentAt *time.Time

	qErr := r.pool.QueryRow(ctx, `
		SELECT status, sent_at
		FROM notification_deliveries
		WHERE kind = $1 AND registration_id = $2
	`, kind, registrationID).Scan(&status, &sentAt)

	if qErr != nil {
		if errors.Is(qErr, pgx.ErrNoRows) {
			// row disappeared; let caller retry
			return nil
		}
		return qErr
	}

	if sentAt != nil || status == "sent" {
		return notifications.ErrAlreadySent
	}

	// status == "sending"
	return notifications.ErrInProgress
}

func (r *NotificationDeliveriesRepo) MarkSent(
	ctx context.Context,
	kind string,
	registrationID string,
	providerMessageID *string,
) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'sent',
		    sent_at = NOW(),
		    provider_message_id = $3,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE kind = $1 AND registration_id = $2
	`, kind, registrationID, providerMessageID)

	return err
}

func (r *NotificationDeliveriesRepo) MarkFailed(
	ctx context.Context,
	kind string,
	registrationID string,
	errMsg string,
) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'failed',
		    last_error = $3,
		    updated_at = NOW()
		WHERE kind = $1 AND registration_id = $2
	`, kind, registrationID, errMsg)

	return err
}
