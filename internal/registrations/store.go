package registrations

import (
	"context"
	"errors"

	"github.com/marvin-wtt/camp-registration-api/internal/domain/camp"
	"github.com/marvin-wtt/camp-registration-api/internal/domain/registration"
	"github.com/marvin-wtt/camp-registration-api/internal/jobs"
)

// Tx is the transaction handle the store hands out. pgx.Tx satisfies it
// directly; the in-memory store used in tests implements its own.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the persistence surface the coordinator drives. Every
// capacity-affecting call runs inside a Tx; the camp capacity update is a
// compare-and-swap on (id, version) returning camp.ErrVersionConflict when
// the row moved underneath the caller.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)

	GetCamp(ctx context.Context, id string) (camp.Camp, error)
	UpdateCampCapacity(ctx context.Context, tx Tx, id string, version int64, freePlaces camp.Capacity) error

	GetRegistration(ctx context.Context, campID, id string) (registration.Registration, error)
	CreateRegistration(ctx context.Context, tx Tx, reg registration.Registration) error
	UpdateRegistration(ctx context.Context, tx Tx, reg registration.Registration) error
	SoftDeleteRegistration(ctx context.Context, tx Tx, id string) error

	// AssignFiles re-parents resolved upload references onto the
	// registration; rolled back with the rest of the transaction.
	AssignFiles(ctx context.Context, tx Tx, registrationID string, fileIDs []string) error

	// EnqueueNotification stages an outbox job inside the transaction so a
	// notification exists exactly when its registration write committed.
	EnqueueNotification(ctx context.Context, tx Tx, t jobs.JobType, payload jobs.RegistrationEventPayload) error
}

var (
	// ErrCampClosed rejects submissions against inactive camps.
	ErrCampClosed = errors.New("camp is not accepting registrations")
	// ErrCampNotVisible rejects public submissions against unlisted camps;
	// the owning manager and admins pass through.
	ErrCampNotVisible = errors.New("camp is not publicly visible")
	// ErrCapacityConflict surfaces after the bounded retry loop kept losing
	// the optimistic concurrency race.
	ErrCapacityConflict = errors.New("capacity allocation conflict, try again")
	// ErrNotWaitlisted guards waitlist promotion.
	ErrNotWaitlisted = errors.New("registration is not on the waiting list")
	// ErrNoCapacity means a waitlist promotion found no free place.
	ErrNoCapacity = errors.New("no free place available")
)
