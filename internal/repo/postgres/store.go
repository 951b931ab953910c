package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marvin-wtt/camp-registration-api/internal/domain/camp"
	"github.com/marvin-wtt/camp-registration-api/internal/domain/job"
	"github.com/marvin-wtt/camp-registration-api/internal/domain/registration"
	"github.com/marvin-wtt/camp-registration-api/internal/form"
	"github.com/marvin-wtt/camp-registration-api/internal/jobs"
	"github.com/marvin-wtt/camp-registration-api/internal/observability"
	"github.com/marvin-wtt/camp-registration-api/internal/registrations"
)

// Store is the postgres registrations.Store. The coordinator's Tx handle is
// pgx.Tx directly, so every write below runs on the caller's transaction.
type Store struct {
	pool  *pgxpool.Pool
	prom  *observability.Prom
	camps *CampsRepo
	jobs  *JobsRepo
}

func NewStore(pool *pgxpool.Pool, prom *observability.Prom) *Store {
	return &Store{
		pool:  pool,
		prom:  prom,
		camps: NewCampsRepo(pool, prom),
		jobs:  NewJobsRepo(pool, prom),
	}
}

func (s *Store) observe(op string, fn func() error) error {
	if s.prom != nil {
		return s.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (s *Store) BeginTx(ctx context.Context) (registrations.Tx, error) {
	return s.pool.BeginTx(ctx, pgx.TxOptions{})
}

func asPgxTx(t registrations.Tx) pgx.Tx {
	tx, ok := t.(pgx.Tx)
	if !ok {
		panic("postgres: foreign transaction handle")
	}
	return tx
}

func (s *Store) GetCamp(ctx context.Context, id string) (camp.Camp, error) {
	return s.camps.GetByID(ctx, id)
}

// UpdateCampCapacity is the optimistic concurrency point: the UPDATE only
// lands when the version still matches what the coordinator read.
func (s *Store) UpdateCampCapacity(ctx context.Context, t registrations.Tx, id string, version int64, freePlaces camp.Capacity) (err error) {
	tx := asPgxTx(t)

	var affected int64
	err = s.observe("camps.update_capacity_cas", func() error {
		tag, e := tx.Exec(ctx, `
			UPDATE camps
			SET free_places = $3,
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $1 AND version = $2
		`, id, version, freePlaces)
		if e != nil {
			return e
		}
		affected = tag.RowsAffected()
		return nil
	})

	if err != nil {
		return
	}

	if affected == 0 {
		// distinguish a lost race from a vanished camp
		var exists bool
		err = s.observe("camps.update_capacity_cas.exists", func() error {
			return tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM camps WHERE id = $1)`, id).Scan(&exists)
		})
		if err != nil {
			return
		}
		if !exists {
			err = camp.ErrNotFound
			return
		}
		err = camp.ErrVersionConflict
		return
	}

	return
}

func (s *Store) GetRegistration(ctx context.Context, campID, id string) (registration.Registration, error) {
	var r registration.Registration
	err := s.observe("registrations.get_by_id", func() error {
		return s.pool.QueryRow(ctx, `
			SELECT id, camp_id, data, camp_data, status, locale, deleted_at, created_at, updated_at
			FROM registrations
			WHERE id = $1 AND camp_id = $2 AND deleted_at IS NULL
		`, id, campID).Scan(
			&r.ID, &r.CampID, &r.Data, &r.CampData, &r.Status, &r.Locale,
			&r.DeletedAt, &r.CreatedAt, &r.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registration.Registration{}, registration.ErrNotFound
		}
		return registration.Registration{}, err
	}

	return r, nil
}

func (s *Store) CreateRegistration(ctx context.Context, t registrations.Tx, reg registration.Registration) error {
	tx := asPgxTx(t)

	return s.observe("registrations.create_tx", func() error {
		_, e := tx.Exec(ctx, `
			INSERT INTO registrations (id, camp_id, data, camp_data, status, locale, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, reg.ID, reg.CampID, reg.Data, reg.CampData, string(reg.Status), reg.Locale,
			reg.CreatedAt, reg.UpdatedAt)
		return e
	})
}

func (s *Store) UpdateRegistration(ctx context.Context, t registrations.Tx, reg registration.Registration) (err error) {
	tx := asPgxTx(t)

	var affected int64
	err = s.observe("registrations.update_tx", func() error {
		tag, e := tx.Exec(ctx, `
			UPDATE registrations
			SET data = $2,
			    camp_data = $3,
			    status = $4,
			    updated_at = $5
			WHERE id = $1 AND deleted_at IS NULL
		`, reg.ID, reg.Data, reg.CampData, string(reg.Status), reg.UpdatedAt)
		if e != nil {
			return e
		}
		affected = tag.RowsAffected()
		return nil
	})

	if err != nil {
		return
	}

	if affected == 0 {
		err = registration.ErrNotFound
		return
	}

	return
}

func (s *Store) SoftDeleteRegistration(ctx context.Context, t registrations.Tx, id string) (err error) {
	tx := asPgxTx(t)

	var affected int64
	err = s.observe("registrations.soft_delete_tx", func() error {
		tag, e := tx.Exec(ctx, `
			UPDATE registrations
			SET deleted_at = NOW(),
			    updated_at = NOW()
			WHERE id = $1 AND deleted_at IS NULL
		`, id)
		if e != nil {
			return e
		}
		affected = tag.RowsAffected()
		return nil
	})

	if err != nil {
		return
	}

	// already deleted rows fall through here, keeping delete idempotent at
	// the not-found level instead of releasing capacity twice
	if affected == 0 {
		err = registration.ErrNotFound
		return
	}

	return
}

func (s *Store) AssignFiles(ctx context.Context, t registrations.Tx, registrationID string, fileIDs []string) (err error) {
	tx := asPgxTx(t)

	var affected int64
	err = s.observe("files.assign_tx", func() error {
		tag, e := tx.Exec(ctx, `
			UPDATE files
			SET registration_id = $1,
			    assigned_at = NOW()
			WHERE id = ANY($2) AND registration_id IS NULL
		`, registrationID, fileIDs)
		if e != nil {
			return e
		}
		affected = tag.RowsAffected()
		return nil
	})

	if err != nil {
		return
	}

	// a file grabbed by another registration between resolution and commit
	if affected != int64(len(fileIDs)) {
		err = form.ErrFileAssigned
		return
	}

	return
}

func (s *Store) EnqueueNotification(ctx context.Context, t registrations.Tx, jt jobs.JobType, payload jobs.RegistrationEventPayload) error {
	tx := asPgxTx(t)

	raw, err := payload.ToJSONRaw()
	if err != nil {
		return err
	}

	req := job.CreateRequest{
		Type:        string(jt),
		Payload:     raw,
		RunAt:       time.Now().UTC(),
		MaxAttempts: 8,
	}

	// lifecycle events other than updates happen at most once per
	// registration, an idempotency key makes redelivered enqueues harmless
	if jt != jobs.TypeRegistrationUpdated {
		key := fmt.Sprintf("%s:%s", jt, payload.RegistrationID)
		req.IdempotencyKey = &key
	}

	_, err = s.jobs.CreateTx(ctx, tx, req)
	if err != nil && IsUniqueViolation(err) {
		return nil
	}
	return err
}
