// Package registrations ties the form engine and the capacity allocator
// into the registration lifecycle: create, update, delete and waitlist
// promotion, each as one transactional unit of work.
package registrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marvin-wtt/camp-registration-api/internal/cache"
	"github.com/marvin-wtt/camp-registration-api/internal/capacity"
	"github.com/marvin-wtt/camp-registration-api/internal/domain/camp"
	"github.com/marvin-wtt/camp-registration-api/internal/domain/registration"
	"github.com/marvin-wtt/camp-registration-api/internal/form"
	"github.com/marvin-wtt/camp-registration-api/internal/jobs"
)

// how often we re-read the camp and retry after losing the version race
const maxCapacityRetries = 3

type Coordinator struct {
	store  Store
	files  form.FileResolver
	schema *cache.Cache // compiled form schemas by camp id+version
	log    *slog.Logger
}

func NewCoordinator(store Store, files form.FileResolver, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store:  store,
		files:  files,
		schema: cache.New(5 * time.Minute),
		log:    log,
	}
}

// compiledSchema parses the camp's form document, caching per form version.
// A ConfigurationError here is an authoring bug surfaced to the camp
// manager, not the registrant.
func (co *Coordinator) compiledSchema(c camp.Camp) (*form.CompiledSchema, error) {
	key := fmt.Sprintf("%s:%d", c.ID, c.Version)

	if v, ok := co.schema.Get(key); ok {
		if cs, ok := v.(*form.CompiledSchema); ok {
			return cs, nil
		}
	}

	cs, err := form.Parse(c.Form)
	if err != nil {
		return nil, err
	}

	co.schema.Set(key, cs)
	return cs, nil
}

func campContext(c camp.Camp) form.CampContext {
	return form.CampContext{
		ID:              c.ID,
		Countries:       c.Countries,
		MinAge:          c.MinAge,
		MaxAge:          c.MaxAge,
		StartAt:         c.StartAt,
		EndAt:           c.EndAt,
		MaxParticipants: c.MaxParticipants,
		FreePlaces:      c.FreePlaces,
	}
}

// Create validates the submission and claims capacity inside one
// transaction. Any failure leaves camp counters and registration rows
// exactly as they were. Unlisted camps only take submissions from
// authorized callers.
func (co *Coordinator) Create(ctx context.Context, req registration.CreateRequest) (registration.Registration, error) {
	c, err := co.store.GetCamp(ctx, req.CampID)
	if err != nil {
		return registration.Registration{}, err
	}
	if !c.Active {
		return registration.Registration{}, ErrCampClosed
	}
	if !c.Public && !req.Authorized {
		return registration.Registration{}, ErrCampNotVisible
	}

	cs, err := co.compiledSchema(c)
	if err != nil {
		return registration.Registration{}, err
	}

	processed, err := form.Process(ctx, cs, campContext(c), req.Data, co.files)
	if err != nil {
		return registration.Registration{}, err
	}

	for attempt := 0; attempt < maxCapacityRetries; attempt++ {
		claim, err := capacity.Decide(c, processed.CampData)
		if err != nil {
			return registration.Registration{}, err
		}

		reg := registration.New(c.ID, processed.Data, processed.CampData, claim.Status, req.Locale)

		committed, err := co.runAllocation(ctx, c, claim, func(tx Tx) error {
			if err := co.store.CreateRegistration(ctx, tx, reg); err != nil {
				return err
			}
			if err := co.assignFiles(ctx, tx, reg.ID, processed.Files); err != nil {
				return err
			}
			return co.enqueue(ctx, tx, jobs.TypeForStatus(claim.Status), reg, c)
		})
		if err != nil {
			return registration.Registration{}, err
		}
		if committed {
			co.log.InfoContext(ctx, "registration created",
				"camp_id", c.ID, "registration_id", reg.ID, "status", string(reg.Status))
			return reg, nil
		}

		// lost the version race, re-read and recompute against fresh counters
		if c, err = co.store.GetCamp(ctx, req.CampID); err != nil {
			return registration.Registration{}, err
		}
	}

	return registration.Registration{}, ErrCapacityConflict
}

// Update re-runs the form and, when the canonical role/country moved to a
// different capacity bucket, releases the old claim and places the new one
// in the same transaction. A plain data edit leaves capacity and status
// untouched.
func (co *Coordinator) Update(ctx context.Context, campID, regID string, req registration.UpdateRequest) (registration.Registration, error) {
	c, err := co.store.GetCamp(ctx, campID)
	if err != nil {
		return registration.Registration{}, err
	}

	reg, err := co.store.GetRegistration(ctx, campID, regID)
	if err != nil {
		return registration.Registration{}, err
	}

	cs, err := co.compiledSchema(c)
	if err != nil {
		return registration.Registration{}, err
	}

	processed, err := form.Process(ctx, cs, campContext(c), req.Data, co.files)
	if err != nil {
		return registration.Registration{}, err
	}

	bucketMoved := reg.CampData.Role() != processed.CampData.Role() ||
		(processed.CampData.IsParticipant() && reg.CampData.Country() != processed.CampData.Country())

	for attempt := 0; attempt < maxCapacityRetries; attempt++ {
		status := reg.Status
		claim := capacity.Claim{Status: status, FreePlaces: c.FreePlaces}

		if bucketMoved {
			release, err := capacity.Release(c, reg.CampData, reg.Status)
			if err != nil {
				return registration.Registration{}, err
			}

			// decrement-new runs against the counters with the old claim
			// already released
			shifted := c
			shifted.FreePlaces = release.FreePlaces

			claim, err = capacity.Decide(shifted, processed.CampData)
			if err != nil {
				return registration.Registration{}, err
			}
			claim.Counted = claim.Counted || release.Counted
			status = claim.Status
		}

		updated := reg
		updated.Data = processed.Data
		updated.CampData = processed.CampData
		updated.Status = status
		updated.UpdatedAt = time.Now().UTC()

		committed, err := co.runAllocation(ctx, c, claim, func(tx Tx) error {
			if err := co.store.UpdateRegistration(ctx, tx, updated); err != nil {
				return err
			}
			if err := co.assignFiles(ctx, tx, updated.ID, processed.Files); err != nil {
				return err
			}
			if req.SuppressNotification {
				return nil
			}
			return co.enqueue(ctx, tx, jobs.TypeRegistrationUpdated, updated, c)
		})
		if err != nil {
			return registration.Registration{}, err
		}
		if committed {
			return updated, nil
		}

		if c, err = co.store.GetCamp(ctx, campID); err != nil {
			return registration.Registration{}, err
		}
	}

	return registration.Registration{}, ErrCapacityConflict
}

// Delete soft-deletes the registration and releases its place. Staff and
// waitlisted registrations release nothing. A second delete of the same
// registration fails with not-found instead of incrementing twice.
func (co *Coordinator) Delete(ctx context.Context, campID, regID string, suppressNotification bool) error {
	c, err := co.store.GetCamp(ctx, campID)
	if err != nil {
		return err
	}

	reg, err := co.store.GetRegistration(ctx, campID, regID)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < maxCapacityRetries; attempt++ {
		release, err := capacity.Release(c, reg.CampData, reg.Status)
		if err != nil {
			return err
		}

		committed, err := co.runAllocation(ctx, c, release, func(tx Tx) error {
			if err := co.store.SoftDeleteRegistration(ctx, tx, reg.ID); err != nil {
				return err
			}
			if suppressNotification {
				return nil
			}
			return co.enqueue(ctx, tx, jobs.TypeRegistrationCanceled, reg, c)
		})
		if err != nil {
			return err
		}
		if committed {
			co.log.InfoContext(ctx, "registration deleted",
				"camp_id", c.ID, "registration_id", reg.ID)
			return nil
		}

		if c, err = co.store.GetCamp(ctx, campID); err != nil {
			return err
		}
	}

	return ErrCapacityConflict
}

// AcceptWaitlisted promotes a waitlisted registration once a place is free.
// Promotion is an explicit manager action, deletions never auto-promote.
func (co *Coordinator) AcceptWaitlisted(ctx context.Context, campID, regID string) (registration.Registration, error) {
	c, err := co.store.GetCamp(ctx, campID)
	if err != nil {
		return registration.Registration{}, err
	}

	reg, err := co.store.GetRegistration(ctx, campID, regID)
	if err != nil {
		return registration.Registration{}, err
	}
	if reg.Status != registration.StatusWaitlisted {
		return registration.Registration{}, ErrNotWaitlisted
	}

	for attempt := 0; attempt < maxCapacityRetries; attempt++ {
		claim, err := capacity.Decide(c, reg.CampData)
		if err != nil {
			return registration.Registration{}, err
		}
		if claim.Status != registration.StatusAccepted {
			return registration.Registration{}, ErrNoCapacity
		}

		updated := reg
		updated.Status = registration.StatusAccepted
		updated.UpdatedAt = time.Now().UTC()

		committed, err := co.runAllocation(ctx, c, claim, func(tx Tx) error {
			if err := co.store.UpdateRegistration(ctx, tx, updated); err != nil {
				return err
			}
			return co.enqueue(ctx, tx, jobs.TypeWaitlistAccepted, updated, c)
		})
		if err != nil {
			return registration.Registration{}, err
		}
		if committed {
			return updated, nil
		}

		if c, err = co.store.GetCamp(ctx, campID); err != nil {
			return registration.Registration{}, err
		}
	}

	return registration.Registration{}, ErrCapacityConflict
}

// runAllocation executes one transactional allocation attempt. It returns
// (false, nil) when the optimistic version check lost, signalling the
// caller's retry loop; any other failure aborts with the transaction rolled
// back.
func (co *Coordinator) runAllocation(ctx context.Context, c camp.Camp, claim capacity.Claim, fn func(tx Tx) error) (bool, error) {
	tx, err := co.store.BeginTx(ctx)
	if err != nil {
		return false, err
	}

	defer func() { _ = tx.Rollback(ctx) }()

	if claim.Counted {
		err = co.store.UpdateCampCapacity(ctx, tx, c.ID, c.Version, claim.FreePlaces)
		if errors.Is(err, camp.ErrVersionConflict) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}

	if err := fn(tx); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}

	return true, nil
}

func (co *Coordinator) assignFiles(ctx context.Context, tx Tx, regID string, refs []form.FileRef) error {
	if len(refs) == 0 {
		return nil
	}

	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}

	return co.store.AssignFiles(ctx, tx, regID, ids)
}

func (co *Coordinator) enqueue(ctx context.Context, tx Tx, t jobs.JobType, reg registration.Registration, c camp.Camp) error {
	payload := jobs.RegistrationEventPayload{
		RegistrationID: reg.ID,
		CampID:         c.ID,
		CampName:       c.Name,
		Name:           reg.CampData.Name(),
		Emails:         reg.CampData.Emails(),
		Status:         string(reg.Status),
		Locale:         reg.Locale,
		RequestedAt:    time.Now().UTC(),
	}

	return co.store.EnqueueNotification(ctx, tx, t, payload)
}
