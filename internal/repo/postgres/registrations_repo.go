package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marvin-wtt/camp-registration-api/internal/domain/camp"
	"github.com/marvin-wtt/camp-registration-api/internal/domain/registration"
	"github.com/marvin-wtt/camp-registration-api/internal/observability"
	"github.com/marvin-wtt/camp-registration-api/internal/utils"
)

// RegistrationsRepo covers the manager-facing read side. All writes go
// through the Store so they stay inside the coordinator's transaction.
type RegistrationsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewRegistrationsRepo(pool *pgxpool.Pool, prom *observability.Prom) *RegistrationsRepo {
	return &RegistrationsRepo{
		pool: pool,
		prom: prom,
	}
}

func (repo *RegistrationsRepo) observe(op string, fn func() error) error {
	if repo.prom != nil {
		return repo.prom.ObserveDB(op, fn)
	}
	return fn()
}

const registrationColumns = `id, camp_id, data, camp_data, status, locale, deleted_at, created_at, updated_at`

func scanRegistration(row pgx.Row) (registration.Registration, error) {
	var r registration.Registration
	err := row.Scan(
		&r.ID, &r.CampID, &r.Data, &r.CampData, &r.Status, &r.Locale,
		&r.DeletedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func (repo *RegistrationsRepo) ListByCamp(ctx context.Context, campID string) (regs []registration.Registration, err error) {
	var rows pgx.Rows

	err = repo.observe("registrations.list_by_camp", func() error {
		rows, err = repo.pool.Query(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE camp_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC, id ASC
		`, campID)
		return err
	})

	if err != nil {
		return
	}

	defer rows.Close()

	regs = make([]registration.Registration, 0)

	for rows.Next() {
		var r registration.Registration

		e := rows.Scan(&r.ID, &r.CampID, &r.Data, &r.CampData, &r.Status, &r.Locale,
			&r.DeletedAt, &r.CreatedAt, &r.UpdatedAt)
		if e != nil {
			err = e
			return
		}
		regs = append(regs, r)
	}

	if e := rows.Err(); e != nil {
		if repo.prom != nil {
			repo.prom.DbErrorsTotal.WithLabelValues("registrations.list_by_camp", "rows_err").Inc()
		}
		err = e
		return
	}

	// a 404 when the camp itself does not exist

	if len(regs) == 0 {
		var dummy string

		err = repo.observe("registrations.list_by_camp.check_camp_exists", func() error {
			return repo.pool.QueryRow(ctx, `SELECT id FROM camps WHERE id = $1`, campID).Scan(&dummy)
		})

		if errors.Is(err, pgx.ErrNoRows) {
			err = camp.ErrNotFound
			return
		}

		if err != nil {
			return
		}
	}

	return
}

func (repo *RegistrationsRepo) CountForCamp(ctx context.Context, campID string) (int, error) {
	op := "registrations.count_for_camp"
	var total int
	err := repo.observe(op, func() error {
		return repo.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM registrations WHERE camp_id = $1 AND deleted_at IS NULL`,
			campID).Scan(&total)
	})
	return total, err
}

// CountWaitlisted reports the current waiting list length, shown on the
// manager dashboard next to free places.
func (repo *RegistrationsRepo) CountWaitlisted(ctx context.Context, campID string) (int, error) {
	op := "registrations.count_waitlisted"
	var total int
	err := repo.observe(op, func() error {
		return repo.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM registrations
			WHERE camp_id = $1 AND status = $2 AND deleted_at IS NULL
		`, campID, string(registration.StatusWaitlisted)).Scan(&total)
	})
	return total, err
}

func (repo *RegistrationsRepo) ListByCampCursor(
	ctx context.Context,
	campID string,
	limit int,
	afterCreatedAt time.Time,
	afterID string,
) (items []registration.Registration, nextCursor *string, hasMore bool, err error) {
	op := "registrations.list_by_camp_cursor"

	q := `
		SELECT ` + registrationColumns + `
		FROM registrations
		WHERE camp_id = $1
		  AND deleted_at IS NULL
		  AND (created_at, id) > ($2, $3)
		ORDER BY created_at ASC, id ASC
		LIMIT $4
	`
	limitPlusOne := limit + 1

	var rows pgx.Rows
	err = repo.observe(op, func() error {
		var qerr error
		rows, qerr = repo.pool.Query(ctx, q, campID, afterCreatedAt, afterID, limitPlusOne)
		return qerr
	})
	if err != nil {
		return nil, nil, false, err
	}
	defer rows.Close()

	out := make([]registration.Registration, 0, limit)

	for rows.Next() {
		var r registration.Registration
		if scanErr := rows.Scan(&r.ID, &r.CampID, &r.Data, &r.CampData, &r.Status, &r.Locale,
			&r.DeletedAt, &r.CreatedAt, &r.UpdatedAt); scanErr != nil {
			return nil, nil, false, scanErr
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, nil, false, rows.Err()
	}

	if len(out) > limit {
		hasMore = true
		out = out[:limit]
		last := out[len(out)-1]
		cur, encErr := utils.EncodeRegistrationCursor(last.CreatedAt, last.ID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}

	return out, nextCursor, hasMore, nil
}

func (repo *RegistrationsRepo) GetByID(ctx context.Context, campID, registrationID string) (registration.Registration, error) {
	var r registration.Registration
	err := repo.observe("registrations.get_by_id", func() error {
		var e error
		r, e = scanRegistration(repo.pool.QueryRow(ctx, `
			SELECT `+registrationColumns+`
			FROM registrations
			WHERE id = $1 AND camp_id = $2 AND deleted_at IS NULL
		`, registrationID, campID))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registration.Registration{}, registration.ErrNotFound
		}
		return registration.Registration{}, err
	}

	return r, nil
}
