package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marvin-wtt/camp-registration-api/internal/domain/camp"
	"github.com/marvin-wtt/camp-registration-api/internal/observability"
)

type CampsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

// constructor function

func NewCampsRepo(pool *pgxpool.Pool, prom *observability.Prom) *CampsRepo {
	return &CampsRepo{
		pool: pool,
		prom: prom,
	}
}

func (r *CampsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

const campColumns = `id, name, organizer, manager_id, countries, min_age, max_age,
	start_at, end_at, active, public, max_participants, free_places, form,
	version, created_at, updated_at`

func scanCamp(row pgx.Row) (camp.Camp, error) {
	var c camp.Camp
	err := row.Scan(
		&c.ID, &c.Name, &c.Organizer, &c.ManagerID, &c.Countries,
		&c.MinAge, &c.MaxAge, &c.StartAt, &c.EndAt, &c.Active, &c.Public,
		&c.MaxParticipants, &c.FreePlaces, &c.Form,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func (r *CampsRepo) Create(ctx context.Context, req camp.CreateCampRequest, managerID string) (camp.Camp, error) {
	c, err := camp.NewFromCreateRequest(req, managerID)
	if err != nil {
		return camp.Camp{}, err
	}

	err = r.observe("camps.create", func() error {
		_, e := r.pool.Exec(ctx, `
			INSERT INTO camps(`+campColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		`, c.ID, c.Name, c.Organizer, c.ManagerID, c.Countries, c.MinAge, c.MaxAge,
			c.StartAt, c.EndAt, c.Active, c.Public, c.MaxParticipants, c.FreePlaces,
			c.Form, c.Version, c.CreatedAt, c.UpdatedAt)
		return e
	})

	if err != nil {
		return camp.Camp{}, err
	}

	return c, nil
}

type ListCampsFilter struct {
	// PublicOnly hides unlisted camps, used for the unauthenticated listing
	PublicOnly bool
	ActiveOnly bool
	Country    *string
	Limit      int
	Offset     int
}

func (r *CampsRepo) List(ctx context.Context, filter ListCampsFilter) ([]camp.Camp, int, error) {
	baseQuery := `SELECT ` + campColumns + `, COUNT(*) OVER() AS total FROM camps`

	var conds []string
	var args []interface{}

	argsPosition := 1

	if filter.PublicOnly {
		conds = append(conds, "public = TRUE")
	}

	if filter.ActiveOnly {
		conds = append(conds, "active = TRUE")
	}

	if filter.Country != nil {
		conds = append(conds, fmt.Sprintf("$%d = ANY(countries)", argsPosition))
		args = append(args, *filter.Country)
		argsPosition++
	}

	query := baseQuery
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	// stable ordering for pagination
	query += fmt.Sprintf(" ORDER BY start_at ASC, id ASC LIMIT $%d OFFSET $%d", argsPosition, argsPosition+1)
	args = append(args, filter.Limit, filter.Offset)

	var rows pgx.Rows
	err := r.observe("camps.list", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, query, args...)
		return qerr
	})
	if err != nil {
		return nil, 0, err
	}

	defer rows.Close()

	output := make([]camp.Camp, 0, filter.Limit)
	total := 0

	for rows.Next() {
		var c camp.Camp
		var t int

		err = rows.Scan(
			&c.ID, &c.Name, &c.Organizer, &c.ManagerID, &c.Countries,
			&c.MinAge, &c.MaxAge, &c.StartAt, &c.EndAt, &c.Active, &c.Public,
			&c.MaxParticipants, &c.FreePlaces, &c.Form,
			&c.Version, &c.CreatedAt, &c.UpdatedAt, &t,
		)
		if err != nil {
			return nil, 0, err
		}

		total = t
		output = append(output, c)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return output, total, nil
}

func (r *CampsRepo) GetByID(ctx context.Context, id string) (camp.Camp, error) {
	var c camp.Camp
	err := r.observe("camps.get_by_id", func() error {
		var e error
		c, e = scanCamp(r.pool.QueryRow(ctx,
			`SELECT `+campColumns+` FROM camps WHERE id = $1`, id))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return camp.Camp{}, camp.ErrNotFound
		}
		return camp.Camp{}, err
	}

	return c, nil
}

// Update rewrites the camp's settings and form. Capacity counters are left
// alone here, they only move through the coordinator's CAS path. The version
// bump invalidates cached compiled schemas for the old form.
func (r *CampsRepo) Update(ctx context.Context, id string, req camp.UpdateCampRequest) (camp.Camp, error) {
	var c camp.Camp

	err := r.observe("camps.update", func() error {
		var e error
		c, e = scanCamp(r.pool.QueryRow(ctx, `
			UPDATE camps
			SET name = $2,
			    organizer = $3,
			    min_age = $4,
			    max_age = $5,
			    start_at = $6,
			    end_at = $7,
			    active = $8,
			    public = $9,
			    form = $10,
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING `+campColumns,
			id, req.Name, req.Organizer, req.MinAge, req.MaxAge,
			req.StartAt, req.EndAt, req.Active, req.Public, req.Form))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return camp.Camp{}, camp.ErrNotFound
		}
		return camp.Camp{}, err
	}

	return c, nil
}

func (r *CampsRepo) Delete(ctx context.Context, id string) error {
	var affected int64
	err := r.observe("camps.delete", func() error {
		tag, e := r.pool.Exec(ctx, `DELETE FROM camps WHERE id = $1`, id)
		if e != nil {
			return e
		}
		affected = tag.RowsAffected()
		return nil
	})

	if err != nil {
		return err
	}

	// if no rows were deleted as a result return a not found error
	if affected == 0 {
		return camp.ErrNotFound
	}

	return nil
}
