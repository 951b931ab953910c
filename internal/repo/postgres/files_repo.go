package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marvin-wtt/camp-registration-api/internal/form"
	"github.com/marvin-wtt/camp-registration-api/internal/observability"
)

// FilesRepo tracks uploaded files. Uploads land as pending rows identified
// by a one-time token; submitting a form with that token resolves it and the
// coordinator re-parents the file onto the registration at commit.
type FilesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewFilesRepo(pool *pgxpool.Pool, prom *observability.Prom) *FilesRepo {
	return &FilesRepo{pool: pool, prom: prom}
}

func (r *FilesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

type File struct {
	ID             string     `json:"id"`
	Token          string     `json:"-"`
	Name           string     `json:"name"`
	ContentType    string     `json:"contentType"`
	Size           int64      `json:"size"`
	StoragePath    string     `json:"-"`
	RegistrationID *string    `json:"registrationId,omitempty"`
	AssignedAt     *time.Time `json:"assignedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// CreatePending stores the metadata for a fresh upload and hands back the
// token the client echoes in its form submission.
func (r *FilesRepo) CreatePending(ctx context.Context, name, contentType string, size int64, storagePath string) (File, error) {
	f := File{
		ID:          uuid.NewString(),
		Token:       uuid.NewString(),
		Name:        name,
		ContentType: contentType,
		Size:        size,
		StoragePath: storagePath,
		CreatedAt:   time.Now().UTC(),
	}

	err := r.observe("files.create_pending", func() error {
		_, e := r.pool.Exec(ctx, `
			INSERT INTO files (id, token, name, content_type, size, storage_path, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, f.ID, f.Token, f.Name, f.ContentType, f.Size, f.StoragePath, f.CreatedAt)
		return e
	})

	if err != nil {
		return File{}, err
	}

	return f, nil
}

// ResolvePendingFile implements form.FileResolver.
func (r *FilesRepo) ResolvePendingFile(ctx context.Context, token string) (form.FileRef, error) {
	var (
		ref      form.FileRef
		assigned *string
	)

	err := r.observe("files.resolve_pending", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT id, name, registration_id
			FROM files
			WHERE token = $1
		`, token).Scan(&ref.ID, &ref.Name, &assigned)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return form.FileRef{}, form.ErrFileNotFound
		}
		return form.FileRef{}, err
	}

	if assigned != nil {
		return form.FileRef{}, form.ErrFileAssigned
	}

	return ref, nil
}

func (r *FilesRepo) GetByID(ctx context.Context, id string) (File, error) {
	var f File

	err := r.observe("files.get_by_id", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT id, token, name, content_type, size, storage_path, registration_id, assigned_at, created_at
			FROM files
			WHERE id = $1
		`, id).Scan(&f.ID, &f.Token, &f.Name, &f.ContentType, &f.Size, &f.StoragePath,
			&f.RegistrationID, &f.AssignedAt, &f.CreatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return File{}, form.ErrFileNotFound
		}
		return File{}, err
	}

	return f, nil
}

// DeleteOrphans removes pending uploads that never made it into a
// submission. The worker calls this on a timer.
func (r *FilesRepo) DeleteOrphans(ctx context.Context, olderThan time.Duration) (int64, error) {
	secs := int64(olderThan.Seconds())
	if secs <= 0 {
		secs = 86400
	}

	var rows int64
	err := r.observe("files.delete_orphans", func() error {
		tag, e := r.pool.Exec(ctx, `
			DELETE FROM files
			WHERE registration_id IS NULL
			  AND created_at < NOW() - ($1 * INTERVAL '1 second')
		`, secs)
		if e != nil {
			return e
		}
		rows = tag.RowsAffected()
		return nil
	})

	return rows, err
}
