package renders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promoreel/backend/internal/models"
	"github.com/promoreel/backend/pkg/resilience"
)

const renderColumns = `id, bundle_id, COALESCE(render_id,''), COALESCE(storage_key,''), format, status, progress, COALESCE(output_url,''), COALESCE(thumbnail_url,''), COALESCE(error_message,''), completed_at, created_at, updated_at`

// Patch is a partial update: nil fields are left untouched.
type Patch struct {
	Status       *string
	Progress     *float64
	OutputURL    *string
	ThumbnailURL *string
	ErrorMessage *string
	CompletedAt  *time.Time
}

// Repository handles render job persistence. Every call goes through the
// resilience layer under a per-operation breaker.
type Repository struct {
	pool *pgxpool.Pool
	res  *resilience.Registry
}

// NewRepository creates a render job repository.
func NewRepository(pool *pgxpool.Pool, res *resilience.Registry) *Repository {
	return &Repository{pool: pool, res: res}
}

// Create inserts a new render job. ID and timestamps are filled on return.
func (r *Repository) Create(ctx context.Context, job *models.RenderJob) error {
	return r.res.Execute(ctx, "render_jobs.create", func(ctx context.Context) error {
		const q = `INSERT INTO render_jobs (bundle_id, render_id, storage_key, format, status, progress, error_message)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
			RETURNING id, created_at, updated_at`
		return r.pool.QueryRow(ctx, q, job.BundleID, job.RenderID, job.StorageKey, job.Format, job.Status, job.Progress, job.ErrorMessage).
			Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	})
}

// GetByID returns a render job, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.RenderJob, error) {
	var job *models.RenderJob
	err := r.res.Execute(ctx, "render_jobs.get", func(ctx context.Context) error {
		q := `SELECT ` + renderColumns + ` FROM render_jobs WHERE id = $1`
		j, err := scanRender(r.pool.QueryRow(ctx, q, id))
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetByRenderID returns the job correlated with the farm's render id, or nil.
func (r *Repository) GetByRenderID(ctx context.Context, renderID string) (*models.RenderJob, error) {
	var job *models.RenderJob
	err := r.res.Execute(ctx, "render_jobs.get_by_render", func(ctx context.Context) error {
		q := `SELECT ` + renderColumns + ` FROM render_jobs WHERE render_id = $1`
		j, err := scanRender(r.pool.QueryRow(ctx, q, renderID))
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListByBundle returns the bundle's render jobs in creation order.
func (r *Repository) ListByBundle(ctx context.Context, bundleID uuid.UUID) ([]models.RenderJob, error) {
	return r.list(ctx, "render_jobs.list",
		`SELECT `+renderColumns+` FROM render_jobs WHERE bundle_id = $1 ORDER BY created_at`, bundleID)
}

// ListActive returns all render jobs still awaiting a terminal state, across
// all bundles. Used by the background sweep.
func (r *Repository) ListActive(ctx context.Context) ([]models.RenderJob, error) {
	return r.list(ctx, "render_jobs.list_active",
		`SELECT `+renderColumns+` FROM render_jobs WHERE status IN ($1, $2) ORDER BY created_at`,
		models.RenderStatusPending, models.RenderStatusRendering)
}

func (r *Repository) list(ctx context.Context, op, q string, args ...interface{}) ([]models.RenderJob, error) {
	var jobs []models.RenderJob
	err := r.res.Execute(ctx, op, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		jobs = jobs[:0]
		for rows.Next() {
			var j models.RenderJob
			if err := rows.Scan(&j.ID, &j.BundleID, &j.RenderID, &j.StorageKey, &j.Format, &j.Status, &j.Progress,
				&j.OutputURL, &j.ThumbnailURL, &j.ErrorMessage, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
				return err
			}
			jobs = append(jobs, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Update applies a partial patch by job id.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, p Patch) error {
	set, args := p.build()
	if len(args) == 0 {
		return nil
	}
	args = append(args, id)
	q := fmt.Sprintf("UPDATE render_jobs SET %s WHERE id = $%d", set, len(args))
	return r.res.Execute(ctx, "render_jobs.update", func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, q, args...)
		return err
	})
}

// UpdateByRenderID applies a partial patch keyed by the farm's render id.
func (r *Repository) UpdateByRenderID(ctx context.Context, renderID string, p Patch) error {
	set, args := p.build()
	if len(args) == 0 {
		return nil
	}
	args = append(args, renderID)
	q := fmt.Sprintf("UPDATE render_jobs SET %s WHERE render_id = $%d", set, len(args))
	return r.res.Execute(ctx, "render_jobs.update_by_render", func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, q, args...)
		return err
	})
}

func (p Patch) build() (string, []interface{}) {
	set := []string{"updated_at = now()"}
	var args []interface{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.Progress != nil {
		add("progress", *p.Progress)
	}
	if p.OutputURL != nil {
		add("output_url", *p.OutputURL)
	}
	if p.ThumbnailURL != nil {
		add("thumbnail_url", *p.ThumbnailURL)
	}
	if p.ErrorMessage != nil {
		add("error_message", *p.ErrorMessage)
	}
	if p.CompletedAt != nil {
		add("completed_at", *p.CompletedAt)
	}
	return strings.Join(set, ", "), args
}

func scanRender(row pgx.Row) (*models.RenderJob, error) {
	var j models.RenderJob
	err := row.Scan(&j.ID, &j.BundleID, &j.RenderID, &j.StorageKey, &j.Format, &j.Status, &j.Progress,
		&j.OutputURL, &j.ThumbnailURL, &j.ErrorMessage, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}
