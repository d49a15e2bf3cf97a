package clips

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promoreel/backend/internal/models"
	"github.com/promoreel/backend/pkg/resilience"
)

const clipColumns = `id, bundle_id, COALESCE(request_id,''), clip_type, status, COALESCE(output_url,''), COALESCE(error_message,''), created_at, updated_at`

// Patch is a partial update: nil fields are left untouched.
type Patch struct {
	Status       *string
	OutputURL    *string
	ErrorMessage *string
}

// Repository handles clip job persistence. Every call goes through the
// resilience layer under a per-operation breaker.
type Repository struct {
	pool *pgxpool.Pool
	res  *resilience.Registry
}

// NewRepository creates a clip job repository.
func NewRepository(pool *pgxpool.Pool, res *resilience.Registry) *Repository {
	return &Repository{pool: pool, res: res}
}

// Create inserts a new clip job. ID and timestamps are filled on return.
func (r *Repository) Create(ctx context.Context, job *models.ClipJob) error {
	return r.res.Execute(ctx, "clip_jobs.create", func(ctx context.Context) error {
		const q = `INSERT INTO clip_jobs (bundle_id, request_id, clip_type, status, error_message)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''))
			RETURNING id, created_at, updated_at`
		return r.pool.QueryRow(ctx, q, job.BundleID, job.RequestID, job.ClipType, job.Status, job.ErrorMessage).
			Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	})
}

// GetByID returns a clip job, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.ClipJob, error) {
	var job *models.ClipJob
	err := r.res.Execute(ctx, "clip_jobs.get", func(ctx context.Context) error {
		q := `SELECT ` + clipColumns + ` FROM clip_jobs WHERE id = $1`
		j, err := scanClip(r.pool.QueryRow(ctx, q, id))
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

// GetByRequestID returns the clip job correlated with an external request id,
// or nil when no such job exists (e.g. a webhook for a superseded job).
func (r *Repository) GetByRequestID(ctx context.Context, requestID string) (*models.ClipJob, error) {
	var job *models.ClipJob
	err := r.res.Execute(ctx, "clip_jobs.get_by_request", func(ctx context.Context) error {
		q := `SELECT ` + clipColumns + ` FROM clip_jobs WHERE request_id = $1`
		j, err := scanClip(r.pool.QueryRow(ctx, q, requestID))
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

// ListByBundle returns the bundle's clip jobs in creation order.
func (r *Repository) ListByBundle(ctx context.Context, bundleID uuid.UUID) ([]models.ClipJob, error) {
	var jobs []models.ClipJob
	err := r.res.Execute(ctx, "clip_jobs.list", func(ctx context.Context) error {
		q := `SELECT ` + clipColumns + ` FROM clip_jobs WHERE bundle_id = $1 ORDER BY created_at`
		rows, err := r.pool.Query(ctx, q, bundleID)
		if err != nil {
			return err
		}
		defer rows.Close()
		jobs = jobs[:0]
		for rows.Next() {
			var j models.ClipJob
			if err := rows.Scan(&j.ID, &j.BundleID, &j.RequestID, &j.ClipType, &j.Status, &j.OutputURL, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt); err != nil {
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

// ListActive returns all clip jobs still awaiting a terminal state, across all
// bundles. Used by the polling fallback sweep.
func (r *Repository) ListActive(ctx context.Context) ([]models.ClipJob, error) {
	var jobs []models.ClipJob
	err := r.res.Execute(ctx, "clip_jobs.list_active", func(ctx context.Context) error {
		q := `SELECT ` + clipColumns + ` FROM clip_jobs WHERE status IN ($1, $2) ORDER BY created_at`
		rows, err := r.pool.Query(ctx, q, models.ClipStatusPending, models.ClipStatusProcessing)
		if err != nil {
			return err
		}
		defer rows.Close()
		jobs = jobs[:0]
		for rows.Next() {
			var j models.ClipJob
			if err := rows.Scan(&j.ID, &j.BundleID, &j.RequestID, &j.ClipType, &j.Status, &j.OutputURL, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt); err != nil {
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
	q := fmt.Sprintf("UPDATE clip_jobs SET %s WHERE id = $%d", set, len(args))
	return r.res.Execute(ctx, "clip_jobs.update", func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, q, args...)
		return err
	})
}

// UpdateByRequestID applies a partial patch keyed by the external request id.
// This is the webhook path: the notification only carries the external id.
func (r *Repository) UpdateByRequestID(ctx context.Context, requestID string, p Patch) error {
	set, args := p.build()
	if len(args) == 0 {
		return nil
	}
	args = append(args, requestID)
	q := fmt.Sprintf("UPDATE clip_jobs SET %s WHERE request_id = $%d", set, len(args))
	return r.res.Execute(ctx, "clip_jobs.update_by_request", func(ctx context.Context) error {
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
	if p.OutputURL != nil {
		add("output_url", *p.OutputURL)
	}
	if p.ErrorMessage != nil {
		add("error_message", *p.ErrorMessage)
	}
	return strings.Join(set, ", "), args
}

func scanClip(row pgx.Row) (*models.ClipJob, error) {
	var j models.ClipJob
	err := row.Scan(&j.ID, &j.BundleID, &j.RequestID, &j.ClipType, &j.Status, &j.OutputURL, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}
