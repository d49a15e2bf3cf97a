package bundles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promoreel/backend/internal/models"
	"github.com/promoreel/backend/pkg/resilience"
)

const bundleColumns = `id, user_id, source_url, style, music_mood, duration_sec, site_content, script, outputs, status, COALESCE(error_message,''), last_accessed_at, created_at, updated_at`

// Patch is a partial update: nil fields are left untouched.
type Patch struct {
	Status       *string
	Script       *models.Script
	SiteContent  *models.SiteContent
	Outputs      *models.BundleOutputs
	ErrorMessage *string
}

// Repository handles bundle persistence. Every call goes through the
// resilience layer under a per-operation breaker.
type Repository struct {
	pool *pgxpool.Pool
	res  *resilience.Registry
}

// NewRepository creates a bundle repository.
func NewRepository(pool *pgxpool.Pool, res *resilience.Registry) *Repository {
	return &Repository{pool: pool, res: res}
}

// Create inserts a new bundle. ID and timestamps are filled on return.
func (r *Repository) Create(ctx context.Context, b *models.Bundle) error {
	var content, script []byte
	var err error
	if b.SiteContent != nil {
		if content, err = json.Marshal(b.SiteContent); err != nil {
			return fmt.Errorf("marshal site_content: %w", err)
		}
	}
	if b.Script != nil {
		if script, err = json.Marshal(b.Script); err != nil {
			return fmt.Errorf("marshal script: %w", err)
		}
	}
	return r.res.Execute(ctx, "bundles.create", func(ctx context.Context) error {
		const q = `INSERT INTO bundles (user_id, source_url, style, music_mood, duration_sec, site_content, script, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at, updated_at`
		return r.pool.QueryRow(ctx, q, b.UserID, b.SourceURL, b.Style, b.MusicMood, b.DurationSec, content, script, b.Status).
			Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	})
}

// GetByID returns a bundle, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Bundle, error) {
	var bundle *models.Bundle
	err := r.res.Execute(ctx, "bundles.get", func(ctx context.Context) error {
		q := `SELECT ` + bundleColumns + ` FROM bundles WHERE id = $1`
		b, err := scanBundle(r.pool.QueryRow(ctx, q, id))
		if err != nil {
			return err
		}
		bundle = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

// ListByUser returns a user's bundles, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Bundle, error) {
	return r.list(ctx, "bundles.list",
		`SELECT `+bundleColumns+` FROM bundles WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListActive returns bundles still being driven by the orchestrator, oldest
// first. Used by the background sweep.
func (r *Repository) ListActive(ctx context.Context) ([]models.Bundle, error) {
	return r.list(ctx, "bundles.list_active",
		`SELECT `+bundleColumns+` FROM bundles WHERE status IN ($1, $2, $3, $4) ORDER BY created_at`,
		models.BundleStatusPending, models.BundleStatusAnalyzing, models.BundleStatusComposing, models.BundleStatusRendering)
}

func (r *Repository) list(ctx context.Context, op, q string, args ...interface{}) ([]models.Bundle, error) {
	var out []models.Bundle
	err := r.res.Execute(ctx, op, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			b, err := scanBundleRow(rows)
			if err != nil {
				return err
			}
			out = append(out, *b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies a partial patch.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, p Patch) error {
	set, args, err := p.build()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	args = append(args, id)
	q := fmt.Sprintf("UPDATE bundles SET %s WHERE id = $%d", set, len(args))
	return r.res.Execute(ctx, "bundles.update", func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, q, args...)
		return err
	})
}

// UpdateStatusIfActive transitions the bundle's status only when it has not
// already reached a terminal state. Returns true when a row changed; this is
// what makes finalization idempotent across racing callers.
func (r *Repository) UpdateStatusIfActive(ctx context.Context, id uuid.UUID, status string, outputs *models.BundleOutputs, errorMessage string) (bool, error) {
	var out []byte
	var err error
	if outputs != nil {
		if out, err = json.Marshal(outputs); err != nil {
			return false, fmt.Errorf("marshal outputs: %w", err)
		}
	}
	var changed bool
	err = r.res.Execute(ctx, "bundles.finalize", func(ctx context.Context) error {
		const q = `UPDATE bundles
			SET status = $2, outputs = COALESCE($3, outputs), error_message = NULLIF($4, ''), updated_at = now()
			WHERE id = $1 AND status NOT IN ($5, $6)`
		tag, err := r.pool.Exec(ctx, q, id, status, out, errorMessage,
			models.BundleStatusCompleted, models.BundleStatusFailed)
		if err != nil {
			return err
		}
		changed = tag.RowsAffected() > 0
		return nil
	})
	return changed, err
}

// TouchAccessed updates last_accessed_at. Best-effort bookkeeping: callers run
// it detached and ignore the error.
func (r *Repository) TouchAccessed(ctx context.Context, id uuid.UUID) error {
	return r.res.Execute(ctx, "bundles.touch", func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, `UPDATE bundles SET last_accessed_at = now() WHERE id = $1`, id)
		return err
	})
}

func (p Patch) build() (string, []interface{}, error) {
	set := []string{"updated_at = now()"}
	var args []interface{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.SiteContent != nil {
		raw, err := json.Marshal(p.SiteContent)
		if err != nil {
			return "", nil, err
		}
		add("site_content", raw)
	}
	if p.Script != nil {
		raw, err := json.Marshal(p.Script)
		if err != nil {
			return "", nil, err
		}
		add("script", raw)
	}
	if p.Outputs != nil {
		raw, err := json.Marshal(p.Outputs)
		if err != nil {
			return "", nil, err
		}
		add("outputs", raw)
	}
	if p.ErrorMessage != nil {
		add("error_message", *p.ErrorMessage)
	}
	return strings.Join(set, ", "), args, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBundle(row pgx.Row) (*models.Bundle, error) {
	b, err := scanBundleRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func scanBundleRow(row rowScanner) (*models.Bundle, error) {
	var b models.Bundle
	var content, script, outputs []byte
	err := row.Scan(&b.ID, &b.UserID, &b.SourceURL, &b.Style, &b.MusicMood, &b.DurationSec,
		&content, &script, &outputs, &b.Status, &b.ErrorMessage, &b.LastAccessedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(content) > 0 {
		b.SiteContent = &models.SiteContent{}
		if err := json.Unmarshal(content, b.SiteContent); err != nil {
			return nil, fmt.Errorf("decode site_content: %w", err)
		}
	}
	if len(script) > 0 {
		b.Script = &models.Script{}
		if err := json.Unmarshal(script, b.Script); err != nil {
			return nil, fmt.Errorf("decode script: %w", err)
		}
	}
	if len(outputs) > 0 {
		b.Outputs = &models.BundleOutputs{}
		if err := json.Unmarshal(outputs, b.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs: %w", err)
		}
	}
	return &b, nil
}
