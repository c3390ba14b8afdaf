package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/reviewharvest/pipeline/internal/model"
)

// AppRepo persists the apps table: upserted on first scrape, updated
// in place on re-observation.
type AppRepo struct{ pool PgxPool }

// Upsert inserts app or, on conflict by id, refreshes its mutable
// fields and updated_at.
func (r *AppRepo) Upsert(ctx context.Context, app model.App) error {
	const q = `
INSERT INTO apps (id, title, description, version, developer, category, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (id) DO UPDATE SET
  title = EXCLUDED.title,
  description = EXCLUDED.description,
  version = EXCLUDED.version,
  developer = EXCLUDED.developer,
  category = EXCLUDED.category,
  updated_at = EXCLUDED.updated_at
`
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, q, app.ID, app.Title, app.Description, app.Version, app.Developer, app.Category, now)
	if err != nil {
		return fmt.Errorf("op=apps.upsert: %w", err)
	}
	return nil
}
