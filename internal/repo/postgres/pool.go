// Package postgres is the relational repository: a pgxpool.Pool-backed
// repo per aggregate (apps, reviews, labels), with a minimal PgxPool
// interface for testability.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/reviewharvest/pipeline/internal/model"
)

// PgxPool is the minimal subset of *pgxpool.Pool the repos depend on,
// letting tests substitute a fake without a real Postgres instance.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Repository bundles the three aggregate repos the pipeline needs over
// a single shared pool.
type Repository struct {
	Apps    *AppRepo
	Reviews *ReviewRepo
	Labels  *LabelRepo
}

// New constructs a Repository over pool.
func New(pool PgxPool) *Repository {
	return &Repository{
		Apps:    &AppRepo{pool: pool},
		Reviews: &ReviewRepo{pool: pool},
		Labels:  &LabelRepo{pool: pool},
	}
}

// UpsertApp satisfies internal/scrape.Repository by forwarding to Apps.
func (r *Repository) UpsertApp(ctx context.Context, app model.App) error {
	return r.Apps.Upsert(ctx, app)
}

// UpsertReviews satisfies internal/scrape.Repository by forwarding to
// Reviews.UpsertBatch.
func (r *Repository) UpsertReviews(ctx context.Context, reviews []model.Review, batchSize int) (int, error) {
	return r.Reviews.UpsertBatch(ctx, reviews, batchSize)
}

// GetReviewsByIDs satisfies internal/label.Repository.
func (r *Repository) GetReviewsByIDs(ctx context.Context, ids []string) ([]model.Review, error) {
	return r.Reviews.GetByIDs(ctx, ids)
}

// SelectUnlabeledReviews satisfies internal/label.Repository.
func (r *Repository) SelectUnlabeledReviews(ctx context.Context, limit int) ([]model.Review, error) {
	return r.Reviews.SelectUnlabeled(ctx, limit)
}

// UpsertLabels satisfies internal/label.Repository.
func (r *Repository) UpsertLabels(ctx context.Context, labels []model.Label, batchSize int) (int, error) {
	return r.Labels.UpsertBatch(ctx, labels, batchSize)
}
