package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/reviewharvest/pipeline/internal/model"
)

// ReviewRepo persists the reviews table. Reviews are globally unique
// by id; re-observation refreshes mutable fields
// (text/score/helpfulVotes/reply) while identity stays fixed.
type ReviewRepo struct{ pool PgxPool }

const upsertReviewSQL = `
INSERT INTO reviews (
  id, app_id, user_name, user_url, version, score, title, text, url,
  date, reply_date, reply_text, helpful_votes, country, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
ON CONFLICT (id) DO UPDATE SET
  user_name = EXCLUDED.user_name,
  version = EXCLUDED.version,
  score = EXCLUDED.score,
  title = EXCLUDED.title,
  text = EXCLUDED.text,
  url = EXCLUDED.url,
  date = EXCLUDED.date,
  reply_date = EXCLUDED.reply_date,
  reply_text = EXCLUDED.reply_text,
  helpful_votes = EXCLUDED.helpful_votes,
  country = EXCLUDED.country,
  updated_at = EXCLUDED.updated_at
`

// UpsertBatch writes up to len(reviews) rows in batches of at most
// batchSize. A single row's failure does not abort the remainder: this
// method reports the first error but still attempts every row,
// returning the count of rows that succeeded alongside it so the scrape
// processor can log partial persistence failures without losing the
// rest.
func (r *ReviewRepo) UpsertBatch(ctx context.Context, reviews []model.Review, batchSize int) (succeeded int, firstErr error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	now := time.Now().UTC()
	for start := 0; start < len(reviews); start += batchSize {
		end := start + batchSize
		if end > len(reviews) {
			end = len(reviews)
		}
		batch := &pgx.Batch{}
		for _, rv := range reviews[start:end] {
			var replyAt *time.Time
			if rv.DeveloperReplyAt != nil {
				t := *rv.DeveloperReplyAt
				replyAt = &t
			}
			batch.Queue(upsertReviewSQL,
				rv.ID, rv.AppID, rv.AuthorName, rv.URL, rv.Version, rv.Score, rv.Title, rv.Text, rv.URL,
				rv.SubmittedAt, replyAt, rv.DeveloperReplyText, rv.HelpfulVotes, rv.Country, now,
			)
		}
		br := r.pool.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("op=reviews.upsert_batch: row %d: %w", start+i, err)
				}
				continue
			}
			succeeded++
		}
		_ = br.Close()
	}
	return succeeded, firstErr
}

// GetByIDs loads reviews by id for the label processor's targeted
// mode, preserving no particular order.
func (r *ReviewRepo) GetByIDs(ctx context.Context, ids []string) ([]model.Review, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `
SELECT id, app_id, user_name, version, score, title, text, url,
       date, reply_date, reply_text, helpful_votes, country, created_at, updated_at
FROM reviews WHERE id = ANY($1)
`
	rows, err := r.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("op=reviews.get_by_ids: %w", err)
	}
	defer rows.Close()
	return scanReviews(rows)
}

// SelectUnlabeled returns up to limit reviews with no labels row,
// ordered by creation desc.
func (r *ReviewRepo) SelectUnlabeled(ctx context.Context, limit int) ([]model.Review, error) {
	const q = `
SELECT r.id, r.app_id, r.user_name, r.version, r.score, r.title, r.text, r.url,
       r.date, r.reply_date, r.reply_text, r.helpful_votes, r.country, r.created_at, r.updated_at
FROM reviews r
LEFT JOIN labels l ON l.review_id = r.id
WHERE l.review_id IS NULL
ORDER BY r.created_at DESC
LIMIT $1
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=reviews.select_unlabeled: %w", err)
	}
	defer rows.Close()
	return scanReviews(rows)
}

func scanReviews(rows pgx.Rows) ([]model.Review, error) {
	var out []model.Review
	for rows.Next() {
		var rv model.Review
		var replyAt *time.Time
		if err := rows.Scan(&rv.ID, &rv.AppID, &rv.AuthorName, &rv.Version, &rv.Score, &rv.Title, &rv.Text, &rv.URL,
			&rv.SubmittedAt, &replyAt, &rv.DeveloperReplyText, &rv.HelpfulVotes, &rv.Country, &rv.CreatedAt, &rv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=reviews.scan: %w", err)
		}
		rv.DeveloperReplyAt = replyAt
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=reviews.scan: %w", err)
	}
	return out, nil
}
