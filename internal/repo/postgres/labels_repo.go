package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/reviewharvest/pipeline/internal/model"
)

// LabelRepo persists the labels table: at most one row per review_id,
// overwritten in place on re-labeling.
type LabelRepo struct{ pool PgxPool }

const upsertLabelSQL = `
INSERT INTO labels (review_id, sentiment, confidence, theme, severity, feature_request, direct_quote, model_version, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
ON CONFLICT (review_id) DO UPDATE SET
  sentiment = EXCLUDED.sentiment,
  confidence = EXCLUDED.confidence,
  theme = EXCLUDED.theme,
  severity = EXCLUDED.severity,
  feature_request = EXCLUDED.feature_request,
  direct_quote = EXCLUDED.direct_quote,
  model_version = EXCLUDED.model_version
`

// UpsertBatch writes labels in batches of at most batchSize, in the same
// best-effort-per-row shape as ReviewRepo.UpsertBatch.
func (r *LabelRepo) UpsertBatch(ctx context.Context, labels []model.Label, batchSize int) (succeeded int, firstErr error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	for start := 0; start < len(labels); start += batchSize {
		end := start + batchSize
		if end > len(labels) {
			end = len(labels)
		}
		batch := &pgx.Batch{}
		for _, l := range labels[start:end] {
			batch.Queue(upsertLabelSQL, l.ReviewID, l.Sentiment, l.Confidence, l.Theme, l.Severity, l.FeatureRequest, l.DirectQuote, l.ModelVersion)
		}
		br := r.pool.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("op=labels.upsert_batch: row %d: %w", start+i, err)
				}
				continue
			}
			succeeded++
		}
		_ = br.Close()
	}
	return succeeded, firstErr
}
