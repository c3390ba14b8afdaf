package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/reviewharvest/pipeline/internal/model"
)

func TestLabelRepoUpsertBatchCountsSuccesses(t *testing.T) {
	pool := &fakePool{}
	repo := &LabelRepo{pool: pool}

	labels := []model.Label{
		{ReviewID: "r1", Theme: "Bugs & Crashes", Sentiment: model.SentimentNegative, Severity: 4, Confidence: 0.8},
		{ReviewID: "r2", Theme: model.FallbackTheme, Sentiment: model.SentimentNeutral, Severity: 1, Confidence: 0},
	}
	succeeded, err := repo.UpsertBatch(context.Background(), labels, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if succeeded != 2 {
		t.Fatalf("expected 2 labels upserted, got %d", succeeded)
	}
}

func TestLabelRepoUpsertBatchReportsRowFailure(t *testing.T) {
	pool := &fakePool{batchExecErrs: map[int]error{0: errors.New("fk violation")}}
	repo := &LabelRepo{pool: pool}

	labels := []model.Label{{ReviewID: "ghost"}}
	succeeded, err := repo.UpsertBatch(context.Background(), labels, 10)
	if err == nil {
		t.Fatalf("expected the row error surfaced")
	}
	if succeeded != 0 {
		t.Fatalf("expected 0 successes, got %d", succeeded)
	}
}

func TestLabelRepoUpsertBatchDefaultsBatchSizeWhenNonPositive(t *testing.T) {
	pool := &fakePool{}
	repo := &LabelRepo{pool: pool}

	labels := make([]model.Label, 3)
	for i := range labels {
		labels[i] = model.Label{ReviewID: string(rune('a' + i))}
	}
	succeeded, err := repo.UpsertBatch(context.Background(), labels, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if succeeded != 3 {
		t.Fatalf("expected 3 successes with default batch size, got %d", succeeded)
	}
}
