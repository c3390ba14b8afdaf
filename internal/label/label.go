// Package label implements the LABEL processor: targeted and catch-up
// entry modes, taxonomy-embedding prompt construction, batched LLM
// calls with fallback fabrication on malformed responses,
// sanitize/clamp, and batched upsert.
package label

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reviewharvest/pipeline/internal/breaker"
	"github.com/reviewharvest/pipeline/internal/jobs"
	"github.com/reviewharvest/pipeline/internal/llm"
	"github.com/reviewharvest/pipeline/internal/model"
	"github.com/reviewharvest/pipeline/internal/obs"
	"github.com/reviewharvest/pipeline/internal/ratelimit"
	"github.com/reviewharvest/pipeline/internal/taxonomy"
	"github.com/reviewharvest/pipeline/internal/worker"
)

// Repository is the persistence contract the label processor depends on.
type Repository interface {
	GetReviewsByIDs(ctx context.Context, ids []string) ([]model.Review, error)
	SelectUnlabeledReviews(ctx context.Context, limit int) ([]model.Review, error)
	UpsertLabels(ctx context.Context, labels []model.Label, batchSize int) (succeeded int, firstErr error)
}

// Processor implements worker.Processor for kind LABEL.
type Processor struct {
	llm       llm.Client
	repo      Repository
	breaker   *breaker.CircuitBreaker
	limiter   *ratelimit.Limiter
	log       *zap.Logger
	themes    []taxonomy.Theme
	validThemes map[string]struct{}
	sleepBetweenBatches time.Duration
}

// New constructs a label Processor against the default taxonomy.
func New(c llm.Client, repo Repository, cb *breaker.CircuitBreaker, limiter *ratelimit.Limiter, log *zap.Logger) *Processor {
	return &Processor{
		llm:                 c,
		repo:                repo,
		breaker:             cb,
		limiter:             limiter,
		log:                 log,
		themes:              taxonomy.Default,
		validThemes:         taxonomy.Names(),
		sleepBetweenBatches: time.Second,
	}
}

func (p *Processor) Kind() jobs.JobKind { return jobs.KindLabel }

// Result is the LABEL job's success payload.
type Result struct {
	ReviewsProcessed    int                `json:"reviewsProcessed"`
	Model               string             `json:"model"`
	AverageConfidence   float64            `json:"averageConfidence"`
	SentimentBreakdown  map[string]int     `json:"sentimentBreakdown"`
}

// Process labels an explicit list of review ids. Catch-up mode is
// handled by ProcessUnlabeled, which resolves its review ids and reuses
// this same path.
func (p *Processor) Process(ctx context.Context, job jobs.Job, hb worker.Heartbeat) (jobs.Result, error) {
	start := time.Now()
	payload, err := jobs.DecodeAndValidate(jobs.KindLabel, job.Payload)
	if err != nil {
		return jobs.Result{}, jobs.Classify(jobs.KindInvalidPayload, err)
	}
	in := payload.(*jobs.LabelPayload)
	hb(10)

	reviews, err := p.repo.GetReviewsByIDs(ctx, in.ReviewIDs)
	if err != nil {
		return jobs.Result{}, jobs.Classify(jobs.KindTransient, fmt.Errorf("label: load reviews: %w", err))
	}
	if len(reviews) == 0 {
		return jobs.Result{}, jobs.Classify(jobs.KindPermanent, jobs.ErrNoReviewsFound)
	}
	hb(20)

	labels, err := p.classifyAll(ctx, reviews, in.BatchSize, in.Model)
	if err != nil {
		return jobs.Result{}, err
	}
	hb(80)

	succeeded, persistErr := p.repo.UpsertLabels(ctx, labels, 50)
	if persistErr != nil {
		p.log.Warn("label.partial_persistence_failure", obs.Int("succeeded", succeeded), obs.Int("attempted", len(labels)), obs.Err(persistErr))
	}
	hb(95)

	result := summarize(labels, in.Model)
	hb(100)

	return jobs.Result{
		Success:        true,
		Message:        fmt.Sprintf("labeled %d reviews", len(labels)),
		Data:           result,
		ProcessingTime: time.Since(start).Milliseconds(),
		ItemsProcessed: len(labels),
	}, nil
}

// ProcessUnlabeled is the catch-up entry mode: select up to limit
// reviews with no Label, then reuse the targeted path by synthesizing a
// LABEL job around their ids.
func (p *Processor) ProcessUnlabeled(ctx context.Context, limit, batchSize int, model string) (jobs.Result, error) {
	reviews, err := p.repo.SelectUnlabeledReviews(ctx, limit)
	if err != nil {
		return jobs.Result{}, jobs.Classify(jobs.KindTransient, fmt.Errorf("label: select unlabeled: %w", err))
	}
	if len(reviews) == 0 {
		return jobs.Result{Success: true, Message: "no unlabeled reviews found", ItemsProcessed: 0}, nil
	}
	ids := make([]string, len(reviews))
	for i, r := range reviews {
		ids[i] = r.ID
	}
	payload := jobs.LabelPayload{ReviewIDs: ids, BatchSize: batchSize, Model: model}
	payload.Defaults()
	raw, _ := json.Marshal(payload)
	job := jobs.Job{Kind: jobs.KindLabel, Payload: raw}
	return p.Process(ctx, job, func(int) {})
}

// classifyAll builds batches of batchSize, calls the LLM for each, and
// sanitizes the result, fabricating defaults for any batch whose
// response doesn't parse.
func (p *Processor) classifyAll(ctx context.Context, reviews []model.Review, batchSize int, modelOverride string) ([]model.Label, error) {
	if batchSize <= 0 {
		batchSize = 20
	}
	if batchSize > 100 {
		batchSize = 100
	}
	var out []model.Label
	for start := 0; start < len(reviews); start += batchSize {
		if ctx.Err() != nil {
			return nil, jobs.Classify(jobs.KindCancelled, ctx.Err())
		}
		end := start + batchSize
		if end > len(reviews) {
			end = len(reviews)
		}
		batch := reviews[start:end]
		labels := p.classifyBatch(ctx, batch)
		out = append(out, labels...)

		if end < len(reviews) {
			timer := time.NewTimer(p.sleepBetweenBatches)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, jobs.Classify(jobs.KindCancelled, ctx.Err())
			case <-timer.C:
			}
		}
	}
	return out, nil
}

// classifyBatch calls the LLM once for batch and sanitizes the result,
// falling back to default labels for the whole batch if the response
// doesn't parse. One bad batch must not poison the rest of the job.
func (p *Processor) classifyBatch(ctx context.Context, batch []model.Review) []model.Label {
	req := llm.ClassifyRequest{
		SystemPrompt: systemPrompt(p.themes),
		UserPrompt:   userPrompt(batch),
	}

	if p.breaker != nil && !p.breaker.Allow() {
		p.log.Warn("label.breaker_open", obs.Int("batch_size", len(batch)))
		return fallbackLabels(batch, p.llm.ModelVersion())
	}

	raw, err := p.llm.Classify(ctx, req)
	ok := err == nil
	if p.breaker != nil {
		p.breaker.Record(ok)
	}
	if err != nil {
		if jobs.ClassifyOf(err) == jobs.KindRateLimited && p.limiter != nil {
			p.limiter.Feedback(true)
		}
		p.log.Warn("label.llm_call_failed", obs.Int("batch_size", len(batch)), obs.Err(err))
		return fallbackLabels(batch, p.llm.ModelVersion())
	}

	parsed, ok := parseResponse(raw)
	if !ok {
		p.log.Warn("label.malformed_response", obs.Int("batch_size", len(batch)))
		return fallbackLabels(batch, p.llm.ModelVersion())
	}

	byID := make(map[string]rawLabel, len(parsed))
	for _, r := range parsed {
		byID[r.ReviewID] = r
	}

	out := make([]model.Label, 0, len(batch))
	for _, rv := range batch {
		r, found := byID[rv.ID]
		var l model.Label
		if found {
			l = model.Label{
				ReviewID:       rv.ID,
				Theme:          r.Theme,
				Sentiment:      model.Sentiment(strings.ToLower(r.Sentiment)),
				Severity:       r.Severity,
				FeatureRequest: r.FeatureRequest,
				DirectQuote:    r.DirectQuote,
				Confidence:     r.Confidence,
				ModelVersion:   p.llm.ModelVersion(),
			}
		} else {
			l = defaultLabel(rv.ID, p.llm.ModelVersion())
		}
		l.Clamp(p.validThemes)
		out = append(out, l)
	}
	return out
}

func fallbackLabels(batch []model.Review, modelVersion string) []model.Label {
	out := make([]model.Label, 0, len(batch))
	for _, rv := range batch {
		out = append(out, defaultLabel(rv.ID, modelVersion))
	}
	return out
}

// defaultLabel is the fabricated label used when the LLM response for a
// review is missing or unusable.
func defaultLabel(reviewID, modelVersion string) model.Label {
	return model.Label{
		ReviewID:     reviewID,
		Theme:        model.FallbackTheme,
		Sentiment:    model.SentimentNeutral,
		Severity:     1,
		Confidence:   0,
		ModelVersion: modelVersion,
	}
}

type rawLabel struct {
	ReviewID       string  `json:"reviewId"`
	Theme          string  `json:"theme"`
	Sentiment      string  `json:"sentiment"`
	Severity       int     `json:"severity"`
	FeatureRequest bool    `json:"featureRequest"`
	DirectQuote    string  `json:"directQuote"`
	Confidence     float64 `json:"confidence"`
}

// parseResponse parses raw as a JSON array of rawLabel, tolerating a
// stray code fence some models wrap JSON in despite instructions.
func parseResponse(raw string) ([]rawLabel, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	var out []rawLabel
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, false
	}
	return out, true
}

func systemPrompt(themes []taxonomy.Theme) string {
	var b strings.Builder
	b.WriteString("You are a product analyst classifying app store reviews. ")
	b.WriteString("Use exactly one of the following themes per review, or \"")
	b.WriteString(model.FallbackTheme)
	b.WriteString("\" if none fit:\n")
	for _, t := range themes {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	b.WriteString("\nFor each review return an object with fields: reviewId, theme, sentiment " +
		"(one of positive, neutral, negative), severity (integer 1-5; use 1 for positive or " +
		"neutral reviews), featureRequest (boolean), directQuote (<=100 chars), confidence " +
		"(float 0-1). Return a single JSON array, one object per review, in the same order given.")
	return b.String()
}

func userPrompt(reviews []model.Review) string {
	var b strings.Builder
	b.WriteString("Classify the following reviews:\n")
	for i, rv := range reviews {
		fmt.Fprintf(&b, "%d. id=%s score=%d text=%q\n", i+1, rv.ID, rv.Score, rv.Text)
	}
	return b.String()
}

func summarize(labels []model.Label, modelName string) Result {
	breakdown := map[string]int{
		string(model.SentimentPositive): 0,
		string(model.SentimentNeutral):  0,
		string(model.SentimentNegative): 0,
	}
	var total float64
	for _, l := range labels {
		breakdown[string(l.Sentiment)]++
		total += l.Confidence
	}
	avg := 0.0
	if len(labels) > 0 {
		avg = total / float64(len(labels))
	}
	return Result{
		ReviewsProcessed:   len(labels),
		Model:              modelName,
		AverageConfidence:  avg,
		SentimentBreakdown: breakdown,
	}
}
