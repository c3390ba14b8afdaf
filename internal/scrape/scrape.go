// Package scrape implements the SCRAPE processor: for one job, it
// crawls the cartesian product of countries x sort methods x pages
// against the external catalog, dedupes into a unique-by-reviewId set,
// and upserts the result.
package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reviewharvest/pipeline/internal/breaker"
	"github.com/reviewharvest/pipeline/internal/catalog"
	"github.com/reviewharvest/pipeline/internal/jobs"
	"github.com/reviewharvest/pipeline/internal/model"
	"github.com/reviewharvest/pipeline/internal/obs"
	"github.com/reviewharvest/pipeline/internal/ratelimit"
	"github.com/reviewharvest/pipeline/internal/worker"
)

// Repository is the persistence contract the scrape processor depends
// on: app upsert plus batched review upsert.
type Repository interface {
	UpsertApp(ctx context.Context, app model.App) error
	UpsertReviews(ctx context.Context, reviews []model.Review, batchSize int) (succeeded int, firstErr error)
}

// Processor implements worker.Processor for kind SCRAPE.
type Processor struct {
	catalog  catalog.Client
	repo     Repository
	breaker  *breaker.CircuitBreaker
	limiter  *ratelimit.Limiter
	log      *zap.Logger
	batchSize int
}

// New constructs a scrape Processor. limiter and cb are optional (may
// be nil): the worker runtime's own limiter and breaker already gate
// reservation, this pair additionally protects individual
// catalog.Client calls within a single job.
func New(c catalog.Client, repo Repository, cb *breaker.CircuitBreaker, limiter *ratelimit.Limiter, log *zap.Logger) *Processor {
	return &Processor{catalog: c, repo: repo, breaker: cb, limiter: limiter, log: log, batchSize: 50}
}

func (p *Processor) Kind() jobs.JobKind { return jobs.KindScrape }

// Result is the SCRAPE job's success payload.
type Result struct {
	ReviewsScraped     int      `json:"reviewsScraped"`
	CountriesProcessed []string `json:"countriesProcessed"`
	SortMethodsUsed    []string `json:"sortMethodsUsed"`
	AppTitle           string   `json:"appTitle"`
}

// Process runs one SCRAPE job end to end: resolve app info, upsert the
// app, crawl every (sort, country) pair, then persist the deduped set.
func (p *Processor) Process(ctx context.Context, job jobs.Job, hb worker.Heartbeat) (jobs.Result, error) {
	start := time.Now()
	payload, err := jobs.DecodeAndValidate(jobs.KindScrape, job.Payload)
	if err != nil {
		return jobs.Result{}, jobs.Classify(jobs.KindInvalidPayload, err)
	}
	in := payload.(*jobs.ScrapePayload)

	// Step 1: resolve appInfo using countries[0], tolerating failure.
	appInfo, err := p.catalog.App(ctx, in.AppID, in.Countries[0])
	if err != nil {
		p.log.Warn("scrape.app_lookup_failed", obs.String("app_id", in.AppID), obs.Err(err))
		appInfo = catalog.UnknownApp(in.AppID)
	}
	hb(10)

	// Step 2: upsert App.
	if err := p.repo.UpsertApp(ctx, model.App{ID: appInfo.ID, Title: appInfo.Title, Description: appInfo.Description, Version: appInfo.Version, Developer: appInfo.Developer, Category: appInfo.Category}); err != nil {
		// Persistence layer unreachable fails the whole job; later
		// per-row failures do not.
		return jobs.Result{}, jobs.Classify(jobs.KindTransient, fmt.Errorf("scrape: upsert app: %w", err))
	}
	hb(20)

	// Step 3: dedupe set.
	acc := make(map[string]model.Review)

	sorts := in.SortMethods
	countries := in.Countries
	pages := in.Pages
	if pages > 10 {
		pages = 10
	}
	if pages < 1 {
		pages = 1
	}

	hb(30)
	total := len(sorts) * len(countries)
	done := 0

	for _, sortStr := range sorts {
		sort := catalog.SortMethod(strings.ToLower(sortStr))
		for _, country := range countries {
			if ctx.Err() != nil {
				return jobs.Result{}, jobs.Classify(jobs.KindCancelled, ctx.Err())
			}
			p.crawlOne(ctx, in.AppID, country, sort, pages, in.ThrottleMs, acc)
			done++
			hb(30 + int(float64(done)/float64(total)*60.0))
		}
	}

	// Step 6: persist in batches of <=50, best-effort per row.
	reviews := make([]model.Review, 0, len(acc))
	for _, rv := range acc {
		reviews = append(reviews, rv)
	}
	succeeded, persistErr := p.repo.UpsertReviews(ctx, reviews, p.batchSize)
	if persistErr != nil {
		p.log.Warn("scrape.partial_persistence_failure", obs.String("app_id", in.AppID), obs.Int("succeeded", succeeded), obs.Int("attempted", len(reviews)), obs.Err(persistErr))
	}
	hb(95)

	result := Result{
		ReviewsScraped:     len(acc),
		CountriesProcessed: countries,
		SortMethodsUsed:    sorts,
		AppTitle:           appInfo.Title,
	}
	hb(100)

	return jobs.Result{
		Success:        true,
		Message:        fmt.Sprintf("scraped %d reviews for app %s", len(acc), in.AppID),
		Data:           result,
		ProcessingTime: time.Since(start).Milliseconds(),
		ItemsProcessed: len(acc),
	}, nil
}

// crawlOne runs the page loop for a single (sort, country) pair. Any
// error stops this pair only: a regional outage must not invalidate
// reviews collected from the other pairs.
func (p *Processor) crawlOne(ctx context.Context, appID, country string, sort catalog.SortMethod, pages, throttleMs int, acc map[string]model.Review) {
	country = strings.ToUpper(country)
	for page := 1; page <= pages; page++ {
		if ctx.Err() != nil {
			return
		}
		if p.breaker != nil && !p.breaker.Allow() {
			p.log.Warn("scrape.breaker_open", obs.String("app_id", appID), obs.String("country", country), obs.String("sort", string(sort)))
			return
		}
		raw, err := p.catalog.Reviews(ctx, appID, country, page, sort, throttleMs)
		ok := err == nil
		if p.breaker != nil {
			p.breaker.Record(ok)
		}
		if err != nil {
			if jobs.ClassifyOf(err) == jobs.KindRateLimited && p.limiter != nil {
				p.limiter.Feedback(true)
			}
			p.log.Warn("scrape.page_fetch_failed", obs.String("app_id", appID), obs.String("country", country), obs.String("sort", string(sort)), obs.Int("page", page), obs.Err(err))
			return
		}
		if len(raw) == 0 {
			// Empty page: end-of-stream for this (sort,country).
			return
		}
		for _, rr := range raw {
			acc[rr.ID] = normalize(appID, country, rr)
		}
	}
}

// normalize applies raw-review field defaults and coercions.
func normalize(appID, country string, rr catalog.RawReview) model.Review {
	author := rr.AuthorName
	if author == "" {
		author = "Anonymous"
	}
	helpful := rr.HelpfulVotes
	if helpful < 0 {
		helpful = 0
	}
	rv := model.Review{
		ID:                 rr.ID,
		AppID:              appID,
		Country:            strings.ToUpper(country),
		AuthorName:         author,
		Score:              clampScore(rr.Score),
		Title:              rr.Title,
		Text:               rr.Text,
		Version:            rr.Version,
		URL:                rr.URL,
		HelpfulVotes:       helpful,
		DeveloperReplyText: rr.DeveloperReplyText,
	}
	if t, ok := parseInstant(rr.SubmittedAt); ok {
		rv.SubmittedAt = t
	} else {
		rv.SubmittedAt = time.Now().UTC()
	}
	if t, ok := parseInstant(rr.DeveloperReplyAt); ok {
		rv.DeveloperReplyAt = &t
	}
	return rv
}

func clampScore(s int) int {
	if s < 1 {
		return 1
	}
	if s > 5 {
		return 5
	}
	return s
}

func parseInstant(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	layouts := []string{time.RFC3339, time.RFC1123Z, time.RFC1123, "2006-01-02T15:04:05-07:00"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
