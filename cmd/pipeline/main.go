// Command pipeline is the review-harvest pipeline's single binary: a
// -role flag selects which facet runs (worker, create-jobs,
// process-unlabeled, admin), with shared config/logging/metrics
// wiring.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/reviewharvest/pipeline/internal/admin"
	"github.com/reviewharvest/pipeline/internal/breaker"
	"github.com/reviewharvest/pipeline/internal/broker"
	"github.com/reviewharvest/pipeline/internal/catalog"
	"github.com/reviewharvest/pipeline/internal/catalog/httpclient"
	catalogstub "github.com/reviewharvest/pipeline/internal/catalog/stub"
	"github.com/reviewharvest/pipeline/internal/config"
	"github.com/reviewharvest/pipeline/internal/dlq"
	"github.com/reviewharvest/pipeline/internal/jobs"
	"github.com/reviewharvest/pipeline/internal/label"
	anthropicllm "github.com/reviewharvest/pipeline/internal/llm/anthropic"
	"github.com/reviewharvest/pipeline/internal/noop"
	"github.com/reviewharvest/pipeline/internal/obs"
	"github.com/reviewharvest/pipeline/internal/queue"
	"github.com/reviewharvest/pipeline/internal/ratelimit"
	"github.com/reviewharvest/pipeline/internal/redisclient"
	"github.com/reviewharvest/pipeline/internal/repo/postgres"
	"github.com/reviewharvest/pipeline/internal/scrape"
	"github.com/reviewharvest/pipeline/internal/supervisor"
	"github.com/reviewharvest/pipeline/internal/worker"
)

const serviceName = "reviewharvest-pipeline"

var version = "dev"

// allKinds lists every job kind the broker/queue/DLQ layer services,
// including the stub kinds driven by noop.Processor.
var allKinds = []jobs.JobKind{
	jobs.KindScrape, jobs.KindLabel,
	jobs.KindProcessResults, jobs.KindCleanup, jobs.KindExport,
}

func main() {
	role := flag.String("role", "worker", "worker | create-jobs | process-unlabeled | admin")
	configPath := flag.String("config", "config.yaml", "path to YAML config")

	appID := flag.String("app-id", "", "create-jobs: app id to scrape")
	countriesFlag := flag.String("countries", "US", "create-jobs: comma-separated country codes")
	sortMethodsFlag := flag.String("sort-methods", "recent,helpful", "create-jobs: comma-separated sort methods")
	pages := flag.Int("pages", 5, "create-jobs: pages per (sort,country)")

	unlabeledLimit := flag.Int("limit", 200, "process-unlabeled: max reviews to pull")
	unlabeledBatch := flag.Int("batch-size", 20, "process-unlabeled: LLM batch size")

	adminCmd := flag.String("admin-cmd", "stats", "admin: stats | peek | pause | resume | clean | replay | replay-by-reason | sweep")
	adminKind := flag.String("kind", "", "admin: SCRAPE | LABEL")
	adminDLQID := flag.String("dlq-id", "", "admin: dead-letter record id for replay")
	adminReason := flag.String("reason", "", "admin: failure-reason substring for replay-by-reason")
	adminOlderHours := flag.Int("older-than-hours", 0, "admin: age threshold for clean/sweep")
	adminMaxJobs := flag.Int("max-jobs", 50, "admin: cap for replay-by-reason")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := obs.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, serviceName, version, cfg.Observability.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	defer func() {
		if r := recover(); r != nil {
			log.Error("main.panic_recovered", obs.String("recover", fmt.Sprint(r)))
			supervisor.EmergencyShutdown(log)
		}
	}()

	ctx := context.Background()
	rdb := redisclient.New(cfg.Redis)

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		log.Fatal("main.postgres_pool_failed", obs.Err(err))
	}
	defer pool.Close()

	if err := migrateDB(cfg.Database.URL); err != nil {
		log.Fatal("main.migrate_failed", obs.Err(err))
	}
	repo := postgres.New(pool)

	queues := make(map[jobs.JobKind]*queue.Queue, len(allKinds))
	dlqs := make(map[jobs.JobKind]*dlq.Manager, len(allKinds))
	for _, kind := range allKinds {
		b := broker.New(rdb, string(kind))
		q := queue.New(b, kind, cfg.Worker.Backoff.Base, cfg.Worker.Backoff.Max, cfg.Worker.CompletedRetain, cfg.Worker.FailedRetain)
		queues[kind] = q
		dlqs[kind] = dlq.New(b, q, kind)
	}

	switch *role {
	case "worker":
		runWorker(ctx, cfg, log, rdb, pool, repo, queues, dlqs)
	case "create-jobs":
		runCreateJobs(ctx, log, queues[jobs.KindScrape], *appID, *countriesFlag, *sortMethodsFlag, *pages)
	case "process-unlabeled":
		runProcessUnlabeled(ctx, cfg, log, repo, *unlabeledLimit, *unlabeledBatch)
	case "admin":
		runAdmin(ctx, log, admin.New(queues, dlqs), adminArgs{
			cmd: *adminCmd, kind: *adminKind, dlqID: *adminDLQID, reason: *adminReason,
			olderHours: *adminOlderHours, maxJobs: *adminMaxJobs,
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown -role=%s\n", *role)
		os.Exit(2)
	}
}

func migrateDB(url string) error {
	db, err := postgres.OpenSQLDB(url)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return postgres.Migrate(db)
}

// runWorker wires the full worker process: SCRAPE and LABEL runtimes
// driven by real processors, PROCESS_RESULTS/CLEANUP/EXPORT runtimes
// driven by noop.Processor, the stall reaper, the health/metrics HTTP
// surface, and the lifecycle supervisor.
func runWorker(
	ctx context.Context,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	pool *pgxpool.Pool,
	repo *postgres.Repository,
	queues map[jobs.JobKind]*queue.Queue,
	dlqs map[jobs.JobKind]*dlq.Manager,
) {
	if cfg.LLM.APIKey == "" {
		fmt.Fprintln(os.Stderr, "worker: llm.api_key (LLM_API_KEY) is required for LABEL workers")
		os.Exit(1)
	}
	catalogClient := newCatalogClient(cfg)
	llmClient := anthropicllm.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Temperature, cfg.LLM.Timeout)

	scrapeBreaker := breaker.New("catalog", cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)
	labelBreaker := breaker.New("llm", cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)

	scrapeRL := cfg.Worker.RateLimits["SCRAPE"]
	labelRL := cfg.Worker.RateLimits["LABEL"]
	scrapeLimiter := ratelimit.New("catalog", scrapeRL.Max, scrapeRL.Window)
	labelLimiter := ratelimit.New("llm", labelRL.Max, labelRL.Window)

	scrapeProcessor := scrape.New(catalogClient, repo, scrapeBreaker, scrapeLimiter, log)
	labelProcessor := label.New(llmClient, repo, labelBreaker, labelLimiter, log)

	runtimeCfg := func(kind jobs.JobKind) worker.Config {
		return worker.Config{
			Concurrency:       cfg.Worker.Concurrency[string(kind)],
			HeartbeatInterval: cfg.Worker.HeartbeatInterval,
			VisibilityTimeout: cfg.Worker.VisibilityTimeout,
		}
	}

	runtimes := map[jobs.JobKind]*worker.Runtime{
		jobs.KindScrape: worker.New(queues[jobs.KindScrape], dlqs[jobs.KindScrape], scrapeProcessor, scrapeLimiter, scrapeBreaker, log, runtimeCfg(jobs.KindScrape)),
		jobs.KindLabel:  worker.New(queues[jobs.KindLabel], dlqs[jobs.KindLabel], labelProcessor, labelLimiter, labelBreaker, log, runtimeCfg(jobs.KindLabel)),
	}
	for _, kind := range []jobs.JobKind{jobs.KindProcessResults, jobs.KindCleanup, jobs.KindExport} {
		noLimiter := ratelimit.New(string(kind), 1000, time.Minute)
		noBreaker := breaker.New(string(kind), cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, 1.0, 1)
		runtimes[kind] = worker.New(queues[kind], dlqs[kind], noop.New(kind), noLimiter, noBreaker, log, worker.Config{
			Concurrency:       1,
			HeartbeatInterval: cfg.Worker.HeartbeatInterval,
			VisibilityTimeout: cfg.Worker.VisibilityTimeout,
		})
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	var workersWG sync.WaitGroup
	for kind, rt := range runtimes {
		kind, rt := kind, rt
		workersWG.Add(1)
		go func() {
			defer workersWG.Done()
			if err := rt.Run(runCtx); err != nil {
				log.Error("main.runtime_stopped", obs.String("kind", string(kind)), obs.Err(err))
			}
		}()
	}

	queuesForReaper := make(map[string]*queue.Queue, len(queues))
	dlqsForReaper := make(map[string]*dlq.Manager, len(dlqs))
	for kind, q := range queues {
		queuesForReaper[string(kind)] = q
		dlqsForReaper[string(kind)] = dlqs[kind]
	}
	reaper := worker.NewReaper(queuesForReaper, dlqsForReaper, log, cfg.Supervisor.StallSweepInterval)
	go reaper.Run(runCtx)

	sweeps := map[string]supervisor.SweepFunc{}
	for kind, m := range dlqs {
		m := m
		sweeps[string(kind)] = func(ctx context.Context) (int, error) { return m.Sweep(ctx, 30*24*time.Hour) }
	}
	dlqScheduler, err := supervisor.NewDLQScheduler(cfg.Supervisor.DLQSweepCron, log, sweeps)
	if err != nil {
		log.Fatal("main.dlq_scheduler_failed", obs.Err(err))
	}
	dlqScheduler.Start()

	monitor := obs.NewMonitor()
	monitor.Register("redis", true, 3*time.Second, func(ctx context.Context) obs.DependencyHealth {
		start := time.Now()
		if err := redisclient.Ping(ctx, rdb, 3*time.Second); err != nil {
			return obs.DependencyHealth{Status: obs.StatusUnhealthy, Error: err.Error(), ResponseTime: time.Since(start)}
		}
		return obs.DependencyHealth{Status: obs.StatusHealthy, ResponseTime: time.Since(start)}
	})
	monitor.Register("postgres", true, 3*time.Second, func(ctx context.Context) obs.DependencyHealth {
		start := time.Now()
		if err := postgres.Ping(ctx, pool, 3*time.Second); err != nil {
			return obs.DependencyHealth{Status: obs.StatusUnhealthy, Error: err.Error(), ResponseTime: time.Since(start)}
		}
		return obs.DependencyHealth{Status: obs.StatusHealthy, ResponseTime: time.Since(start)}
	})
	monitor.Register("catalog_breaker", false, time.Second, func(ctx context.Context) obs.DependencyHealth {
		if scrapeBreaker.Allow() {
			return obs.DependencyHealth{Status: obs.StatusHealthy}
		}
		return obs.DependencyHealth{Status: obs.StatusDegraded, Error: "circuit open"}
	})
	monitor.Register("llm_breaker", false, time.Second, func(ctx context.Context) obs.DependencyHealth {
		if labelBreaker.Allow() {
			return obs.DependencyHealth{Status: obs.StatusHealthy}
		}
		return obs.DependencyHealth{Status: obs.StatusDegraded, Error: "circuit open"}
	})

	collectors := make(map[string]obs.CollectFunc, len(queues))
	for kind, q := range queues {
		q := q
		m := dlqs[kind]
		collectors[string(kind)] = func(ctx context.Context) (obs.QueueStatsSource, error) {
			st, err := q.Stats(ctx)
			if err != nil {
				return obs.QueueStatsSource{}, err
			}
			dl, err := m.Stats(ctx)
			if err != nil {
				return obs.QueueStatsSource{}, err
			}
			return obs.QueueStatsSource{
				Waiting: st.Waiting, Active: st.Active, Completed: st.Completed,
				Failed: st.Failed, Delayed: st.Delayed, DeadLetter: dl,
			}, nil
		}
	}
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				obs.BuildSnapshot(runCtx, cfg.Redis.Addr, collectors)
			}
		}
	}()

	httpSrv := obs.StartHTTPServer(cfg.Observability.HTTPPort, serviceName, "worker", monitor)

	sup := supervisor.New(log, cfg.Supervisor.ShutdownTimeout)
	sup.Register("stop_dlq_scheduler", supervisor.PriorityHealthMonitor, func(ctx context.Context) error {
		dlqScheduler.Stop()
		return nil
	})
	sup.Register("stop_reservations", supervisor.PriorityStopReserving, func(ctx context.Context) error {
		for _, rt := range runtimes {
			rt.StopReserving()
		}
		return nil
	})
	sup.Register("drain_workers", supervisor.PriorityDrainWorkers, func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			workersWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			// Grace exhausted: cancel in-flight jobs cooperatively and
			// give their release path a moment; anything still running
			// falls back to the broker's stalled-reservation rule.
			cancelRun()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				return fmt.Errorf("drain: workers still running: %w", ctx.Err())
			}
		}
		cancelRun()
		return nil
	})
	sup.Register("close_http", supervisor.PriorityCloseHTTP, func(ctx context.Context) error {
		return httpSrv.Shutdown(ctx)
	})
	sup.Register("close_broker", supervisor.PriorityCloseBroker, func(ctx context.Context) error {
		return rdb.Close()
	})
	sup.Register("close_db", supervisor.PriorityCloseDB, func(ctx context.Context) error {
		pool.Close()
		return nil
	})
	sup.Register("flush_logs", supervisor.PriorityFlushLogs, func(ctx context.Context) error {
		return log.Sync()
	})

	log.Info("main.worker_started", obs.Int("http_port", cfg.Observability.HTTPPort))
	sup.Run(ctx)
}

// runCreateJobs enqueues one SCRAPE job spanning the full requested
// country/sort-method set, letting the processor fan out the cartesian
// product itself.
func runCreateJobs(ctx context.Context, log *zap.Logger, q *queue.Queue, appID, countriesCSV, sortMethodsCSV string, pages int) {
	if appID == "" {
		fmt.Fprintln(os.Stderr, "create-jobs: -app-id is required")
		os.Exit(2)
	}
	countries := splitCSV(countriesCSV)
	sorts := splitCSV(sortMethodsCSV)

	payload := jobs.ScrapePayload{
		AppID:       appID,
		Countries:   countries,
		Pages:       pages,
		SortMethods: sorts,
		ThrottleMs:  500,
		Priority:    5,
		MaxAttempts: jobs.MaxAttemptsForKind(jobs.KindScrape),
	}
	payload.Defaults()
	if err := validateScrapePayload(&payload); err != nil {
		log.Fatal("create_jobs.invalid_payload", obs.Err(err))
	}

	id, err := q.Enqueue(ctx, payload, queue.EnqueueOptions{
		Priority:    payload.Priority,
		MaxAttempts: payload.MaxAttempts,
		Delay:       time.Duration(payload.DelayMs) * time.Millisecond,
	})
	if err != nil {
		log.Fatal("create_jobs.enqueue_failed", obs.Err(err))
	}
	log.Info("create_jobs.enqueued", obs.String("jobId", id), obs.String("appId", appID))
}

// runProcessUnlabeled is a one-shot catch-up pass over reviews with no
// label row, run in-process rather than through the queue so an
// operator can trigger it ad hoc.
func runProcessUnlabeled(ctx context.Context, cfg *config.Config, log *zap.Logger, repo *postgres.Repository, limit, batchSize int) {
	llmClient := anthropicllm.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Temperature, cfg.LLM.Timeout)
	cb := breaker.New("llm", cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)
	rl := cfg.Worker.RateLimits["LABEL"]
	limiter := ratelimit.New("llm", rl.Max, rl.Window)
	processor := label.New(llmClient, repo, cb, limiter, log)

	result, err := processor.ProcessUnlabeled(ctx, limit, batchSize, cfg.LLM.Model)
	if err != nil {
		log.Fatal("process_unlabeled.failed", obs.Err(err))
	}
	body, _ := json.Marshal(result)
	fmt.Println(string(body))
}

type adminArgs struct {
	cmd        string
	kind       string
	dlqID      string
	reason     string
	olderHours int
	maxJobs    int
}

func runAdmin(ctx context.Context, log *zap.Logger, surface *admin.Surface, a adminArgs) {
	var kind jobs.JobKind
	if a.kind != "" {
		kind = jobs.JobKind(strings.ToUpper(a.kind))
	}

	switch a.cmd {
	case "stats":
		result, err := surface.Stats(ctx)
		must(log, err)
		printJSON(result)
	case "peek":
		recs, err := surface.DeadLetters(ctx, kind, 50)
		must(log, err)
		printJSON(recs)
	case "pause":
		must(log, surface.Pause(ctx, kind))
		log.Info("admin.paused", obs.String("kind", string(kind)))
	case "resume":
		must(log, surface.Resume(ctx, kind))
		log.Info("admin.resumed", obs.String("kind", string(kind)))
	case "clean":
		n, err := surface.Clean(ctx, kind, "failed", a.olderHours)
		must(log, err)
		log.Info("admin.cleaned", obs.String("kind", string(kind)), obs.Int("removed", n))
	case "replay":
		jobID, err := surface.Replay(ctx, kind, a.dlqID)
		must(log, err)
		log.Info("admin.replayed", obs.String("kind", string(kind)), obs.String("jobId", jobID))
	case "replay-by-reason":
		ids, err := surface.ReplayByReason(ctx, kind, a.reason, a.maxJobs)
		must(log, err)
		printJSON(ids)
	case "sweep":
		olderThan := 30 * 24 * time.Hour
		if a.olderHours > 0 {
			olderThan = time.Duration(a.olderHours) * time.Hour
		}
		n, err := surface.Sweep(ctx, kind, olderThan)
		must(log, err)
		log.Info("admin.swept", obs.String("kind", string(kind)), obs.Int("removed", n))
	default:
		fmt.Fprintf(os.Stderr, "unknown -admin-cmd=%s\n", a.cmd)
		os.Exit(2)
	}
}

func newCatalogClient(cfg *config.Config) catalog.Client {
	if cfg.Catalog.BaseURL == "" || cfg.Catalog.BaseURL == "stub" {
		return catalogstub.New()
	}
	return httpclient.New(cfg.Catalog.BaseURL, cfg.Catalog.Timeout)
}

func validateScrapePayload(p *jobs.ScrapePayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = jobs.DecodeAndValidate(jobs.KindScrape, raw)
	return err
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(v any) {
	body, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(body))
}

func must(log *zap.Logger, err error) {
	if err != nil {
		log.Fatal("admin.command_failed", obs.Err(err))
	}
}
