// Package app wires every component into a running service: the metadata
// store, job queue, frontier, robots cache, rate limiter, fetch pipeline,
// document sink, worker pool, progress hub, and admin API server.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/crawlmesh/crawlmesh/internal/api"
	"github.com/crawlmesh/crawlmesh/internal/config"
	"github.com/crawlmesh/crawlmesh/internal/fetcher"
	collyfetcher "github.com/crawlmesh/crawlmesh/internal/fetcher/colly"
	headlessfetcher "github.com/crawlmesh/crawlmesh/internal/fetcher/headless"
	"github.com/crawlmesh/crawlmesh/internal/frontier"
	"github.com/crawlmesh/crawlmesh/internal/index"
	"github.com/crawlmesh/crawlmesh/internal/jobqueue"
	"github.com/crawlmesh/crawlmesh/internal/logging"
	"github.com/crawlmesh/crawlmesh/internal/metrics"
	"github.com/crawlmesh/crawlmesh/internal/progress"
	"github.com/crawlmesh/crawlmesh/internal/progress/sinks"
	"github.com/crawlmesh/crawlmesh/internal/ratelimit"
	"github.com/crawlmesh/crawlmesh/internal/robots"
	"github.com/crawlmesh/crawlmesh/internal/store"
	"github.com/crawlmesh/crawlmesh/internal/worker"
)

// App is the fully wired service: every collaborator live for the
// lifetime of the process, built once in New and torn down once in Close.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Store    store.Store
	Frontier frontier.Frontier
	Queue    jobqueue.Queue
	Sink     index.Sink
	Pool     *worker.Pool
	API      *api.Server
	Hub      *progress.Hub

	headless     func()
	closeLimiter func()
}

// New builds an App from cfg. Callers must call Close when done.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metaStore, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	sink, err := buildSink(cfg, logger)
	if err != nil {
		metaStore.Close()
		return nil, fmt.Errorf("init sink: %w", err)
	}

	limiterStore, closeLimiterStore, err := buildRateLimitStore(cfg)
	if err != nil {
		metaStore.Close()
		return nil, fmt.Errorf("init rate limiter: %w", err)
	}

	fr := frontier.New(metaStore, nil)
	limiter := ratelimit.New(limiterStore, nil, nil)
	robotsCache := robots.New(robots.Config{
		UserAgent: cfg.Crawl.UserAgent,
		Respect:   cfg.Crawl.RespectRobotsTxt,
		Timeout:   cfg.Crawl.RequestTimeout(),
	}, metaStore, logger.Named("robots"))

	plainFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Crawl.UserAgent,
		Timeout:      cfg.Crawl.RequestTimeout(),
		MaxBodySize:  cfg.Crawl.MaxPageSize,
		AllowedMIMEs: cfg.Crawl.AllowedContentTypes,
	})

	var headlessFetcher fetcher.Fetcher = headlessfetcher.NewNoop()
	var headlessCloser func()
	if cfg.Crawl.HeadlessEnabled {
		chromeFetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Crawl.MaxConcurrent,
			UserAgent:         cfg.Crawl.UserAgent,
			NavigationTimeout: cfg.Crawl.RequestTimeout(),
		})
		if err != nil {
			logger.Warn("headless fetcher init failed, falling back to HTTP-only", zap.Error(err))
		} else {
			headlessFetcher = chromeFetcher
			headlessCloser = chromeFetcher.Close
		}
	}
	dualFetcher := fetcher.NewDual(plainFetcher, headlessFetcher)

	queue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		closeLimiterStore()
		metaStore.Close()
		return nil, fmt.Errorf("init queue: %w", err)
	}

	metrics.Init()

	progressRepo := buildProgressRepo(cfg, metaStore)
	hub := buildHub(cfg, logger, progressRepo)

	pool := worker.New(
		worker.Config{
			MaxConcurrent:       cfg.Crawl.MaxConcurrent,
			RecencyWindow:       cfg.Crawl.RecencyWindow,
			RescheduleDelay:     cfg.Crawl.RescheduleDelay,
			RescheduleInterval:  cfg.Crawl.RescheduleInterval,
			UserAgent:           cfg.Crawl.UserAgent,
			FetchTimeout:        cfg.Crawl.RequestTimeout(),
			DefaultRequestDelay: cfg.Crawl.DelayBetweenRequests(),
			StaleLeaseDuration:  cfg.Crawl.StaleLeaseDuration,
		},
		fr,
		queue,
		robotsCache,
		limiter,
		dualFetcher,
		sink,
		metaStore,
		logger.Named("worker"),
		hub,
	)

	var progressHandler *api.ProgressHandler
	if progressRepo != nil {
		progressHandler = api.NewProgressHandler(progressRepo, logger.Named("api"))
	}
	apiServer := api.NewServer(metaStore, fr, sink, cfg, logger.Named("api"), progressHandler)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        metaStore,
		Frontier:     fr,
		Queue:        queue,
		Sink:         sink,
		Pool:         pool,
		API:          apiServer,
		Hub:          hub,
		headless:     headlessCloser,
		closeLimiter: closeLimiterStore,
	}, nil
}

// Close releases every resource the App owns. Safe to call once.
func (a *App) Close() {
	if a.headless != nil {
		a.headless()
	}
	if a.closeLimiter != nil {
		a.closeLimiter()
	}
	if a.Hub != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.Hub.Close(shutdownCtx); err != nil {
			a.Logger.Warn("progress hub close failed", zap.Error(err))
		}
		cancel()
	}
	if closer, ok := a.Sink.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.Logger.Warn("sink close failed", zap.Error(err))
		}
	}
	if err := a.Queue.Close(); err != nil {
		a.Logger.Warn("queue close failed", zap.Error(err))
	}
	a.Store.Close()
	_ = a.Logger.Sync()
}

func buildStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		pg, err := store.NewPostgres(ctx, store.PostgresConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxOpenConns,
			MinConns: cfg.DB.MinOpenConns,
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return pg, nil
	default:
		return store.NewMemory(), nil
	}
}

func buildSink(cfg config.Config, logger *zap.Logger) (index.Sink, error) {
	switch cfg.Index.Backend {
	case "elasticsearch":
		es, err := index.NewElasticsearch(index.ElasticsearchConfig{
			Addresses: cfg.Index.Addresses,
			Username:  cfg.Index.Username,
			Password:  cfg.Index.Password,
			IndexName: cfg.Index.IndexName,
		}, logger.Named("index"))
		if err != nil {
			return nil, fmt.Errorf("connect elasticsearch: %w", err)
		}
		return es, nil
	default:
		return index.NewMemory(), nil
	}
}

func buildRateLimitStore(cfg config.Config) (ratelimit.Store, func(), error) {
	if cfg.RateLimit.Backend != "redis" {
		return ratelimit.NewMemoryStore(), func() {}, nil
	}
	redisStore, err := ratelimit.NewRedisStore(ratelimit.RedisConfig{
		Address:  cfg.RateLimit.Address,
		Password: cfg.RateLimit.Password,
		DB:       cfg.RateLimit.DB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return redisStore, func() { _ = redisStore.Close() }, nil
}

func buildQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (jobqueue.Queue, error) {
	if cfg.PubSub.Enabled {
		q, err := jobqueue.NewPubSub(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicID, logger.Named("jobqueue"))
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		return q, nil
	}
	return jobqueue.NewMemory(worker.NewRetryPolicy()), nil
}

func buildProgressRepo(cfg config.Config, metaStore store.Store) store.ProgressRepository {
	if pg, ok := metaStore.(*store.Postgres); ok {
		return store.NewPostgresProgress(pg.Pool())
	}
	return store.NewMemoryProgress()
}

func buildHub(cfg config.Config, logger *zap.Logger, repo store.ProgressRepository) *progress.Hub {
	sinkList := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}
	if promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer); err != nil {
		logger.Warn("prometheus progress sink init failed", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}
	if repo != nil {
		sinkList = append(sinkList, sinks.NewStoreSink(repo, logger.Named("progress")))
	}
	return progress.NewHub(progress.Config{Logger: logger.Named("progress")}, sinkList...)
}
