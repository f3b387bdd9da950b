package bootstrap

import (
	"context"
	"fmt"

	"inbox_worker/adapter/in/worker"
	"inbox_worker/adapter/out/messaging"
	"inbox_worker/adapter/out/notifier"
	"inbox_worker/adapter/out/persistence"
	"inbox_worker/adapter/out/realtime"
	"inbox_worker/config"
	"inbox_worker/core/agent/llm"
	"inbox_worker/core/agent/rag"
	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"
	"inbox_worker/core/service/classification"
	"inbox_worker/core/service/notification"
	"inbox_worker/core/service/reconcile"
	"inbox_worker/core/service/record"
	"inbox_worker/core/service/reply"
	"inbox_worker/infra/database"
	"inbox_worker/pkg/cache"
	"inbox_worker/pkg/logger"
	"inbox_worker/pkg/ratelimit"
	"inbox_worker/pkg/resilience"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Mode selects which side of the pipeline a process runs.
type Mode string

const (
	// ModeAll runs the API and the dispatch pool in one process.
	ModeAll Mode = "all"
	// ModeAPI ingests and serves queries; dispatch jobs go to the Redis stream.
	ModeAPI Mode = "api"
	// ModeWorker consumes the Redis stream and classifies.
	ModeWorker Mode = "worker"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAll, ModeAPI, ModeWorker:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (want api, worker or all)", s)
}

type Dependencies struct {
	Config *config.Config
	Mode   Mode
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client

	// Repositories
	Records        out.RecordRepository
	Replies        out.ReplyRepository
	Knowledge      out.KnowledgeRepository
	KnowledgeCache out.KnowledgeCache

	// Agent
	LLMClient      *llm.Client
	Classifier     out.Classifier
	ReplyGenerator out.ReplyGenerator
	Retriever      *rag.Retriever

	// Messaging. Queue is the pool in ModeAll and the stream producer otherwise.
	Queue    out.DelayedDispatchQueue
	Producer *messaging.RedisProducer
	Pool     *worker.Pool

	// Realtime
	RealtimeAdapter *realtime.SSEAdapter
	Relay           *realtime.RedisRelay
	Realtime        out.RealtimePort
	SSEHub          *realtime.SSEHub

	// Services
	Router        *notification.Router
	Dispatcher    *classification.Dispatcher
	RecordService *record.Service
	ReplyService  *reply.Service
	Sweeper       *reconcile.Sweeper

	Limiter ratelimit.Limiter
}

func NewDependencies(ctx context.Context, cfg *config.Config, mode Mode) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, Mode: mode}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if err := deps.initStorage(ctx, &cleanups); err != nil {
		cleanup()
		return nil, nil, err
	}
	if err := deps.initKnowledge(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.initAgent()
	deps.initRealtime()

	if err := deps.initDispatch(); err != nil {
		cleanup()
		return nil, nil, err
	}

	deps.RecordService = record.NewService(deps.Records, deps.Queue, logger.Zerolog("record_service"))
	deps.RecordService.SetRealtime(deps.Realtime)

	deps.ReplyService = reply.NewService(
		deps.Records,
		deps.Replies,
		deps.Retriever,
		deps.ReplyGenerator,
		reply.Config{
			TopN:            cfg.ReplyTopN,
			ContextLimit:    cfg.ReplyContextLimit,
			GenerateTimeout: cfg.ReplyTimeout,
		},
		logger.Zerolog("reply_service"),
	)
	deps.ReplyService.SetRealtime(deps.Realtime)

	if deps.Redis != nil {
		deps.Limiter = ratelimit.NewSlidingWindowLimiter(deps.Redis, cfg.IngestRateLimit, cfg.IngestRateWindow)
	} else {
		deps.Limiter = ratelimit.NewMemoryLimiter(cfg.IngestRateLimit, cfg.IngestRateWindow)
	}

	return deps, cleanup, nil
}

// initStorage connects Postgres and Redis when configured. Without a
// database URL the in-memory store is used, which only makes sense in
// ModeAll since api and worker processes would not share it.
func (d *Dependencies) initStorage(ctx context.Context, cleanups *[]func()) error {
	cfg := d.Config

	if cfg.RedisURL != "" {
		logger.Debug("Connecting to Redis...")
		client, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		d.Redis = client
		*cleanups = append(*cleanups, func() { client.Close() })
	} else if d.Mode != ModeAll {
		return fmt.Errorf("mode %s requires REDIS_URL", d.Mode)
	}

	if cfg.DatabaseURL == "" {
		if d.Mode != ModeAll {
			return fmt.Errorf("mode %s requires DATABASE_URL", d.Mode)
		}
		logger.Warn("DATABASE_URL not set, using in-memory store")
		d.Records = persistence.NewMemoryRecordAdapter()
		d.Replies = persistence.NewMemoryReplyAdapter()
		d.Knowledge = persistence.NewMemoryKnowledgeAdapter()
		return nil
	}

	logger.Debug("Connecting to database...")
	pgCfg := database.DefaultPostgresConfig()
	pool, err := database.NewPostgresWithConfig(ctx, cfg.DatabaseURL, pgCfg)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	d.DB = pool
	*cleanups = append(*cleanups, pool.Close)

	sqlDB, err := database.NewSQLX(ctx, cfg.DatabaseURL, pgCfg)
	if err != nil {
		return fmt.Errorf("postgres (sqlx): %w", err)
	}
	d.SQLDB = sqlDB
	*cleanups = append(*cleanups, func() { sqlDB.Close() })

	if cfg.MigrateOnStart {
		if err := persistence.Migrate(ctx, sqlDB); err != nil {
			return err
		}
	}

	d.Records = persistence.NewRecordAdapter(sqlDB)
	d.Replies = persistence.NewReplyAdapter(sqlDB)
	d.Knowledge = persistence.NewKnowledgeAdapter(sqlDB)
	return nil
}

// initKnowledge seeds an empty corpus and sets up the cached retriever.
func (d *Dependencies) initKnowledge(ctx context.Context) error {
	cfg := d.Config

	if d.Redis != nil {
		d.KnowledgeCache = persistence.NewRedisKnowledgeCache(cache.NewRedisCache(d.Redis))
	} else {
		d.KnowledgeCache = persistence.NewMemoryKnowledgeCache()
	}
	d.Retriever = rag.NewRetriever(d.Knowledge, d.KnowledgeCache, cfg.KnowledgeCacheTTL, logger.Zerolog("retriever"))

	existing, err := d.Knowledge.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	var entries []*domain.KnowledgeEntry
	if cfg.KnowledgeSeedPath != "" {
		entries, err = persistence.LoadKnowledgeFile(cfg.KnowledgeSeedPath)
	} else {
		entries, err = persistence.DefaultKnowledge()
	}
	if err != nil {
		return fmt.Errorf("knowledge seed: %w", err)
	}
	n, err := d.Knowledge.Upsert(ctx, entries)
	if err != nil {
		return err
	}
	logger.Info("Seeded knowledge corpus with %d entries", n)
	return d.Retriever.Invalidate(ctx)
}

func (d *Dependencies) initAgent() {
	cfg := d.Config

	if cfg.LLMProvider == config.ProviderKeywords {
		logger.Info("LLM provider: keyword rules (no upstream calls)")
		d.Classifier = classification.NewKeywordClassifier()
		d.ReplyGenerator = reply.TemplateGenerator{}
		return
	}

	d.LLMClient = llm.NewClientWithConfig(llm.ClientConfig{
		APIKey:      cfg.LLMAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Logger:      logger.Zerolog("llm"),
	})
	d.Classifier = llm.NewClassifier(d.LLMClient, cfg.ClassifierTimeout)
	d.ReplyGenerator = llm.NewReplyWriter(d.LLMClient)
	logger.Info("LLM provider: %s (model %s)", cfg.LLMProvider, cfg.LLMModel)
}

func (d *Dependencies) initRealtime() {
	d.RealtimeAdapter = realtime.NewSSEAdapter(logger.Zerolog("sse_adapter"))
	d.SSEHub = realtime.NewSSEHub(d.RealtimeAdapter, d.Config.SSEHeartbeat)
	d.Realtime = d.RealtimeAdapter

	// events cross processes through Redis so the API sees worker updates
	if d.Redis != nil {
		d.Relay = realtime.NewRedisRelay(d.Redis, d.RealtimeAdapter, logger.Zerolog("realtime_relay"))
		d.Realtime = d.Relay
	}
}

func (d *Dependencies) initDispatch() error {
	cfg := d.Config

	if d.Redis != nil {
		d.Producer = messaging.NewRedisProducer(d.Redis, cfg.StreamMaxLen, logger.Zerolog("stream_producer"))
	}

	if d.Mode != ModeAPI {
		d.Router = notification.NewRouter(
			NotificationChannels(cfg),
			notification.Config{
				MaxAttempts:    cfg.NotifyMaxAttempts,
				AttemptTimeout: cfg.NotifyTimeout,
				RetryDelay:     cfg.NotifyRetryDelay,
				Concurrency:    cfg.NotifyConcurrency,
				DashboardURL:   cfg.DashboardURL,
			},
			logger.Zerolog("notification_router"),
		)

		d.Dispatcher = classification.NewDispatcher(
			d.Records,
			d.Classifier,
			d.Router,
			classification.Config{
				MaxAttempts: cfg.DispatchMaxAttempts,
				Backoff: resilience.Backoff{
					Base:   cfg.DispatchBackoffBase,
					Max:    cfg.DispatchBackoffMax,
					Jitter: 0.1,
				},
				ExcerptLength: cfg.ExcerptLength,
			},
			logger.Zerolog("dispatcher"),
		)
		d.Dispatcher.SetRealtime(d.Realtime)

		poolCfg := worker.DefaultPoolConfig()
		poolCfg.Workers = cfg.WorkerCount
		poolCfg.QueueSize = cfg.WorkerQueueSize
		poolCfg.JobTimeout = cfg.WorkerJobTimeout
		d.Pool = worker.NewPool(d.Dispatcher, poolCfg, logger.Zerolog("worker_pool"))
	}

	switch d.Mode {
	case ModeAll:
		d.Queue = d.Pool
	default:
		d.Queue = d.Producer
	}
	if d.Dispatcher != nil {
		d.Dispatcher.SetRetryQueue(d.Queue)
	}

	sweeper, err := reconcile.NewSweeper(d.Records, d.Queue, reconcile.Config{
		Schedule:   cfg.ReconcileSchedule,
		StaleAfter: cfg.StaleClaimAfter,
		BatchSize:  cfg.ReconcileBatch,
		// covers the capped backoff plus its jitter
		RetryGrace: cfg.DispatchBackoffMax + cfg.DispatchBackoffMax/5,
	}, logger.Zerolog("reconcile"))
	if err != nil {
		return err
	}
	d.Sweeper = sweeper
	return nil
}

// NotificationChannels builds the outbound channels from configuration.
// Invalid endpoints are logged and skipped.
func NotificationChannels(cfg *config.Config) []out.NotificationChannel {
	var channels []out.NotificationChannel

	for _, u := range cfg.NotifyWebhookURLs {
		ch, err := notifier.NewWebhookChannel(u, nil)
		if err != nil {
			logger.WithError(err).Warn("Skipping webhook channel")
			continue
		}
		channels = append(channels, ch)
	}

	if cfg.SlackWebhookURL != "" {
		ch, err := notifier.NewSlackChannel(cfg.SlackWebhookURL, nil)
		if err != nil {
			logger.WithError(err).Warn("Skipping Slack channel")
		} else {
			channels = append(channels, ch)
		}
	}

	if cfg.DiscordWebhookURL != "" {
		ch, err := notifier.NewDiscordChannel(cfg.DiscordWebhookURL)
		if err != nil {
			logger.WithError(err).Warn("Skipping Discord channel")
		} else {
			channels = append(channels, ch)
		}
	}

	if len(channels) == 0 {
		logger.Warn("No notification channels configured, alerts will only be logged")
	}
	return channels
}

