package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// LLM providers
const (
	ProviderOpenAI = "openai"
	// ProviderKeywords classifies with keyword rules and drafts template
	// replies. No upstream is called.
	ProviderKeywords = "keywords"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Storage. An empty DatabaseURL selects the in-memory store; an empty
	// RedisURL disables streams, the shared cache and the realtime relay.
	DatabaseURL    string
	RedisURL       string
	MigrateOnStart bool

	// LLM
	LLMProvider       string
	LLMAPIKey         string
	LLMBaseURL        string
	LLMModel          string
	LLMMaxTokens      int
	LLMTemperature    float64
	ClassifierTimeout time.Duration
	ReplyTimeout      time.Duration

	// Dispatch
	DispatchMaxAttempts int
	DispatchBackoffBase time.Duration
	DispatchBackoffMax  time.Duration
	WorkerID            string
	WorkerCount         int
	WorkerQueueSize     int
	WorkerJobTimeout    time.Duration

	// Consumer (Redis Stream)
	ConsumerBatchSize       int
	ConsumerBlock           time.Duration
	ConsumerMaxRetries      int
	ConsumerPendingCheck    time.Duration
	ConsumerPendingIdleTime time.Duration
	StreamMaxLen            int64

	// Notification
	NotifyWebhookURLs []string
	SlackWebhookURL   string
	DiscordWebhookURL string
	NotifyMaxAttempts int
	NotifyTimeout     time.Duration
	NotifyRetryDelay  time.Duration
	NotifyConcurrency int
	DashboardURL      string
	ExcerptLength     int

	// Reply
	ReplyTopN         int
	ReplyContextLimit int
	KnowledgeSeedPath string
	KnowledgeCacheTTL time.Duration

	// Reconcile
	ReconcileSchedule string
	StaleClaimAfter   time.Duration
	ReconcileBatch    int

	// HTTP
	AllowedOrigins   []string
	IngestRateLimit  int
	IngestRateWindow time.Duration
	SSEHeartbeat     time.Duration
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		RedisURL:       getEnv("REDIS_URL", ""),
		MigrateOnStart: getEnvBool("DB_MIGRATE", true),

		LLMProvider:       strings.ToLower(getEnv("LLM_PROVIDER", "")),
		LLMAPIKey:         getEnv("OPENAI_API_KEY", ""),
		LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:      getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature:    getEnvFloat("LLM_TEMPERATURE", 0.2),
		ClassifierTimeout: getEnvDuration("CLASSIFIER_TIMEOUT_SEC", 30*time.Second),
		ReplyTimeout:      getEnvDuration("REPLY_TIMEOUT", 60*time.Second),

		DispatchMaxAttempts: getEnvInt("DISPATCH_MAX_ATTEMPTS", 3),
		DispatchBackoffBase: getEnvDuration("DISPATCH_BACKOFF_BASE", 2*time.Second),
		DispatchBackoffMax:  getEnvDuration("DISPATCH_BACKOFF_MAX", time.Minute),
		WorkerID:            getEnv("WORKER_ID", generateWorkerID()),
		WorkerCount:         getEnvInt("WORKER_COUNT", 8),
		WorkerQueueSize:     getEnvInt("WORKER_QUEUE_SIZE", 1000),
		WorkerJobTimeout:    getEnvDuration("WORKER_JOB_TIMEOUT", 2*time.Minute),

		ConsumerBatchSize:       getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlock:           getEnvDuration("CONSUMER_BLOCK", 5*time.Second),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheck:    getEnvDuration("CONSUMER_PENDING_CHECK", 30*time.Second),
		ConsumerPendingIdleTime: getEnvDuration("CONSUMER_PENDING_IDLE", 2*time.Minute),
		StreamMaxLen:            int64(getEnvInt("STREAM_MAX_LEN", 100000)),

		NotifyWebhookURLs: getEnvSlice("NOTIFY_WEBHOOK_URLS", nil),
		SlackWebhookURL:   getEnv("SLACK_WEBHOOK_URL", ""),
		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		NotifyMaxAttempts: getEnvInt("NOTIFY_MAX_ATTEMPTS", 2),
		NotifyTimeout:     getEnvDuration("NOTIFY_TIMEOUT", 5*time.Second),
		NotifyRetryDelay:  getEnvDuration("NOTIFY_RETRY_DELAY", 500*time.Millisecond),
		NotifyConcurrency: getEnvInt("NOTIFY_CONCURRENCY", 16),
		DashboardURL:      getEnv("DASHBOARD_URL", "http://localhost:3000"),
		ExcerptLength:     getEnvInt("EXCERPT_LENGTH", 280),

		ReplyTopN:         getEnvInt("REPLY_TOP_N", 5),
		ReplyContextLimit: getEnvInt("REPLY_CONTEXT_LIMIT", 500),
		KnowledgeSeedPath: getEnv("KNOWLEDGE_SEED_PATH", ""),
		KnowledgeCacheTTL: getEnvDuration("KNOWLEDGE_CACHE_TTL", 10*time.Minute),

		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "@every 1m"),
		StaleClaimAfter:   time.Duration(getEnvInt("STALE_CLAIM_SEC", 300)) * time.Second,
		ReconcileBatch:    getEnvInt("RECONCILE_BATCH", 500),

		AllowedOrigins:   getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		IngestRateLimit:  getEnvInt("INGEST_RATE_LIMIT", 120),
		IngestRateWindow: getEnvDuration("INGEST_RATE_WINDOW", time.Minute),
		SSEHeartbeat:     getEnvDuration("SSE_HEARTBEAT", 30*time.Second),
	}

	if cfg.LLMProvider == "" {
		cfg.LLMProvider = ProviderKeywords
		if cfg.LLMAPIKey != "" {
			cfg.LLMProvider = ProviderOpenAI
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.LLMAPIKey == "" {
			return fmt.Errorf("config: LLM_PROVIDER=openai requires OPENAI_API_KEY")
		}
	case ProviderKeywords:
	default:
		return fmt.Errorf("config: unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.DispatchMaxAttempts < 1 {
		return fmt.Errorf("config: DISPATCH_MAX_ATTEMPTS must be at least 1")
	}
	if c.WorkerCount < 1 || c.WorkerQueueSize < 1 {
		return fmt.Errorf("config: WORKER_COUNT and WORKER_QUEUE_SIZE must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvSlice splits on commas and drops empty items.
func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvDuration accepts Go durations ("30s") or a plain number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
