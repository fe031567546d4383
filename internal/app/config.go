package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/docretrieval-backend/internal/data/db"
	jobdomain "github.com/yungbote/docretrieval-backend/internal/domain/jobs"
	"github.com/yungbote/docretrieval-backend/internal/jobs/worker"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/chunker"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/extractor"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/ingestion"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/ranker"
	"github.com/yungbote/docretrieval-backend/internal/platform/envutil"
	"github.com/yungbote/docretrieval-backend/internal/temporalx"
)

type EmbeddingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Provider    string  `yaml:"provider"`
	Concurrency int     `yaml:"concurrency"`
	RateLimit   float64 `yaml:"rate_limit_rps"`
	Burst       int     `yaml:"burst"`
}

type JobsConfig struct {
	DispatchMode string        `yaml:"dispatch_mode"`
	Attempts     int           `yaml:"attempts"`
	BackoffKind  string        `yaml:"backoff_kind"`
	BackoffDelay time.Duration `yaml:"backoff_delay"`
}

type Config struct {
	Env            string   `yaml:"env"`
	ServiceName    string   `yaml:"service_name"`
	Version        string   `yaml:"-"`
	HTTPAddr       string   `yaml:"http_addr"`
	MetricsAddr    string   `yaml:"metrics_addr"`
	CORSOrigins    []string `yaml:"cors_origins"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	AutoMigrate    bool     `yaml:"auto_migrate"`
	RedisPrefix    string   `yaml:"redis_prefix"`
	VisionOCR      bool     `yaml:"vision_ocr"`

	Chunker   chunker.Config   `yaml:"chunker"`
	Ranker    ranker.Config    `yaml:"ranker"`
	Ingestion ingestion.Config `yaml:"ingestion"`
	Extractor extractor.Config `yaml:"extractor"`
	Embedding EmbeddingConfig  `yaml:"embedding"`
	Jobs      JobsConfig       `yaml:"jobs"`
	Worker    worker.Config    `yaml:"worker"`

	// Connection settings come from the environment only.
	Postgres db.PostgresConfig `yaml:"-"`
	Temporal temporalx.Config  `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Env:            "development",
		ServiceName:    "docretrieval",
		HTTPAddr:       ":8080",
		MaxUploadBytes: 64 << 20,
		AutoMigrate:    true,
		RedisPrefix:    "docretrieval",
		Chunker:        chunker.DefaultConfig(),
		Ranker:         ranker.DefaultConfig(),
		Ingestion:      ingestion.DefaultConfig(),
		Extractor:      extractor.Config{MaxBytes: 64 << 20, HTTPTimeout: 30 * time.Second},
		Embedding: EmbeddingConfig{
			Provider:    "openai",
			Concurrency: 4,
		},
		Jobs: JobsConfig{
			DispatchMode: "worker",
			Attempts:     3,
			BackoffKind:  jobdomain.BackoffExponential,
			BackoffDelay: 5 * time.Second,
		},
		Worker: worker.DefaultConfig(),
	}
}

// LoadConfig layers the optional YAML file named by RETRIEVAL_CONFIG_FILE over
// the defaults, then the environment over both.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if path := strings.TrimSpace(os.Getenv("RETRIEVAL_CONFIG_FILE")); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file %s: %w", path, err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envutil.String("APP_ENV", cfg.Env)
	cfg.ServiceName = envutil.String("OTEL_SERVICE_NAME", cfg.ServiceName)
	cfg.Version = envutil.String("APP_VERSION", cfg.Version)
	cfg.HTTPAddr = envutil.String("HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = envutil.String("METRICS_ADDR", cfg.MetricsAddr)
	if origins := envutil.List("CORS_ALLOWED_ORIGINS"); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
	cfg.MaxUploadBytes = int64(envutil.Int("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
	cfg.AutoMigrate = envutil.Bool("DB_AUTOMIGRATE", cfg.AutoMigrate)
	cfg.RedisPrefix = envutil.String("REDIS_PREFIX", cfg.RedisPrefix)
	cfg.VisionOCR = envutil.Bool("VISION_OCR_ENABLED", cfg.VisionOCR)

	cfg.Chunker.ChunkSize = envutil.Int("CHUNK_SIZE", cfg.Chunker.ChunkSize)
	cfg.Chunker.Overlap = envutil.Int("CHUNK_OVERLAP", cfg.Chunker.Overlap)
	cfg.Chunker.SoftBoundary = envutil.Int("CHUNK_SOFT_BOUNDARY", cfg.Chunker.SoftBoundary)
	cfg.Ranker.TopK = envutil.Int("RANK_TOP_K", cfg.Ranker.TopK)
	cfg.Ranker.BudgetChars = envutil.Int("RANK_BUDGET_CHARS", cfg.Ranker.BudgetChars)
	cfg.Ingestion.BatchSize = envutil.Int("INGEST_BATCH_SIZE", cfg.Ingestion.BatchSize)
	cfg.Ingestion.LockTTL = envutil.Duration("INGEST_LOCK_TTL", cfg.Ingestion.LockTTL)
	cfg.Extractor.MaxBytes = int64(envutil.Int("EXTRACT_MAX_BYTES", int(cfg.Extractor.MaxBytes)))
	cfg.Extractor.HTTPTimeout = envutil.Duration("EXTRACT_HTTP_TIMEOUT", cfg.Extractor.HTTPTimeout)

	cfg.Embedding.Enabled = envutil.Bool("EMBEDDINGS_ENABLED", cfg.Embedding.Enabled)
	cfg.Embedding.Provider = strings.ToLower(envutil.String("EMBEDDING_PROVIDER", cfg.Embedding.Provider))
	cfg.Embedding.Concurrency = envutil.Int("EMBEDDING_CONCURRENCY", cfg.Embedding.Concurrency)
	cfg.Embedding.RateLimit = envutil.Float("EMBEDDING_RATE_LIMIT_RPS", cfg.Embedding.RateLimit)
	cfg.Embedding.Burst = envutil.Int("EMBEDDING_RATE_LIMIT_BURST", cfg.Embedding.Burst)

	cfg.Jobs.DispatchMode = strings.ToLower(envutil.String("JOB_DISPATCH_MODE", cfg.Jobs.DispatchMode))
	cfg.Jobs.Attempts = envutil.Int("JOB_ATTEMPTS", cfg.Jobs.Attempts)
	cfg.Jobs.BackoffKind = envutil.String("JOB_BACKOFF_KIND", cfg.Jobs.BackoffKind)
	cfg.Jobs.BackoffDelay = envutil.Duration("JOB_BACKOFF_DELAY", cfg.Jobs.BackoffDelay)
	cfg.Worker = worker.ConfigFromEnv(cfg.Worker)

	cfg.Postgres = db.PostgresConfig{
		DSN:          envutil.String("POSTGRES_DSN", ""),
		Host:         envutil.String("POSTGRES_HOST", "localhost"),
		Port:         envutil.String("POSTGRES_PORT", "5432"),
		User:         envutil.String("POSTGRES_USER", "postgres"),
		Password:     envutil.String("POSTGRES_PASSWORD", ""),
		Name:         envutil.String("POSTGRES_NAME", "docretrieval"),
		SSLMode:      envutil.String("POSTGRES_SSLMODE", "disable"),
		MaxOpenConns: envutil.Int("POSTGRES_MAX_OPEN_CONNS", 20),
		MaxIdleConns: envutil.Int("POSTGRES_MAX_IDLE_CONNS", 10),
	}
	cfg.Temporal = temporalx.LoadConfig()
	if cfg.Temporal.WorkerConcurrency <= 0 {
		cfg.Temporal.WorkerConcurrency = cfg.Worker.Concurrency
	}
}

func (c Config) validate() error {
	if c.Chunker.ChunkSize <= 0 {
		return fmt.Errorf("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("chunker.overlap must be in [0, chunk_size), got %d", c.Chunker.Overlap)
	}
	switch c.Jobs.DispatchMode {
	case "worker", "temporal":
	default:
		return fmt.Errorf("unknown JOB_DISPATCH_MODE %q", c.Jobs.DispatchMode)
	}
	switch c.Jobs.BackoffKind {
	case jobdomain.BackoffExponential, jobdomain.BackoffFixed:
	default:
		return fmt.Errorf("unknown job backoff kind %q", c.Jobs.BackoffKind)
	}
	if c.Embedding.Enabled {
		switch c.Embedding.Provider {
		case "openai", "vertex":
		default:
			return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.Embedding.Provider)
		}
	}
	return nil
}
