package app

import (
	"fmt"
	"net/http"

	"gorm.io/gorm"

	"github.com/yungbote/docretrieval-backend/internal/jobs/pipeline/document_ingest"
	jobrt "github.com/yungbote/docretrieval-backend/internal/jobs/runtime"
	"github.com/yungbote/docretrieval-backend/internal/jobs/worker"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/chunker"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/embedder"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/extractor"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/ingestion"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/ranker"
	"github.com/yungbote/docretrieval-backend/internal/observability"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
	"github.com/yungbote/docretrieval-backend/internal/services"
	"github.com/yungbote/docretrieval-backend/internal/temporalx/temporalworker"
)

type Services struct {
	Engine    *retrieval.Engine
	Notifier  services.JobNotifier
	Jobs      services.JobService
	Documents services.DocumentService
	Registry  *jobrt.Registry

	// Exactly one of these runs jobs, chosen by JOB_DISPATCH_MODE.
	JobWorker      *worker.Worker
	TemporalWorker *temporalworker.Runner
}

func wireEngine(log *logger.Logger, cfg Config, clients Clients, reposet Repos) (*retrieval.Engine, error) {
	log.Info("Wiring retrieval engine...")

	var blobs extractor.BlobStore
	if clients.Bucket != nil {
		blobs = clients.Bucket
	}
	ext := extractor.New(log, extractor.Deps{
		Blobs:    blobs,
		HTTP:     &http.Client{Timeout: cfg.Extractor.HTTPTimeout},
		DocOCR:   clients.DocOCR,
		ImageOCR: clients.ImageOCR,
	}, cfg.Extractor)

	emb := embedder.New(log, clients.EmbedProvider, embedder.Config{
		Enabled:     cfg.Embedding.Enabled,
		Concurrency: cfg.Embedding.Concurrency,
		RateLimit:   cfg.Embedding.RateLimit,
		Burst:       cfg.Embedding.Burst,
	})

	locker := ingestion.NewMemoryLocker()
	if clients.Redis != nil {
		locker = ingestion.NewRedisLocker(clients.Redis, cfg.RedisPrefix)
	}

	coord, err := ingestion.New(ingestion.Deps{
		Log:       log,
		Documents: reposet.Documents,
		Chunks:    reposet.Chunks,
		Extractor: ext,
		Chunker:   chunker.New(cfg.Chunker),
		Embedder:  emb,
		Locker:    locker,
	}, cfg.Ingestion)
	if err != nil {
		return nil, fmt.Errorf("init ingestion coordinator: %w", err)
	}

	return retrieval.NewEngine(retrieval.Deps{
		Log:         log,
		Documents:   reposet.Documents,
		Chunks:      reposet.Chunks,
		Coordinator: coord,
		Ranker:      ranker.NewDefault(log, cfg.Ranker, emb, reposet.Chunks),
	})
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, clients Clients, reposet Repos, metrics *observability.Metrics) (Services, error) {
	engine, err := wireEngine(log, cfg, clients, reposet)
	if err != nil {
		return Services{}, err
	}

	log.Info("Wiring services...")
	notifier := services.NewJobNotifier(log, clients.Bus, reposet.JobRunEvents)
	jobService, err := services.NewJobService(db, log, reposet.JobRuns, reposet.JobRunEvents, notifier, clients.Temporal, services.JobServiceConfig{
		DispatchMode:      cfg.Jobs.DispatchMode,
		TemporalTaskQueue: cfg.Temporal.TaskQueue,
		DefaultAttempts:   cfg.Jobs.Attempts,
		DefaultBackoff:    services.Backoff{Kind: cfg.Jobs.BackoffKind, Delay: cfg.Jobs.BackoffDelay},
	})
	if err != nil {
		return Services{}, fmt.Errorf("init job service: %w", err)
	}

	var uploads services.Uploader
	if clients.Bucket != nil {
		uploads = clients.Bucket
	}
	documentService := services.NewDocumentService(log, engine, jobService, uploads)

	registry := jobrt.NewRegistry()
	if err := registry.Register(
		document_ingest.New(log, engine),
		document_ingest.NewReprocess(log, engine),
	); err != nil {
		return Services{}, fmt.Errorf("register job handlers: %w", err)
	}

	out := Services{
		Engine:    engine,
		Notifier:  notifier,
		Jobs:      jobService,
		Documents: documentService,
		Registry:  registry,
	}
	switch cfg.Jobs.DispatchMode {
	case services.DispatchTemporal:
		runner, err := temporalworker.NewRunner(log, clients.Temporal, reposet.JobRuns, registry, notifier, cfg.Temporal)
		if err != nil {
			return Services{}, fmt.Errorf("init temporal worker: %w", err)
		}
		out.TemporalWorker = runner.WithMetrics(metrics)
	default:
		out.JobWorker = worker.NewWorker(log, reposet.JobRuns, registry, notifier, cfg.Worker).WithMetrics(metrics)
	}
	return out, nil
}
