package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	docdomain "github.com/yungbote/docretrieval-backend/internal/domain/documents"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/embedder"
	"github.com/yungbote/docretrieval-backend/internal/platform/gcp"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
	"github.com/yungbote/docretrieval-backend/internal/platform/openai"
	"github.com/yungbote/docretrieval-backend/internal/platform/redisx"
	"github.com/yungbote/docretrieval-backend/internal/platform/vertex"
	"github.com/yungbote/docretrieval-backend/internal/realtime/bus"
	"github.com/yungbote/docretrieval-backend/internal/temporalx"
)

type Clients struct {
	Redis    *goredis.Client
	Bus      bus.Bus
	Temporal temporalsdkclient.Client

	Bucket   gcp.BucketService
	DocOCR   gcp.DocumentOCR
	ImageOCR gcp.ImageOCR

	// EmbedProvider is nil when embeddings are disabled.
	EmbedProvider embedder.Provider
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients
	fail := func(err error) (Clients, error) {
		out.Close()
		return Clients{}, err
	}

	// Redis
	rdb, err := redisx.NewClientFromEnv(ctx, log)
	if err != nil {
		return fail(fmt.Errorf("init redis: %w", err))
	}
	out.Redis = rdb
	if rdb != nil {
		b, err := bus.NewRedisBus(log, rdb, cfg.RedisPrefix)
		if err != nil {
			return fail(fmt.Errorf("init redis bus: %w", err))
		}
		out.Bus = b
	} else {
		log.Info("Using in-memory realtime bus")
		out.Bus = bus.NewMemoryBus()
	}

	// Temporal
	tc, err := temporalx.NewClient(ctx, log, cfg.Temporal)
	if err != nil {
		return fail(fmt.Errorf("init temporal: %w", err))
	}
	out.Temporal = tc

	// Gcs
	if strings.TrimSpace(os.Getenv("DOCUMENT_GCS_BUCKET_NAME")) != "" {
		bucket, err := gcp.NewBucketService(log)
		if err != nil {
			return fail(fmt.Errorf("init bucket client: %w", err))
		}
		out.Bucket = bucket
	} else {
		log.Warn("DOCUMENT_GCS_BUCKET_NAME not set; uploads and object locators disabled")
	}

	// Gcp OCR
	docOCR, err := gcp.NewDocumentOCR(log, gcp.DocumentAIConfigFromEnv())
	if err != nil {
		return fail(fmt.Errorf("init document ai: %w", err))
	}
	out.DocOCR = docOCR
	if cfg.VisionOCR {
		imageOCR, err := gcp.NewImageOCR(log)
		if err != nil {
			return fail(fmt.Errorf("init vision: %w", err))
		}
		out.ImageOCR = imageOCR
	}

	// Embeddings
	provider, err := wireEmbedProvider(ctx, log, cfg.Embedding)
	if err != nil {
		return fail(err)
	}
	out.EmbedProvider = provider
	return out, nil
}

func wireEmbedProvider(ctx context.Context, log *logger.Logger, cfg EmbeddingConfig) (embedder.Provider, error) {
	if !cfg.Enabled {
		log.Info("Embeddings disabled; using local hashed vectors")
		return nil, nil
	}
	switch cfg.Provider {
	case "openai":
		oc := openai.ConfigFromEnv()
		oc.Dimensions = docdomain.EmbeddingDim
		c, err := openai.NewClient(log, oc)
		if err != nil {
			return nil, fmt.Errorf("init openai client: %w", err)
		}
		return embedder.NewOpenAIProvider(c), nil
	case "vertex":
		vc := vertex.ConfigFromEnv()
		vc.Dimensions = docdomain.EmbeddingDim
		c, err := vertex.NewClient(ctx, log, vc)
		if err != nil {
			return nil, fmt.Errorf("init vertex client: %w", err)
		}
		return embedder.NewVertexProvider(c), nil
	default:
		return nil, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", cfg.Provider)
	}
}

func (c Clients) Close() {
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Bucket != nil {
		_ = c.Bucket.Close()
	}
	if c.DocOCR != nil {
		_ = c.DocOCR.Close()
	}
	if c.ImageOCR != nil {
		_ = c.ImageOCR.Close()
	}
}
