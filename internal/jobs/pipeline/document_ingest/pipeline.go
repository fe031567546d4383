package document_ingest

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/ingestion"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
	"github.com/yungbote/docretrieval-backend/internal/services"
)

// Ingester is the slice of the retrieval engine the pipeline drives.
type Ingester interface {
	Ingest(ctx context.Context, id uuid.UUID, opts ...ingestion.Options) (*ingestion.Result, error)
	Reprocess(ctx context.Context, id uuid.UUID, opts ...ingestion.Options) (*ingestion.Result, error)
}

// Pipeline handles one of the document job types. Ingest and reprocess share
// everything except the engine entry point.
type Pipeline struct {
	log       *logger.Logger
	engine    Ingester
	jobType   string
	reprocess bool
}

func New(baseLog *logger.Logger, engine Ingester) *Pipeline {
	return &Pipeline{
		log:     baseLog.With("job", services.JobTypeDocumentIngest),
		engine:  engine,
		jobType: services.JobTypeDocumentIngest,
	}
}

func NewReprocess(baseLog *logger.Logger, engine Ingester) *Pipeline {
	return &Pipeline{
		log:       baseLog.With("job", services.JobTypeDocumentReprocess),
		engine:    engine,
		jobType:   services.JobTypeDocumentReprocess,
		reprocess: true,
	}
}

func (p *Pipeline) Type() string { return p.jobType }
