// Package ingestion turns one document into stored, embedded chunks and owns
// the document's PROCESSING -> READY | FAILED transitions.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/docretrieval-backend/internal/data/repos"
	types "github.com/yungbote/docretrieval-backend/internal/domain"
	"github.com/yungbote/docretrieval-backend/internal/domain/documents"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/chunker"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/extractor"
	"github.com/yungbote/docretrieval-backend/internal/platform/ctxutil"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

const (
	DefaultBatchSize = 20
	DefaultLockTTL   = 15 * time.Minute
)

// ErrEmptyChunking is the validation failure for text that chunks to nothing.
var ErrEmptyChunking = errors.New("document text produced no chunks")

type Extractor interface {
	Extract(ctx context.Context, src extractor.Source) (*extractor.Extraction, error)
}

type Embedder interface {
	IsEnabled() bool
	EmbedBatch(ctx context.Context, texts []string) [][]float32
}

type Deps struct {
	Log       *logger.Logger
	Documents repos.DocumentRepo
	Chunks    repos.ChunkRepo
	Extractor Extractor
	Chunker   *chunker.Chunker
	Embedder  Embedder
	// Locker defaults to an in-process locker.
	Locker Locker
}

type Config struct {
	BatchSize int           `yaml:"batch_size"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
}

func DefaultConfig() Config {
	return Config{BatchSize: DefaultBatchSize, LockTTL: DefaultLockTTL}
}

type Options struct {
	// Report is an optional progress callback; fraction is in [0,1].
	Report func(stage string, fraction float64, message string)
}

type Result struct {
	DocumentID   uuid.UUID            `json:"document_id"`
	Status       types.DocumentStatus `json:"status"`
	ChunkCount   int                  `json:"chunk_count"`
	MimeType     string               `json:"mime_type,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
}

type Coordinator struct {
	log  *logger.Logger
	deps Deps
	cfg  Config
}

func New(deps Deps, cfg Config) (*Coordinator, error) {
	if deps.Log == nil || deps.Documents == nil || deps.Chunks == nil || deps.Extractor == nil || deps.Chunker == nil || deps.Embedder == nil {
		return nil, fmt.Errorf("ingestion: missing deps")
	}
	if deps.Locker == nil {
		deps.Locker = NewMemoryLocker()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &Coordinator{log: deps.Log.With("service", "IngestionCoordinator"), deps: deps, cfg: cfg}, nil
}

// Ingest runs the full pipeline for one document. Validation failures mark
// the document FAILED and return a nil error with the FAILED result; any
// other failure marks it FAILED and returns the error so the caller retries.
func (c *Coordinator) Ingest(ctx context.Context, documentID uuid.UUID, opts ...Options) (*Result, error) {
	return c.run(ctx, documentID, false, opts...)
}

// Reprocess purges the document's chunks and then ingests it again.
func (c *Coordinator) Reprocess(ctx context.Context, documentID uuid.UUID, opts ...Options) (*Result, error) {
	return c.run(ctx, documentID, true, opts...)
}

func (c *Coordinator) run(ctx context.Context, documentID uuid.UUID, purge bool, opts ...Options) (*Result, error) {
	var opt Options
	if len(opts) > 0 {
		opt = opts[0]
	}
	report := opt.Report
	if report == nil {
		report = func(string, float64, string) {}
	}

	op := "ingest"
	if purge {
		op = "reprocess"
	}
	ctx, span := otel.Tracer("docretrieval/ingestion").Start(ctx, "ingestion."+op)
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID.String()))
	log := c.log.With("document_id", documentID, "op", op)

	lease, err := c.deps.Locker.Acquire(ctx, "document:"+documentID.String(), c.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	dbc := dbctx.Context{Ctx: ctx}
	doc, err := c.deps.Documents.GetByID(dbc, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	res := &Result{DocumentID: documentID}

	if purge {
		n, err := c.deps.Chunks.DeleteByDocumentID(dbc, documentID)
		if err != nil {
			return c.fail(ctx, log, res, fmt.Errorf("purge chunks: %w", err))
		}
		log.Info("purged chunks before reprocess", "deleted", n)
	}
	if err := c.deps.Documents.SetStatus(dbc, documentID, documents.StatusProcessing, ""); err != nil {
		return nil, fmt.Errorf("set processing: %w", err)
	}
	report("extract", 0, "Extracting text")

	ext, err := c.deps.Extractor.Extract(ctx, extractor.SourceFromDocument(doc))
	if err != nil {
		if extractor.IsValidation(err) {
			return c.reject(ctx, log, res, err)
		}
		return c.fail(ctx, log, res, fmt.Errorf("extract: %w", err))
	}
	res.MimeType = ext.MimeType

	segs := c.deps.Chunker.Chunk(ext.Text)
	if len(segs) == 0 {
		return c.reject(ctx, log, res, ErrEmptyChunking)
	}
	report("chunk", 0, fmt.Sprintf("Chunked into %d segments", len(segs)))

	if _, err := c.deps.Chunks.DeleteByDocumentID(dbc, documentID); err != nil {
		return c.fail(ctx, log, res, fmt.Errorf("delete existing chunks: %w", err))
	}

	total := len(segs)
	for start := 0; start < total; start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, total)
		if err := c.storeBatch(ctx, documentID, segs[start:end]); err != nil {
			return c.fail(ctx, log, res, err)
		}
		if err := lease.Extend(ctx); err != nil {
			if errors.Is(err, ErrLeaseLost) {
				// Another run owns the document now; leave its status alone.
				log.Warn("document lock lost mid-ingestion; abandoning run", "stored", end, "total", total)
				return nil, err
			}
			log.Warn("document lock extend failed; continuing", "error", err)
		}
		report("embed", float64(end)/float64(total), fmt.Sprintf("Stored %d/%d chunks", end, total))
	}

	if err := c.deps.Documents.MarkReady(dbc, documentID, ext.MimeType); err != nil {
		return c.fail(ctx, log, res, fmt.Errorf("mark ready: %w", err))
	}
	res.Status = documents.StatusReady
	res.ChunkCount = total
	span.SetAttributes(attribute.Int("document.chunks", total))
	log.Info("document ready", "chunks", total, "mime", ext.MimeType, "provider_embeddings", c.deps.Embedder.IsEnabled())
	return res, nil
}

// storeBatch embeds one batch and inserts its chunks concurrently. The next
// batch starts only after every insert here has finished. Every chunk is
// stored with a vector: a disabled or failing provider yields the local one.
func (c *Coordinator) storeBatch(ctx context.Context, documentID uuid.UUID, segs []chunker.Segment) error {
	texts := make([]string, len(segs))
	for i, s := range segs {
		texts[i] = s.Content
	}
	vecs := c.deps.Embedder.EmbedBatch(ctx, texts)

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range segs {
		ch := &types.Chunk{
			ID:          uuid.New(),
			DocumentID:  documentID,
			ChunkIndex:  s.Index,
			Content:     s.Content,
			ContentHash: s.ContentHash,
			StartChar:   s.StartChar,
			EndChar:     s.EndChar,
		}
		if i < len(vecs) {
			ch.SetEmbedding(vecs[i])
		}
		g.Go(func() error {
			if _, err := c.deps.Chunks.Create(dbctx.Context{Ctx: gctx}, []*types.Chunk{ch}); err != nil {
				return fmt.Errorf("insert chunk %d: %w", ch.ChunkIndex, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// reject records a validation failure. The run is complete; nothing retries.
func (c *Coordinator) reject(ctx context.Context, log *logger.Logger, res *Result, cause error) (*Result, error) {
	msg := cause.Error()
	log.Warn("document rejected", "error", msg)
	if err := c.deps.Documents.SetStatus(dbctx.Context{Ctx: ctxutil.Detached(ctx)}, res.DocumentID, documents.StatusFailed, msg); err != nil {
		return nil, fmt.Errorf("set failed: %w", err)
	}
	res.Status = documents.StatusFailed
	res.ErrorMessage = msg
	return res, nil
}

// fail records a transient failure and hands the error back for retry.
func (c *Coordinator) fail(ctx context.Context, log *logger.Logger, res *Result, cause error) (*Result, error) {
	msg := cause.Error()
	log.Error("document ingestion failed", "error", msg)
	if err := c.deps.Documents.SetStatus(dbctx.Context{Ctx: ctxutil.Detached(ctx)}, res.DocumentID, documents.StatusFailed, msg); err != nil {
		log.Error("failed to record FAILED status", "error", err)
	}
	res.Status = documents.StatusFailed
	res.ErrorMessage = msg
	return res, cause
}
