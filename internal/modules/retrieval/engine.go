// Package retrieval is the document retrieval engine: ingestion of documents
// into embedded chunks and relevance ranking over them.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/docretrieval-backend/internal/data/repos"
	types "github.com/yungbote/docretrieval-backend/internal/domain"
	"github.com/yungbote/docretrieval-backend/internal/domain/documents"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/ingestion"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval/ranker"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// ErrInvalidInput marks caller mistakes (bad source kind, empty query...).
var ErrInvalidInput = errors.New("invalid input")

type Deps struct {
	Log         *logger.Logger
	Documents   repos.DocumentRepo
	Chunks      repos.ChunkRepo
	Coordinator *ingestion.Coordinator
	Ranker      *ranker.Ranker
}

type Engine struct {
	log   *logger.Logger
	docs  repos.DocumentRepo
	chunk repos.ChunkRepo
	coord *ingestion.Coordinator
	rank  *ranker.Ranker
}

func NewEngine(deps Deps) (*Engine, error) {
	if deps.Log == nil || deps.Documents == nil || deps.Chunks == nil || deps.Coordinator == nil || deps.Ranker == nil {
		return nil, fmt.Errorf("retrieval engine: missing deps")
	}
	return &Engine{
		log:   deps.Log.With("service", "RetrievalEngine"),
		docs:  deps.Documents,
		chunk: deps.Chunks,
		coord: deps.Coordinator,
		rank:  deps.Ranker,
	}, nil
}

type CreateDocumentInput struct {
	Title         string
	SourceKind    types.SourceKind
	SourceLocator string
	InlineText    string
	MimeType      string
}

// CreateDocument stores a new document in PROCESSING. Ingestion is scheduled
// separately by the caller.
func (e *Engine) CreateDocument(ctx context.Context, in CreateDocumentInput) (*types.Document, error) {
	if !in.SourceKind.Valid() {
		return nil, fmt.Errorf("%w: unknown source kind %q", ErrInvalidInput, in.SourceKind)
	}
	switch in.SourceKind {
	case documents.SourceInlineText:
		if strings.TrimSpace(in.InlineText) == "" {
			return nil, fmt.Errorf("%w: inline text is empty", ErrInvalidInput)
		}
	default:
		if strings.TrimSpace(in.SourceLocator) == "" {
			return nil, fmt.Errorf("%w: source locator is required for %s", ErrInvalidInput, in.SourceKind)
		}
	}
	doc := &types.Document{
		ID:            uuid.New(),
		Title:         strings.TrimSpace(in.Title),
		SourceKind:    in.SourceKind,
		SourceLocator: strings.TrimSpace(in.SourceLocator),
		InlineText:    in.InlineText,
		MimeType:      strings.TrimSpace(in.MimeType),
		Status:        documents.StatusProcessing,
	}
	return e.docs.Create(dbctx.Context{Ctx: ctx}, doc)
}

func (e *Engine) GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	return e.docs.GetByID(dbctx.Context{Ctx: ctx}, id)
}

// DeleteDocument purges the document's chunks and soft-deletes it.
func (e *Engine) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := e.docs.GetByID(dbc, id); err != nil {
		return err
	}
	n, err := e.chunk.DeleteByDocumentID(dbc, id)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := e.docs.SoftDelete(dbc, id); err != nil {
		return err
	}
	e.log.Info("document deleted", "document_id", id, "chunks", n)
	return nil
}

// MarkForReprocess moves a document back to PROCESSING before a reprocess job
// is queued so status reads reflect the pending run.
func (e *Engine) MarkForReprocess(ctx context.Context, id uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := e.docs.GetByID(dbc, id); err != nil {
		return err
	}
	return e.docs.SetStatus(dbc, id, documents.StatusProcessing, "")
}

func (e *Engine) Ingest(ctx context.Context, id uuid.UUID, opts ...ingestion.Options) (*ingestion.Result, error) {
	return e.coord.Ingest(ctx, id, opts...)
}

func (e *Engine) Reprocess(ctx context.Context, id uuid.UUID, opts ...ingestion.Options) (*ingestion.Result, error) {
	return e.coord.Reprocess(ctx, id, opts...)
}

// Rank orders caller-supplied chunks; see ranker.Ranker.Rank.
func (e *Engine) Rank(ctx context.Context, query string, chunks []*types.Chunk, topK int) []*types.ScoredChunk {
	return e.rank.Rank(ctx, query, chunks, topK)
}

// Search ranks the chunks of the READY documents among documentIDs.
// Documents still processing or failed contribute nothing.
func (e *Engine) Search(ctx context.Context, documentIDs []uuid.UUID, query string, topK int) ([]*types.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidInput)
	}
	if len(documentIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one document id is required", ErrInvalidInput)
	}
	dbc := dbctx.Context{Ctx: ctx}
	docs, err := e.docs.GetByIDs(dbc, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	ready := make([]uuid.UUID, 0, len(docs))
	for _, d := range docs {
		if d != nil && d.Status == documents.StatusReady {
			ready = append(ready, d.ID)
		}
	}
	if len(ready) == 0 {
		return []*types.ScoredChunk{}, nil
	}
	candidates, err := e.chunk.ListByDocumentIDs(dbc, ready)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	return e.rank.Rank(ctx, query, candidates, topK), nil
}

type DocumentStatus struct {
	DocumentID   uuid.UUID            `json:"document_id"`
	Status       types.DocumentStatus `json:"status"`
	ChunkCount   int64                `json:"chunk_count"`
	ErrorMessage string               `json:"error_message,omitempty"`
}

func (e *Engine) GetDocumentStatus(ctx context.Context, id uuid.UUID) (*DocumentStatus, error) {
	dbc := dbctx.Context{Ctx: ctx}
	doc, err := e.docs.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	n, err := e.chunk.CountByDocumentID(dbc, id)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	return &DocumentStatus{DocumentID: id, Status: doc.Status, ChunkCount: n, ErrorMessage: doc.ErrorMessage}, nil
}

// ListChunks pages through a document's chunks in chunk order. limit <= 0
// means DefaultListLimit; it is capped at MaxListLimit.
func (e *Engine) ListChunks(ctx context.Context, id uuid.UUID, offset, limit int) ([]*types.Chunk, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := e.docs.GetByID(dbc, id); err != nil {
		return nil, err
	}
	return e.chunk.ListByDocumentID(dbc, id, offset, limit)
}
