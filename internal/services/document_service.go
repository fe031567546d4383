package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/docretrieval-backend/internal/domain"
	docdomain "github.com/yungbote/docretrieval-backend/internal/domain/documents"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval"
	"github.com/yungbote/docretrieval-backend/internal/platform/ctxutil"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

// DocumentEngine is the part of retrieval.Engine the service orchestrates.
type DocumentEngine interface {
	CreateDocument(ctx context.Context, in retrieval.CreateDocumentInput) (*types.Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error
	MarkForReprocess(ctx context.Context, id uuid.UUID) error
	GetDocumentStatus(ctx context.Context, id uuid.UUID) (*retrieval.DocumentStatus, error)
	ListChunks(ctx context.Context, id uuid.UUID, offset, limit int) ([]*types.Chunk, error)
	Search(ctx context.Context, documentIDs []uuid.UUID, query string, topK int) ([]*types.ScoredChunk, error)
}

// Uploader stores uploaded source files; gcp.BucketService satisfies it.
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, locator string) error
}

type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

type CreateDocumentRequest struct {
	Title         string
	SourceKind    types.SourceKind
	SourceLocator string
	InlineText    string
	MimeType      string
	// Upload, when set, is stored in the document bucket and the document
	// becomes an uploaded_file pointing at it.
	Upload *Upload
}

type DocumentService interface {
	Create(ctx context.Context, req CreateDocumentRequest) (*types.Document, *types.JobRun, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Reprocess(ctx context.Context, id uuid.UUID) (*types.JobRun, error)
	Status(ctx context.Context, id uuid.UUID) (*retrieval.DocumentStatus, error)
	ListChunks(ctx context.Context, id uuid.UUID, offset, limit int) ([]*types.Chunk, error)
	Search(ctx context.Context, documentIDs []uuid.UUID, query string, topK int) ([]*types.ScoredChunk, error)
}

type documentService struct {
	log     *logger.Logger
	engine  DocumentEngine
	jobs    JobService
	uploads Uploader
}

// NewDocumentService wires document writes to the job queue. uploads may be
// nil, in which case file uploads are rejected.
func NewDocumentService(baseLog *logger.Logger, engine DocumentEngine, jobs JobService, uploads Uploader) DocumentService {
	return &documentService{
		log:     baseLog.With("service", "DocumentService"),
		engine:  engine,
		jobs:    jobs,
		uploads: uploads,
	}
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func uploadKey(id uuid.UUID, filename string) string {
	name := unsafeKeyChars.ReplaceAllString(path.Base(strings.TrimSpace(filename)), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "source"
	}
	return "documents/" + id.String() + "/" + name
}

func (s *documentService) Create(ctx context.Context, req CreateDocumentRequest) (*types.Document, *types.JobRun, error) {
	in := retrieval.CreateDocumentInput{
		Title:         req.Title,
		SourceKind:    req.SourceKind,
		SourceLocator: req.SourceLocator,
		InlineText:    req.InlineText,
		MimeType:      req.MimeType,
	}

	if req.Upload != nil {
		if s.uploads == nil {
			return nil, nil, fmt.Errorf("%w: file uploads are not configured", retrieval.ErrInvalidInput)
		}
		if req.Upload.Body == nil {
			return nil, nil, fmt.Errorf("%w: upload body is empty", retrieval.ErrInvalidInput)
		}
		uri, err := s.uploads.Upload(ctx, uploadKey(uuid.New(), req.Upload.Filename), req.Upload.Body, req.Upload.ContentType)
		if err != nil {
			return nil, nil, fmt.Errorf("store upload: %w", err)
		}
		in.SourceKind = docdomain.SourceUploadedFile
		in.SourceLocator = uri
		if in.MimeType == "" {
			in.MimeType = req.Upload.ContentType
		}
		if strings.TrimSpace(in.Title) == "" {
			in.Title = path.Base(req.Upload.Filename)
		}
	}

	doc, err := s.engine.CreateDocument(ctx, in)
	if err != nil {
		if req.Upload != nil {
			_ = s.uploads.Delete(ctxutil.Detached(ctx), in.SourceLocator)
		}
		return nil, nil, err
	}
	job, err := s.enqueue(ctx, JobTypeDocumentIngest, doc.ID)
	if err != nil {
		return doc, job, err
	}
	s.log.Info("Document created", "document_id", doc.ID, "source_kind", doc.SourceKind, "job_id", job.ID)
	return doc, job, nil
}

func (s *documentService) enqueue(ctx context.Context, jobType string, docID uuid.UUID) (*types.JobRun, error) {
	entityID := docID
	job, err := s.jobs.Enqueue(dbctx.Context{Ctx: ctx}, EnqueueRequest{
		Queue:      QueueDocuments,
		JobType:    jobType,
		EntityType: EntityDocument,
		EntityID:   &entityID,
		Payload:    map[string]any{"document_id": docID.String()},
		Dedupe:     true,
	})
	if err != nil {
		return job, fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return job, nil
}

func (s *documentService) Get(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	return s.engine.GetDocument(ctx, id)
}

func (s *documentService) Delete(ctx context.Context, id uuid.UUID) error {
	doc, err := s.engine.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := s.engine.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if doc.SourceKind == docdomain.SourceUploadedFile && s.uploads != nil && doc.SourceLocator != "" {
		if err := s.uploads.Delete(ctxutil.Detached(ctx), doc.SourceLocator); err != nil {
			s.log.Warn("Uploaded source delete failed", "document_id", id, "error", err)
		}
	}
	return nil
}

func (s *documentService) Reprocess(ctx context.Context, id uuid.UUID) (*types.JobRun, error) {
	if err := s.engine.MarkForReprocess(ctx, id); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, JobTypeDocumentReprocess, id)
}

func (s *documentService) Status(ctx context.Context, id uuid.UUID) (*retrieval.DocumentStatus, error) {
	return s.engine.GetDocumentStatus(ctx, id)
}

func (s *documentService) ListChunks(ctx context.Context, id uuid.UUID, offset, limit int) ([]*types.Chunk, error) {
	return s.engine.ListChunks(ctx, id, offset, limit)
}

func (s *documentService) Search(ctx context.Context, documentIDs []uuid.UUID, query string, topK int) ([]*types.ScoredChunk, error) {
	return s.engine.Search(ctx, documentIDs, query, topK)
}
