package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/docretrieval-backend/internal/domain"
	"github.com/yungbote/docretrieval-backend/internal/http/response"
	"github.com/yungbote/docretrieval-backend/internal/modules/retrieval"
	"github.com/yungbote/docretrieval-backend/internal/observability"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
	"github.com/yungbote/docretrieval-backend/internal/services"
)

const (
	defaultMaxUploadBytes = 50 << 20
	defaultChunkPageSize  = 50
	maxChunkPageSize      = 500
)

type DocumentHandler struct {
	log            *logger.Logger
	docs           services.DocumentService
	metrics        *observability.Metrics
	maxUploadBytes int64
}

func NewDocumentHandler(log *logger.Logger, docs services.DocumentService, metrics *observability.Metrics, maxUploadBytes int64) *DocumentHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &DocumentHandler{
		log:            log.With("handler", "DocumentHandler"),
		docs:           docs,
		metrics:        metrics,
		maxUploadBytes: maxUploadBytes,
	}
}

type createDocumentBody struct {
	Title         string `json:"title"`
	SourceKind    string `json:"source_kind"`
	SourceLocator string `json:"source_locator"`
	InlineText    string `json:"inline_text"`
	MimeType      string `json:"mime_type"`
}

// POST /api/documents
//
// JSON bodies describe inline text or an external locator; multipart bodies
// carry the file itself in the "file" field.
func (h *DocumentHandler) Create(c *gin.Context) {
	var req services.CreateDocumentRequest
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
		fh, err := c.FormFile("file")
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_upload", err)
			return
		}
		f, err := fh.Open()
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_upload", err)
			return
		}
		defer f.Close()
		req = services.CreateDocumentRequest{
			Title:    c.PostForm("title"),
			MimeType: c.PostForm("mime_type"),
			Upload: &services.Upload{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Body:        f,
			},
		}
	} else {
		var body createDocumentBody
		if err := c.ShouldBindJSON(&body); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
		req = services.CreateDocumentRequest{
			Title:         body.Title,
			SourceKind:    types.SourceKind(body.SourceKind),
			SourceLocator: body.SourceLocator,
			InlineText:    body.InlineText,
			MimeType:      body.MimeType,
		}
	}

	doc, job, err := h.docs.Create(c.Request.Context(), req)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"document": doc, "job": jobRef(job)})
}

// GET /api/documents/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	doc, err := h.docs.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"document": doc})
}

// DELETE /api/documents/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	if err := h.docs.Delete(c.Request.Context(), id); err != nil {
		response.RespondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/documents/:id/status
func (h *DocumentHandler) Status(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	st, err := h.docs.Status(c.Request.Context(), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, st)
}

// GET /api/documents/:id/chunks?offset=&limit=
func (h *DocumentHandler) ListChunks(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_offset", fmt.Errorf("offset must be a non-negative integer"))
		return
	}
	limit, err := queryInt(c, "limit", defaultChunkPageSize)
	if err != nil || limit < 1 {
		response.RespondError(c, http.StatusBadRequest, "invalid_limit", fmt.Errorf("limit must be a positive integer"))
		return
	}
	if limit > maxChunkPageSize {
		limit = maxChunkPageSize
	}
	chunks, err := h.docs.ListChunks(c.Request.Context(), id, offset, limit)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if chunks == nil {
		chunks = []*types.Chunk{}
	}
	response.RespondOK(c, gin.H{"chunks": chunks, "offset": offset, "limit": limit})
}

// POST /api/documents/:id/reprocess
func (h *DocumentHandler) Reprocess(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	job, err := h.docs.Reprocess(c.Request.Context(), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": jobRef(job)})
}

type searchBody struct {
	DocumentIDs []string `json:"document_ids"`
	Query       string   `json:"query"`
	TopK        int      `json:"top_k"`
}

// POST /api/documents/:id/search
func (h *DocumentHandler) SearchDocument(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	var body searchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	h.search(c, []uuid.UUID{id}, body)
}

// POST /api/search
func (h *DocumentHandler) Search(c *gin.Context) {
	var body searchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ids := make([]uuid.UUID, 0, len(body.DocumentIDs))
	for _, raw := range body.DocumentIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_document_id", fmt.Errorf("invalid document id %q", raw))
			return
		}
		ids = append(ids, id)
	}
	h.search(c, ids, body)
}

func (h *DocumentHandler) search(c *gin.Context, ids []uuid.UUID, body searchBody) {
	if body.TopK < 0 {
		response.RespondErr(c, fmt.Errorf("%w: top_k must not be negative", retrieval.ErrInvalidInput))
		return
	}
	started := time.Now()
	results, err := h.docs.Search(c.Request.Context(), ids, body.Query, body.TopK)
	h.metrics.ObserveSearch(err, time.Since(started))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if results == nil {
		results = []*types.ScoredChunk{}
	}
	response.RespondOK(c, gin.H{"results": results})
}

func documentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func jobRef(job *types.JobRun) gin.H {
	if job == nil {
		return nil
	}
	return gin.H{"id": job.ID, "queue": job.Queue, "job_type": job.JobType, "status": job.Status}
}
