package documents

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/docretrieval-backend/internal/domain"
	docdomain "github.com/yungbote/docretrieval-backend/internal/domain/documents"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

// ErrNotFound is returned when a document id does not resolve to a live row.
var ErrNotFound = errors.New("document not found")

// DefaultFailureMessage replaces an empty message on FAILED transitions.
const DefaultFailureMessage = "document processing failed"

type DocumentRepo interface {
	Create(dbc dbctx.Context, doc *types.Document) (*types.Document, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Document, error)
	// SetStatus updates status and error message in a single statement.
	// PROCESSING and READY clear the message; FAILED always stores one.
	SetStatus(dbc dbctx.Context, id uuid.UUID, status types.DocumentStatus, message string) error
	// MarkReady sets READY, clears the error and records the resolved MIME type.
	MarkReady(dbc dbctx.Context, id uuid.UUID, mimeType string) error
	SoftDelete(dbc dbctx.Context, id uuid.UUID) error
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (r *documentRepo) Create(dbc dbctx.Context, doc *types.Document) (*types.Document, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if doc.Status == "" {
		doc.Status = docdomain.StatusProcessing
	}
	if err := transaction.WithContext(dbc.Ctx).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *documentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var doc types.Document
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Document, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Document
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentRepo) SetStatus(dbc dbctx.Context, id uuid.UUID, status types.DocumentStatus, message string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	updates := map[string]interface{}{
		"status":        status,
		"error_message": "",
		"updated_at":    time.Now(),
	}
	if status == docdomain.StatusFailed {
		message = strings.TrimSpace(message)
		if message == "" {
			message = DefaultFailureMessage
		}
		updates["error_message"] = message
	}
	return r.update(transaction.WithContext(dbc.Ctx), id, updates)
}

func (r *documentRepo) MarkReady(dbc dbctx.Context, id uuid.UUID, mimeType string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":        docdomain.StatusReady,
		"error_message": "",
		"processed_at":  now,
		"updated_at":    now,
	}
	if mimeType != "" {
		updates["mime_type"] = mimeType
	}
	return r.update(transaction.WithContext(dbc.Ctx), id, updates)
}

func (r *documentRepo) SoftDelete(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Delete(&types.Document{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepo) update(tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	res := tx.Model(&types.Document{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
