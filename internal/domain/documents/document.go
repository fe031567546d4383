package documents

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentStatus is the lifecycle state of a document. Exactly one status is
// held at a time and FAILED always carries a non-empty ErrorMessage.
type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusReady      DocumentStatus = "READY"
	StatusFailed     DocumentStatus = "FAILED"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusReady, StatusFailed:
		return true
	default:
		return false
	}
}

// SourceKind tells the extractor where the document text comes from.
type SourceKind string

const (
	SourceInlineText   SourceKind = "inline_text"
	SourceUploadedFile SourceKind = "uploaded_file"
	SourceExternalBlob SourceKind = "external_blob"
)

func (k SourceKind) Valid() bool {
	switch k {
	case SourceInlineText, SourceUploadedFile, SourceExternalBlob:
		return true
	default:
		return false
	}
}

type Document struct {
	ID    uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Title string    `gorm:"column:title" json:"title,omitempty"`

	SourceKind SourceKind `gorm:"column:source_kind;not null" json:"source_kind"`
	// SourceLocator is an object key (uploaded files) or a gs:// / http(s):// URI.
	SourceLocator string `gorm:"column:source_locator" json:"source_locator,omitempty"`
	InlineText    string `gorm:"column:inline_text;type:text" json:"-"`
	MimeType      string `gorm:"column:mime_type" json:"mime_type,omitempty"`

	Status       DocumentStatus `gorm:"column:status;not null;index" json:"status"`
	ErrorMessage string         `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	ProcessedAt  *time.Time     `gorm:"column:processed_at" json:"processed_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Document) TableName() string { return "document" }
