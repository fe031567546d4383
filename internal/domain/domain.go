package domain

import (
	"github.com/yungbote/docretrieval-backend/internal/domain/documents"
	"github.com/yungbote/docretrieval-backend/internal/domain/jobs"
)

type Document = documents.Document
type DocumentStatus = documents.DocumentStatus
type SourceKind = documents.SourceKind
type Chunk = documents.Chunk
type ScoredChunk = documents.ScoredChunk

type JobRun = jobs.JobRun
type JobRunEvent = jobs.JobRunEvent

// Models lists every persisted type in migration order.
func Models() []any {
	return []any{
		&documents.Document{},
		&documents.Chunk{},
		&jobs.JobRun{},
		&jobs.JobRunEvent{},
	}
}
