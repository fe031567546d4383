package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/docretrieval-backend/internal/data/repos/documents"
	"github.com/yungbote/docretrieval-backend/internal/data/repos/jobs"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

type DocumentRepo = documents.DocumentRepo
type ChunkRepo = documents.ChunkRepo

type JobRunRepo = jobs.JobRunRepo
type JobRunEventRepo = jobs.JobRunEventRepo

func NewDocumentRepo(db *gorm.DB, log *logger.Logger) DocumentRepo {
	return documents.NewDocumentRepo(db, log)
}
func NewChunkRepo(db *gorm.DB, log *logger.Logger) ChunkRepo { return documents.NewChunkRepo(db, log) }

func NewJobRunRepo(db *gorm.DB, log *logger.Logger) JobRunRepo { return jobs.NewJobRunRepo(db, log) }
func NewJobRunEventRepo(db *gorm.DB, log *logger.Logger) JobRunEventRepo {
	return jobs.NewJobRunEventRepo(db, log)
}
