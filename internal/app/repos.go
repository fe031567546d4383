package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/docretrieval-backend/internal/data/repos"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

type Repos struct {
	Documents    repos.DocumentRepo
	Chunks       repos.ChunkRepo
	JobRuns      repos.JobRunRepo
	JobRunEvents repos.JobRunEventRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Documents:    repos.NewDocumentRepo(db, log),
		Chunks:       repos.NewChunkRepo(db, log),
		JobRuns:      repos.NewJobRunRepo(db, log),
		JobRunEvents: repos.NewJobRunEventRepo(db, log),
	}
}
