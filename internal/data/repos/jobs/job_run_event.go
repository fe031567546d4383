package jobs

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/docretrieval-backend/internal/domain"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

type JobRunEventRepo interface {
	Create(dbc dbctx.Context, events []*types.JobRunEvent) error
	ListByJobID(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]*types.JobRunEvent, error)
}

type jobRunEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunEventRepo(db *gorm.DB, baseLog *logger.Logger) JobRunEventRepo {
	return &jobRunEventRepo{db: db, log: baseLog.With("repo", "JobRunEventRepo")}
}

func (r *jobRunEventRepo) Create(dbc dbctx.Context, events []*types.JobRunEvent) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(events) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).Create(&events).Error
}

// ListByJobID returns events oldest first.
func (r *jobRunEventRepo) ListByJobID(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]*types.JobRunEvent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 200
	}
	var out []*types.JobRunEvent
	err := transaction.WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
