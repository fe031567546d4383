package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/docretrieval-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(types.Models()...)
}

// Migrate runs AutoMigrateAll followed by the raw index DDL gorm tags cannot
// express.
func Migrate(db *gorm.DB) error {
	if err := EnsureExtensions(db); err != nil {
		return err
	}
	if err := AutoMigrateAll(db); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	if err := EnsureRetrievalIndexes(db); err != nil {
		return err
	}
	return EnsureJobIndexes(db)
}

func EnsureRetrievalIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_document_chunk_doc_index
		ON document_chunk(document_id, chunk_index);
	`).Error; err != nil {
		return fmt.Errorf("create idx_document_chunk_doc_index: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_document_chunk_embedding_hnsw
		ON document_chunk
		USING hnsw (embedding vector_cosine_ops);
	`).Error; err != nil {
		return fmt.Errorf("create idx_document_chunk_embedding_hnsw: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_document_status_live
		ON document(status)
		WHERE deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_document_status_live: %w", err)
	}
	return nil
}

func EnsureJobIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_run_claim
		ON job_run(queue, status, next_run_at, created_at)
		WHERE deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_run_claim: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_run_event_job_created
		ON job_run_event(job_id, created_at);
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_run_event_job_created: %w", err)
	}
	return nil
}
