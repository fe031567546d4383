package documents

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/docretrieval-backend/internal/domain"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

// ErrChunkConflict reports a (document_id, chunk_index) collision, which
// happens when two writers chunk the same document at once.
var ErrChunkConflict = errors.New("chunk index already stored for document")

const pgUniqueViolation = "23505"

type ChunkRepo interface {
	Create(dbc dbctx.Context, chunks []*types.Chunk) ([]*types.Chunk, error)
	DeleteByDocumentID(dbc dbctx.Context, documentID uuid.UUID) (int64, error)
	ListByDocumentID(dbc dbctx.Context, documentID uuid.UUID, offset, limit int) ([]*types.Chunk, error)
	ListByDocumentIDs(dbc dbctx.Context, documentIDs []uuid.UUID) ([]*types.Chunk, error)
	CountByDocumentID(dbc dbctx.Context, documentID uuid.UUID) (int64, error)
	// NearestByEmbedding returns up to limit chunks ordered by cosine distance
	// to vec, scoped to documentIDs and to chunkIDs when each is non-empty.
	// Score is 1 - distance.
	NearestByEmbedding(dbc dbctx.Context, documentIDs, chunkIDs []uuid.UUID, vec []float32, limit int) ([]*types.ScoredChunk, error)
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	return &chunkRepo{db: db, log: baseLog.With("repo", "ChunkRepo")}
}

func (r *chunkRepo) Create(dbc dbctx.Context, chunks []*types.Chunk) ([]*types.Chunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return []*types.Chunk{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).CreateInBatches(&chunks, 100).Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrChunkConflict, pgErr.Detail)
		}
		return nil, err
	}
	return chunks, nil
}

func (r *chunkRepo) DeleteByDocumentID(dbc dbctx.Context, documentID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).Where("document_id = ?", documentID).Delete(&types.Chunk{})
	return res.RowsAffected, res.Error
}

func (r *chunkRepo) ListByDocumentID(dbc dbctx.Context, documentID uuid.UUID, offset, limit int) ([]*types.Chunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Chunk
	q := transaction.WithContext(dbc.Ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) ListByDocumentIDs(dbc dbctx.Context, documentIDs []uuid.UUID) ([]*types.Chunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Chunk
	if len(documentIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("document_id IN ?", documentIDs).
		Order("document_id ASC, chunk_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) CountByDocumentID(dbc dbctx.Context, documentID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(dbc.Ctx).Model(&types.Chunk{}).Where("document_id = ?", documentID).Count(&n).Error
	return n, err
}

type scoredRow struct {
	types.Chunk `gorm:"embedded"`
	Score       float64 `gorm:"column:score"`
}

func (r *chunkRepo) NearestByEmbedding(dbc dbctx.Context, documentIDs, chunkIDs []uuid.UUID, vec []float32, limit int) ([]*types.ScoredChunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(vec) == 0 || limit <= 0 {
		return []*types.ScoredChunk{}, nil
	}
	qv := pgvector.NewVector(vec)
	q := transaction.WithContext(dbc.Ctx).
		Model(&types.Chunk{}).
		Select("document_chunk.*, 1 - (embedding <=> ?) AS score", qv).
		Where("embedding IS NOT NULL")
	if len(documentIDs) > 0 {
		q = q.Where("document_id IN ?", documentIDs)
	}
	if len(chunkIDs) > 0 {
		q = q.Where("id IN ?", chunkIDs)
	}
	var rows []scoredRow
	err := q.Clauses(clause.OrderBy{
		Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{qv}},
	}).Limit(limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*types.ScoredChunk, 0, len(rows))
	for i := range rows {
		c := rows[i].Chunk
		out = append(out, &types.ScoredChunk{Chunk: &c, Score: rows[i].Score})
	}
	return out, nil
}
