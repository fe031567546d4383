package documents

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingDim is the width of every stored chunk vector.
const EmbeddingDim = 128

// Chunk is a contiguous slice of a document's normalized text. Chunks are
// hard-deleted on reprocess so (document_id, chunk_index) stays unique.
type Chunk struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DocumentID  uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`
	ChunkIndex  int       `gorm:"column:chunk_index;not null" json:"chunk_index"`
	Content     string    `gorm:"column:content;type:text;not null" json:"content"`
	ContentHash string    `gorm:"column:content_hash;not null" json:"content_hash"`
	StartChar   int       `gorm:"column:start_char;not null" json:"start_char"`
	EndChar     int       `gorm:"column:end_char;not null" json:"end_char"`

	Embedding *pgvector.Vector `gorm:"column:embedding;type:vector(128)" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Chunk) TableName() string { return "document_chunk" }

// EmbeddingSlice returns the stored vector or nil.
func (c *Chunk) EmbeddingSlice() []float32 {
	if c == nil || c.Embedding == nil {
		return nil
	}
	return c.Embedding.Slice()
}

// SetEmbedding stores vec, or clears the column when vec is empty.
func (c *Chunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = nil
		return
	}
	v := pgvector.NewVector(vec)
	c.Embedding = &v
}

// ScoredChunk is a ranking result. Only the order of a result list is
// meaningful; scores from different tiers are not comparable.
type ScoredChunk struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
	Tier  string  `json:"tier"`
}
