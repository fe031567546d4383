package ranker

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/google/uuid"

	types "github.com/yungbote/docretrieval-backend/internal/domain"
	"github.com/yungbote/docretrieval-backend/internal/platform/dbctx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

const (
	TierVectorStore = "vector_store"
	TierCosine      = "cosine"
	TierKeyword     = "keyword"
)

// NearestStore runs a nearest-neighbour query against stored chunk vectors.
type NearestStore interface {
	NearestByEmbedding(dbc dbctx.Context, documentIDs, chunkIDs []uuid.UUID, vec []float32, limit int) ([]*types.ScoredChunk, error)
}

type vectorStoreStrategy struct {
	log   *logger.Logger
	emb   QueryEmbedder
	store NearestStore
}

func NewVectorStoreStrategy(log *logger.Logger, emb QueryEmbedder, store NearestStore) Strategy {
	return &vectorStoreStrategy{log: log.With("tier", TierVectorStore), emb: emb, store: store}
}

func (s *vectorStoreStrategy) Name() string { return TierVectorStore }

// Search over-fetches 2*topK neighbours scoped to the candidate chunk ids, so
// a caller passing part of a document still gets a full page of hits.
func (s *vectorStoreStrategy) Search(ctx context.Context, query string, candidates []*types.Chunk, topK int) ([]*types.ScoredChunk, error) {
	if s.store == nil || s.emb == nil || !s.emb.IsEnabled() {
		return nil, ErrNotApplicable
	}
	vec := embedQuery(ctx, s.emb, query)
	if len(vec) == 0 {
		return nil, ErrNotApplicable
	}

	byID := make(map[uuid.UUID]*types.Chunk, len(candidates))
	chunkIDs := make([]uuid.UUID, 0, len(candidates))
	docSeen := map[uuid.UUID]bool{}
	docIDs := make([]uuid.UUID, 0, 1)
	for _, c := range candidates {
		byID[c.ID] = c
		chunkIDs = append(chunkIDs, c.ID)
		if !docSeen[c.DocumentID] {
			docSeen[c.DocumentID] = true
			docIDs = append(docIDs, c.DocumentID)
		}
	}

	rows, err := s.store.NearestByEmbedding(dbctx.Context{Ctx: ctx}, docIDs, chunkIDs, vec, 2*topK)
	if err != nil {
		return nil, fmt.Errorf("nearest by embedding: %w", err)
	}
	out := make([]*types.ScoredChunk, 0, len(rows))
	for _, row := range rows {
		if row == nil || row.Chunk == nil {
			continue
		}
		c, ok := byID[row.Chunk.ID]
		if !ok {
			continue
		}
		out = append(out, &types.ScoredChunk{Chunk: c, Score: row.Score})
	}
	sortScored(out)
	return out, nil
}

type cosineStrategy struct {
	emb QueryEmbedder
}

func NewCosineStrategy(emb QueryEmbedder) Strategy {
	return &cosineStrategy{emb: emb}
}

func (s *cosineStrategy) Name() string { return TierCosine }

// Search applies only when every candidate carries a vector of the query's
// width.
func (s *cosineStrategy) Search(ctx context.Context, query string, candidates []*types.Chunk, topK int) ([]*types.ScoredChunk, error) {
	if s.emb == nil {
		return nil, ErrNotApplicable
	}
	for _, c := range candidates {
		if c.Embedding == nil {
			return nil, ErrNotApplicable
		}
	}
	q := embedQuery(ctx, s.emb, query)
	if len(q) == 0 {
		return nil, ErrNotApplicable
	}
	out := make([]*types.ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		v := c.EmbeddingSlice()
		if len(v) != len(q) {
			return nil, ErrNotApplicable
		}
		out = append(out, &types.ScoredChunk{Chunk: c, Score: Cosine(q, v)})
	}
	sortScored(out)
	return out, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either has zero
// magnitude or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type keywordStrategy struct{}

func NewKeywordStrategy() Strategy { return keywordStrategy{} }

func (keywordStrategy) Name() string { return TierKeyword }

// Search scores every candidate, so it only returns empty for empty input.
func (keywordStrategy) Search(ctx context.Context, query string, candidates []*types.Chunk, topK int) ([]*types.ScoredChunk, error) {
	qTokens := Tokenize(query)
	out := make([]*types.ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, &types.ScoredChunk{Chunk: c, Score: KeywordScore(qTokens, c.Content)})
	}
	sortScored(out)
	return out, nil
}

// Tokenize lower-cases s and splits it on runs of anything that is not a
// letter or digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// KeywordScore is distinct query tokens present in content, plus two per
// adjacent query bigram found as a substring of the lower-cased content, plus
// min(len(queryTokens)/10, 1).
func KeywordScore(queryTokens []string, content string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	chunkSet := map[string]struct{}{}
	for _, t := range Tokenize(content) {
		chunkSet[t] = struct{}{}
	}
	score := 0.0
	seen := map[string]bool{}
	for _, t := range queryTokens {
		if seen[t] {
			continue
		}
		seen[t] = true
		if _, ok := chunkSet[t]; ok {
			score++
		}
	}
	lower := strings.ToLower(content)
	for i := 0; i+1 < len(queryTokens); i++ {
		if strings.Contains(lower, queryTokens[i]+" "+queryTokens[i+1]) {
			score += 2
		}
	}
	score += math.Min(float64(len(queryTokens))/10, 1)
	return score
}
