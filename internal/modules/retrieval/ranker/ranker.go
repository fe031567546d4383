// Package ranker orders candidate chunks by relevance to a query through an
// ordered chain of strategies, then trims the result to a character budget.
package ranker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	types "github.com/yungbote/docretrieval-backend/internal/domain"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

const (
	DefaultTopK        = 8
	DefaultBudgetChars = 24000
)

// ErrNotApplicable is returned by a strategy that cannot run for the given
// inputs. The ranker moves to the next strategy without logging.
var ErrNotApplicable = errors.New("ranking strategy not applicable")

// Strategy is one tier of the ranking cascade.
type Strategy interface {
	Name() string
	Search(ctx context.Context, query string, candidates []*types.Chunk, topK int) ([]*types.ScoredChunk, error)
}

// QueryEmbedder is the part of the embedder the ranker needs.
type QueryEmbedder interface {
	IsEnabled() bool
	Embed(ctx context.Context, text string) []float32
}

type Config struct {
	TopK        int `yaml:"top_k"`
	BudgetChars int `yaml:"budget_chars"`
}

func DefaultConfig() Config {
	return Config{TopK: DefaultTopK, BudgetChars: DefaultBudgetChars}
}

type Ranker struct {
	log        *logger.Logger
	cfg        Config
	strategies []Strategy
}

func New(log *logger.Logger, cfg Config, strategies ...Strategy) *Ranker {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.BudgetChars <= 0 {
		cfg.BudgetChars = DefaultBudgetChars
	}
	return &Ranker{log: log.With("service", "Ranker"), cfg: cfg, strategies: strategies}
}

// NewDefault builds the standard cascade: store-side vector search, in-process
// cosine similarity, keyword overlap.
func NewDefault(log *logger.Logger, cfg Config, emb QueryEmbedder, store NearestStore) *Ranker {
	return New(log, cfg,
		NewVectorStoreStrategy(log, emb, store),
		NewCosineStrategy(emb),
		NewKeywordStrategy(),
	)
}

func (r *Ranker) Config() Config { return r.cfg }

// Rank returns at most topK chunks (DefaultTopK when topK <= 0) whose total
// content length fits the budget. The first chunk is always kept.
func (r *Ranker) Rank(ctx context.Context, query string, candidates []*types.Chunk, topK int) []*types.ScoredChunk {
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	ctx, span := otel.Tracer("docretrieval/ranker").Start(ctx, "ranker.Rank")
	defer span.End()
	span.SetAttributes(
		attribute.Int("rank.candidates", len(candidates)),
		attribute.Int("rank.top_k", topK),
	)

	candidates = compact(candidates)
	if len(candidates) == 0 {
		return []*types.ScoredChunk{}
	}
	ctx = withQueryVector(ctx)

	for _, s := range r.strategies {
		out, err := s.Search(ctx, query, candidates, topK)
		if errors.Is(err, ErrNotApplicable) {
			continue
		}
		if err != nil {
			r.log.Warn("ranking strategy failed; falling through", "tier", s.Name(), "error", err)
			span.RecordError(err)
			continue
		}
		if len(out) == 0 {
			continue
		}
		for _, sc := range out {
			sc.Tier = s.Name()
		}
		out = ApplyBudget(truncate(out, topK), r.cfg.BudgetChars)
		span.SetAttributes(attribute.String("rank.tier", s.Name()), attribute.Int("rank.results", len(out)))
		return out
	}
	span.SetAttributes(attribute.String("rank.tier", "none"))
	return []*types.ScoredChunk{}
}

// ApplyBudget walks ranked chunks in order and stops before the running
// content length would exceed budget. At least one chunk is always returned
// when ranked is non-empty.
func ApplyBudget(ranked []*types.ScoredChunk, budget int) []*types.ScoredChunk {
	if budget <= 0 {
		return ranked
	}
	out := make([]*types.ScoredChunk, 0, len(ranked))
	total := 0
	for _, sc := range ranked {
		n := utf8.RuneCountInString(sc.Chunk.Content)
		if len(out) > 0 && total+n > budget {
			break
		}
		total += n
		out = append(out, sc)
	}
	return out
}

func truncate(in []*types.ScoredChunk, topK int) []*types.ScoredChunk {
	if topK > 0 && len(in) > topK {
		return in[:topK]
	}
	return in
}

func compact(in []*types.Chunk) []*types.Chunk {
	out := make([]*types.Chunk, 0, len(in))
	for _, c := range in {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// sortScored orders by score descending, then chunk index ascending, then
// document id so equal inputs always produce the same order.
func sortScored(s []*types.ScoredChunk) {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.ChunkIndex != b.Chunk.ChunkIndex {
			return a.Chunk.ChunkIndex < b.Chunk.ChunkIndex
		}
		return a.Chunk.DocumentID.String() < b.Chunk.DocumentID.String()
	})
}

type queryVectorKey struct{}

type queryVector struct {
	once sync.Once
	vec  []float32
}

func withQueryVector(ctx context.Context) context.Context {
	return context.WithValue(ctx, queryVectorKey{}, &queryVector{})
}

// embedQuery embeds the query at most once per Rank call.
func embedQuery(ctx context.Context, emb QueryEmbedder, query string) []float32 {
	qv, ok := ctx.Value(queryVectorKey{}).(*queryVector)
	if !ok {
		return emb.Embed(ctx, query)
	}
	qv.once.Do(func() { qv.vec = emb.Embed(ctx, query) })
	return qv.vec
}
