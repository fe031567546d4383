// Package embedder turns text into fixed-width vectors. Provider failures
// never surface to callers: a deterministic local embedding is substituted.
package embedder

import (
	"context"
	"crypto/sha256"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

const (
	DefaultDimensions  = 128
	DefaultConcurrency = 8
)

// Provider is one remote embedding backend.
type Provider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	Enabled     bool
	Dimensions  int
	Concurrency int
	// RateLimit caps provider calls per second; zero means unlimited.
	RateLimit float64
	Burst     int
}

type Embedder struct {
	log         *logger.Logger
	provider    Provider
	enabled     bool
	dims        int
	concurrency int
	limiter     *rate.Limiter
}

// New fixes the enabled flag for the lifetime of the embedder: it is true only
// when cfg.Enabled is set and a provider is supplied.
func New(log *logger.Logger, provider Provider, cfg Config) *Embedder {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	e := &Embedder{
		provider:    provider,
		enabled:     cfg.Enabled && provider != nil,
		dims:        cfg.Dimensions,
		concurrency: cfg.Concurrency,
	}
	name := "local"
	if provider != nil {
		name = provider.Name()
	}
	e.log = log.With("service", "Embedder", "provider", name)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.RateLimit))
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return e
}

func (e *Embedder) IsEnabled() bool { return e.enabled }

func (e *Embedder) Dimensions() int { return e.dims }

// Embed returns a vector of exactly Dimensions() values. When the provider is
// disabled, fails, or returns an unusable vector, the local embedding is
// returned instead.
func (e *Embedder) Embed(ctx context.Context, text string) []float32 {
	if !e.enabled {
		return LocalEmbedding(text, e.dims)
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			e.log.Warn("embedding rate limiter wait failed; using local embedding", "error", err)
			return LocalEmbedding(text, e.dims)
		}
	}
	vec, err := e.provider.Embed(ctx, text)
	switch {
	case err != nil:
		e.log.Warn("embedding provider failed; using local embedding", "error", err)
	case len(vec) == 0:
		e.log.Warn("embedding provider returned empty vector; using local embedding")
	case len(vec) != e.dims:
		e.log.Warn("embedding provider returned wrong dimension; using local embedding", "want", e.dims, "got", len(vec))
	default:
		return vec
	}
	return LocalEmbedding(text, e.dims)
}

// EmbedBatch embeds texts concurrently and returns vectors in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if !e.enabled {
		for i, t := range texts {
			out[i] = LocalEmbedding(t, e.dims)
		}
		return out
	}
	// Embed never fails, so the group only bounds concurrency.
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, t := range texts {
		g.Go(func() error {
			out[i] = e.Embed(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// LocalEmbedding derives a deterministic vector from the SHA-256 digest of
// text: byte b maps to (b-128)/128, repeated cyclically to dims values.
func LocalEmbedding(text string, dims int) []float32 {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	sum := sha256.Sum256([]byte(text))
	out := make([]float32, dims)
	for i := range out {
		out[i] = (float32(sum[i%len(sum)]) - 128) / 128
	}
	return out
}
