package embedder

import (
	"context"
	"fmt"

	"github.com/yungbote/docretrieval-backend/internal/platform/openai"
	"github.com/yungbote/docretrieval-backend/internal/platform/vertex"
)

type openAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider adapts the OpenAI embeddings endpoint
// (data[].embedding ordered by index).
func NewOpenAIProvider(client openai.Client) Provider {
	return &openAIProvider{client: client}
}

func (p *openAIProvider) Name() string { return "openai:" + p.client.EmbedModel() }

func (p *openAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.client.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("openai embeddings: want 1 vector got %d", len(vecs))
	}
	return vecs[0], nil
}

type vertexProvider struct {
	client vertex.Client
}

// NewVertexProvider adapts the Vertex AI predict endpoint
// (predictions[].embeddings.values).
func NewVertexProvider(client vertex.Client) Provider {
	return &vertexProvider{client: client}
}

func (p *vertexProvider) Name() string { return "vertex:" + p.client.Model() }

func (p *vertexProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.client.Embed(ctx, text)
}
