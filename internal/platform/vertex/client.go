package vertex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/aiplatform/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/yungbote/docretrieval-backend/internal/platform/envutil"
	"github.com/yungbote/docretrieval-backend/internal/platform/gcp"
	"github.com/yungbote/docretrieval-backend/internal/platform/httpx"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

// Client calls the Vertex AI text-embedding predict endpoint.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

type Config struct {
	ProjectID string
	Location  string
	Model     string
	// TaskType is the embedding task hint, e.g. RETRIEVAL_DOCUMENT.
	TaskType   string
	Dimensions int
	Timeout    time.Duration
	// Endpoint overrides the regional endpoint (tests, private service connect).
	Endpoint string
}

func ConfigFromEnv() Config {
	return Config{
		ProjectID: envutil.String("VERTEX_PROJECT_ID", envutil.String("GCP_PROJECT_ID", "")),
		Location:  envutil.String("VERTEX_LOCATION", "us-central1"),
		Model:     envutil.String("VERTEX_EMBED_MODEL", "text-embedding-005"),
		TaskType:  envutil.String("VERTEX_EMBED_TASK_TYPE", "RETRIEVAL_DOCUMENT"),
		Timeout:   envutil.Duration("VERTEX_TIMEOUT", 30*time.Second),
	}
}

type client struct {
	log      *logger.Logger
	svc      *aiplatform.Service
	resource string
	model    string
	taskType string
	dims     int
	timeout  time.Duration
}

func NewClient(ctx context.Context, log *logger.Logger, cfg Config, extra ...option.ClientOption) (Client, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, fmt.Errorf("missing VERTEX_PROJECT_ID")
	}
	if cfg.Location == "" {
		cfg.Location = "us-central1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-005"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s-aiplatform.googleapis.com/", cfg.Location)
	}
	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, gcp.ClientOptionsFromEnv()...)
	opts = append(opts, extra...)
	svc, err := aiplatform.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aiplatform service: %w", err)
	}
	return &client{
		log:      log.With("service", "VertexEmbeddings"),
		svc:      svc,
		resource: fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", cfg.ProjectID, cfg.Location, cfg.Model),
		model:    cfg.Model,
		taskType: cfg.TaskType,
		dims:     cfg.Dimensions,
		timeout:  cfg.Timeout,
	}, nil
}

func (c *client) Model() string { return c.model }

type prediction struct {
	Embeddings struct {
		Values []float64 `json:"values"`
	} `json:"embeddings"`
}

func (c *client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	instance := map[string]any{"content": text}
	if c.taskType != "" {
		instance["task_type"] = c.taskType
	}
	req := &aiplatform.GoogleCloudAiplatformV1PredictRequest{Instances: []any{instance}}
	if c.dims > 0 {
		req.Parameters = map[string]any{"outputDimensionality": c.dims}
	}

	resp, err := c.svc.Projects.Locations.Endpoints.Predict(c.resource, req).Context(ctx).Do()
	if err != nil {
		if gerr, ok := err.(*googleapi.Error); ok {
			return nil, &httpx.StatusError{Service: "vertex", StatusCode: gerr.Code, Body: gerr.Message}
		}
		return nil, fmt.Errorf("vertex predict: %w", err)
	}
	return decodePrediction(resp.Predictions)
}

// decodePrediction reads predictions[0].embeddings.values. Predictions come
// back as untyped JSON, so they are round-tripped into a typed struct.
func decodePrediction(preds []any) ([]float32, error) {
	if len(preds) == 0 {
		return nil, fmt.Errorf("vertex predict: no predictions")
	}
	raw, err := json.Marshal(preds[0])
	if err != nil {
		return nil, fmt.Errorf("vertex predict: re-encode prediction: %w", err)
	}
	var p prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("vertex predict: decode prediction: %w", err)
	}
	if len(p.Embeddings.Values) == 0 {
		return nil, fmt.Errorf("vertex predict: empty embedding")
	}
	out := make([]float32, len(p.Embeddings.Values))
	for i, v := range p.Embeddings.Values {
		out[i] = float32(v)
	}
	return out, nil
}
