package openai

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"minirag/internal/domain"
	"minirag/internal/vecmath"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "text-embedding-3-small"
	// DefaultBaseURL is the public OpenAI endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"
	// MaxBatchSize is the largest input list sent in one request.
	MaxBatchSize = 100
)

// ErrAPIKeyNotSet is returned when the configured environment variable is empty.
var ErrAPIKeyNotSet = errors.New("embedding API key not set")

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	// APIKey takes precedence over APIKeyEnv when set.
	APIKey    string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// Embedder calls an OpenAI-compatible /embeddings endpoint. Requests are
// not retried.
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
	name      string
}

var _ domain.Embedder = (*Embedder)(nil)

// New creates a new embeddings client using the provided configuration.
func New(cfg Config) (*Embedder, error) {
	key := cfg.APIKey
	if key == "" && cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: set %s", ErrAPIKeyNotSet, cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := openai.NewClient(
		option.WithAPIKey(key),
		option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	)
	return &Embedder{
		client:    client,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		name:      modelName(cfg.BaseURL, cfg.Model, cfg.Dimension),
	}, nil
}

// Name identifies the vectors this embedder produces: the model, suffixed
// with the requested dimension and prefixed with the gateway host when the
// endpoint is not the public OpenAI one.
func (e *Embedder) Name() string { return e.name }

func modelName(baseURL, model string, dimension int) string {
	name := model
	if dimension > 0 {
		name = fmt.Sprintf("%s-%d", name, dimension)
	}
	if strings.TrimSuffix(baseURL, "/") == DefaultBaseURL {
		return name
	}
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host + strings.TrimSuffix(u.Path, "/")
	}
	return host + "/" + name
}

// Encode embeds texts in sub-batches of opts.BatchSize (capped at MaxBatchSize).
func (e *Embedder) Encode(ctx context.Context, texts []string, opts domain.EncodeOptions) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	size := opts.BatchSize
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := e.batch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for _, v := range vecs {
			if opts.Normalize {
				vecmath.Normalize(v)
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (e *Embedder) batch(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}
	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailure, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", domain.ErrEmbeddingFailure, len(resp.Data), len(texts))
	}
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", domain.ErrEmbeddingFailure, d.Index)
		}
		out[i] = vecmath.Float32s(d.Embedding)
	}
	return out, nil
}
