package embed

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// Defaults target Aliyun DashScope's OpenAI-compatible endpoint.
const (
	DefaultBaseURL   = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultModel     = "text-embedding-v3"
	DefaultDimension = 1024
	defaultMaxBatch  = 10
)

// OpenAI implements [Embedder] against any OpenAI-compatible embedding API.
type OpenAI struct {
	client   *openai.Client
	model    string
	dim      int
	maxBatch int
	limiter  *rate.Limiter
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI creates an embedder. Without options it talks to DashScope.
func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	cfg := config{
		model:      DefaultModel,
		dim:        DefaultDimension,
		baseURL:    DefaultBaseURL,
		maxBatch:   defaultMaxBatch,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(&cfg)
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.baseURL),
		option.WithHTTPClient(cfg.httpClient),
		option.WithMaxRetries(2),
	)

	return &OpenAI{
		client:   &client,
		model:    cfg.model,
		dim:      cfg.dim,
		maxBatch: cfg.maxBatch,
		limiter:  cfg.limiter,
	}
}

// Embed returns the embedding for a single text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for multiple texts, split into API calls of
// at most maxBatch texts.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	result := make([][]float64, len(texts))
	for i := 0; i < len(texts); i += o.maxBatch {
		end := min(i+o.maxBatch, len(texts))

		vecs, err := o.callAPI(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", i, end, err)
		}
		copy(result[i:], vecs)
	}
	return result, nil
}

// Dimension returns the configured vector dimensionality.
func (o *OpenAI) Dimension() int {
	return o.dim
}

// Model returns the model identifier.
func (o *OpenAI) Model() string {
	return o.model
}

func (o *OpenAI) callAPI(ctx context.Context, texts []string) ([][]float64, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := openai.EmbeddingNewParams{
		Model:          o.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if o.dim > 0 {
		params.Dimensions = openai.Int(int64(o.dim))
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	vecs := make([][]float64, len(texts))
	for _, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= int64(len(texts)) {
			return nil, fmt.Errorf("%w: unexpected embedding index %d for batch size %d", ErrUnavailable, idx, len(texts))
		}
		if o.dim > 0 && len(item.Embedding) != o.dim {
			return nil, fmt.Errorf("%w: embedding has %d dimensions, want %d", ErrUnavailable, len(item.Embedding), o.dim)
		}
		vecs[idx] = item.Embedding
	}

	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding for index %d", ErrUnavailable, i)
		}
	}
	return vecs, nil
}
