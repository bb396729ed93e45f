package embed_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hupe1980/flatvec/embed"
	"github.com/hupe1980/flatvec/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbeddingResponse builds a minimal OpenAI-compatible embedding response.
func fakeEmbeddingResponse(dim int, texts []string) []byte {
	type embItem struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	}
	type usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	}
	type resp struct {
		Object string    `json:"object"`
		Model  string    `json:"model"`
		Data   []embItem `json:"data"`
		Usage  usage     `json:"usage"`
	}

	data := make([]embItem, len(texts))
	for i := range texts {
		vec := make([]float64, dim)
		for j := range vec {
			vec[j] = float64(i+1) * 0.01 * float64(j+1)
		}
		data[i] = embItem{Object: "embedding", Index: i, Embedding: vec}
	}

	b, _ := json.Marshal(resp{
		Object: "list",
		Model:  "test-model",
		Data:   data,
		Usage:  usage{PromptTokens: 10, TotalTokens: 10},
	})
	return b
}

type fakeServer struct {
	*httptest.Server
	mu     sync.Mutex
	inputs [][]string
}

func (f *fakeServer) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs
}

// newFakeServer creates a test HTTP server that returns fake embeddings.
func newFakeServer(t *testing.T, dim int) *fakeServer {
	t.Helper()
	f := &fakeServer{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.inputs = append(f.inputs, req.Input)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(fakeEmbeddingResponse(dim, req.Input))
	}))
	t.Cleanup(f.Close)
	return f
}

func TestOpenAI_Embed(t *testing.T) {
	const dim = 4
	srv := newFakeServer(t, dim)

	e := embed.NewOpenAI("test-key",
		embed.WithBaseURL(srv.URL),
		embed.WithDimension(dim),
	)
	assert.Equal(t, dim, e.Dimension())
	assert.Equal(t, embed.DefaultModel, e.Model())

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, dim)
	assert.InDelta(t, 0.01, vec[0], 1e-12)
}

func TestOpenAI_EmbedEmpty(t *testing.T) {
	e := embed.NewOpenAI("test-key")

	_, err := e.Embed(context.Background(), "")
	require.ErrorIs(t, err, embed.ErrEmptyInput)

	_, err = e.EmbedBatch(context.Background(), nil)
	require.ErrorIs(t, err, embed.ErrEmptyInput)
}

func TestOpenAI_EmbedBatch_Splits(t *testing.T) {
	const dim = 2
	srv := newFakeServer(t, dim)

	e := embed.NewOpenAI("test-key",
		embed.WithBaseURL(srv.URL),
		embed.WithDimension(dim),
		embed.WithRateLimit(1000, 10),
	)

	texts := make([]string, 25)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}

	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 25)

	calls := srv.calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[0], 10)
	assert.Len(t, calls[2], 5)
	assert.Equal(t, "text-20", calls[2][0])
}

func TestOpenAI_DimensionMismatch(t *testing.T) {
	srv := newFakeServer(t, 3)

	e := embed.NewOpenAI("test-key",
		embed.WithBaseURL(srv.URL),
		embed.WithDimension(4),
	)
	_, err := e.Embed(context.Background(), "hello")
	require.ErrorIs(t, err, embed.ErrUnavailable)
}

func TestOpenAI_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	e := embed.NewOpenAI("test-key", embed.WithBaseURL(srv.URL))
	_, err := e.Embed(context.Background(), "hello")
	require.ErrorIs(t, err, embed.ErrUnavailable)
}

func TestDocumentText(t *testing.T) {
	assert.Equal(t, "hello", embed.DocumentText("hello", nil))

	got := embed.DocumentText("hello", metadata.Document{
		"year":   metadata.Int(2024),
		"author": metadata.String("ann"),
	})
	assert.Equal(t, "hello\n\nMetadata: {\n  \"author\": \"ann\",\n  \"year\": 2024\n}", got)
}

type recordingEmbedder struct {
	texts []string
}

func (r *recordingEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	r.texts = append(r.texts, text)
	return []float64{1, 0}, nil
}

func (r *recordingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i], _ = r.Embed(ctx, text)
	}
	return out, nil
}

func (r *recordingEmbedder) Dimension() int { return 2 }

func TestEmbedDocument(t *testing.T) {
	rec := &recordingEmbedder{}
	vec, err := embed.EmbedDocument(context.Background(), rec, "text", metadata.Document{"k": metadata.Bool(true)})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, vec)
	require.Len(t, rec.texts, 1)
	assert.True(t, strings.HasPrefix(rec.texts[0], "text\n\nMetadata: "))
}
