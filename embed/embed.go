// Package embed provides the text embedding collaborator of the host service.
//
// An Embedder converts text into dense vectors. The engine never calls it;
// the server embeds documents and queries before handing vectors to a store.
//
// # Quick Start
//
//	e := embed.NewOpenAI("sk-xxx", embed.WithModel("text-embedding-v3"))
//	vec, err := e.Embed(ctx, "hello world")
package embed

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hupe1980/flatvec/metadata"
)

// Embedder converts text into dense float64 vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch returns embedding vectors for multiple texts.
	// Implementations may split large batches into smaller API calls
	// transparently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimension returns the dimensionality of the output vectors.
	Dimension() int
}

// Common errors.
var (
	// ErrEmptyInput is returned when the input text is empty.
	ErrEmptyInput = errors.New("embed: empty input")

	// ErrUnavailable is returned when the embedding API fails or answers
	// with an unusable response.
	ErrUnavailable = errors.New("embed: embedding unavailable")
)

// DocumentText returns the text embedded for a document: the text itself,
// followed by its metadata as indented JSON when there is any.
func DocumentText(text string, md metadata.Document) string {
	if len(md) == 0 {
		return text
	}
	b, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return text
	}
	return text + "\n\nMetadata: " + string(b)
}

// EmbedDocument embeds text together with its metadata.
func EmbedDocument(ctx context.Context, e Embedder, text string, md metadata.Document) ([]float64, error) {
	return e.Embed(ctx, DocumentText(text, md))
}
