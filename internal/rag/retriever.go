package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"

	"math-tutor/internal/chromemdb"
	"math-tutor/internal/embedding"
	"math-tutor/internal/metrics"
	"math-tutor/internal/models"
)

const DefaultTopK = 3

// ErrNoIndex means no vector index has been loaded or built.
var ErrNoIndex = errors.New("no vector store loaded")

// IndexSource hands out the current index, nil when there is none.
type IndexSource interface {
	Current() *chromemdb.VectorDBManager
}

type Retriever struct {
	index    IndexSource
	embedder embeddings.Embedder
	k        int
}

func NewRetriever(index IndexSource, embedder embeddings.Embedder, k int) *Retriever {
	if k <= 0 {
		k = DefaultTopK
	}
	return &Retriever{index: index, embedder: embedder, k: k}
}

// Retrieve returns up to k chunks for text, most similar first.
func (r *Retriever) Retrieve(ctx context.Context, text string) ([]models.RetrievalResult, error) {
	idx := r.index.Current()
	if idx == nil {
		return nil, ErrNoIndex
	}

	if r.embedder == nil {
		return nil, embedding.ErrNotConfigured
	}
	vec, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := idx.Search(ctx, vec, r.k)
	if err != nil {
		return nil, err
	}
	metrics.RetrievedChunks.Observe(float64(len(results)))
	return results, nil
}
