package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"math-tutor/internal/config"
	"math-tutor/internal/metrics"
	"math-tutor/internal/models"
)

// ErrNotConfigured is returned when no embedding model could be set up.
var ErrNotConfigured = errors.New("embedding model not configured")

// NewEmbedder creates an embedder for the OpenAI-compatible embeddings API.
// A missing key is reported as config.ErrMissingAPIKey.
func NewEmbedder(cfg *config.EmbedConfig) (embeddings.Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Loaded embedder config")

	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(cfg.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &instrumented{inner: embedder}, nil
}

// instrumented records call metrics around an embedder.
type instrumented struct {
	inner embeddings.Embedder
}

func (e *instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := e.inner.EmbedDocuments(ctx, texts)
	metrics.ObserveRemoteCall("embed_documents", start, err)
	return vectors, err
}

func (e *instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vector, err := e.inner.EmbedQuery(ctx, text)
	metrics.ObserveRemoteCall("embed_query", start, err)
	return vector, err
}

// EmbedChunks embeds every chunk and returns one vector per chunk, in order.
func EmbedChunks(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks to embed")
		return nil, nil
	}
	if embedder == nil {
		return nil, ErrNotConfigured
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	log.Info().Int("chunks", len(chunks)).Int("dimensions", len(vectors[0])).Msg("Generated embeddings")
	return vectors, nil
}
