package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"math-tutor/internal/llmservice"
	"math-tutor/internal/models"
)

// Assistant answers student prompts from the top retrieved chunks.
type Assistant struct {
	retriever   *Retriever
	client      *llmservice.Client
	temperature float64
	maxHistory  int
}

func NewAssistant(retriever *Retriever, client *llmservice.Client, temperature float64, maxHistory int) *Assistant {
	return &Assistant{
		retriever:   retriever,
		client:      client,
		temperature: temperature,
		maxHistory:  maxHistory,
	}
}

// Answer retrieves context for prompt, places all of it in the system
// message and asks the chat model, replaying the most recent history turns.
func (a *Assistant) Answer(ctx context.Context, prompt string, history []models.Turn) (*models.Answer, error) {
	results, err := a.retriever.Retrieve(ctx, prompt)
	if err != nil {
		log.Warn().Err(err).Msg("Retrieval failed")
		return nil, err
	}

	system := render(models.SystemPromptTemplate, map[string]any{"context": stuffContext(results)})
	if a.maxHistory > 0 && len(history) > a.maxHistory {
		history = history[len(history)-a.maxHistory:]
	}

	text, err := a.client.Complete(ctx, llmservice.BuildMessages(system, history, prompt), a.temperature)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get answer")
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}

	return &models.Answer{
		Text:    strings.TrimSpace(text),
		Sources: uniqueSources(results),
	}, nil
}

func stuffContext(results []models.RetrievalResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Chunk.Content)
	}
	return strings.Join(parts, models.ContextSeparator)
}

func uniqueSources(results []models.RetrievalResult) []string {
	seen := make(map[string]struct{}, len(results))
	sources := make([]string, 0, len(results))
	for _, r := range results {
		src := r.Chunk.Source
		if src == "" {
			src = "Unknown"
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		sources = append(sources, src)
	}
	sort.Strings(sources)
	return sources
}

// FormatWithSources renders an answer followed by its source list. A nil
// answer renders as the generic apology.
func FormatWithSources(ans *models.Answer) string {
	if ans == nil {
		return models.FallbackAnswer
	}
	if len(ans.Sources) == 0 {
		return ans.Text
	}
	var b strings.Builder
	b.WriteString(ans.Text)
	b.WriteString(models.SourcesHeader)
	for i, src := range ans.Sources {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(src)
	}
	return b.String()
}
