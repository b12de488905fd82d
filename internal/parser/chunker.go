package parser

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"

	"math-tutor/internal/config"
	"math-tutor/internal/models"
)

const (
	defaultChunkSize    = 1000 // characters
	defaultChunkOverlap = 200  // characters
)

const (
	StrategyWindow    = "window"
	StrategyRecursive = "recursive"
)

// Splitter cuts page documents into overlapping chunks.
type Splitter struct {
	size     int
	overlap  int
	strategy string
}

// NewSplitter builds a splitter from the RAG config, falling back to the
// defaults for unset values.
func NewSplitter(cfg *config.RAGConfig) *Splitter {
	s := &Splitter{size: defaultChunkSize, overlap: defaultChunkOverlap, strategy: StrategyWindow}
	if cfg == nil {
		return s
	}
	if cfg.ChunkSize > 0 {
		s.size = cfg.ChunkSize
	}
	if cfg.ChunkOverlap >= 0 && cfg.ChunkOverlap < s.size {
		s.overlap = cfg.ChunkOverlap
	}
	if cfg.Splitter == StrategyRecursive {
		s.strategy = StrategyRecursive
	}
	return s
}

// Split chunks every page and stamps each chunk with its page's source.
func (s *Splitter) Split(pages []models.PageDocument) []models.Chunk {
	var chunks []models.Chunk
	for _, page := range pages {
		pieces, err := s.splitText(page.Content)
		if err != nil {
			log.Error().Err(err).Str("source", page.Source).Int("page", page.Page).Msg("Error splitting page")
			continue
		}
		key := page.Path
		if key == "" {
			key = page.Source
		}
		for i, piece := range pieces {
			chunks = append(chunks, models.Chunk{
				ID:      models.ChunkID(key, page.Page, i+1),
				Source:  page.Source,
				Page:    page.Page,
				Ordinal: i + 1,
				Content: piece,
			})
		}
	}
	if len(chunks) == 0 {
		log.Warn().Int("pages", len(pages)).Msg("No chunks generated from content")
	}
	return chunks
}

func (s *Splitter) splitText(text string) ([]string, error) {
	if s.strategy == StrategyRecursive {
		splitter := textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(s.size),
			textsplitter.WithChunkOverlap(s.overlap),
		)
		pieces, err := splitter.SplitText(text)
		if err != nil {
			return nil, fmt.Errorf("recursive split: %w", err)
		}
		return pieces, nil
	}
	return chunkContent(text, s.size, s.overlap), nil
}

// chunkContent slides a window of maxChars runes over content, advancing by
// maxChars-overlapChars, so neighbouring chunks share exactly overlapChars runes.
func chunkContent(content string, maxChars, overlapChars int) []string {
	if maxChars <= 0 {
		return nil
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	runes := []rune(content)
	contentLen := len(runes)
	if contentLen <= maxChars {
		return []string{content}
	}

	var chunks []string
	step := maxChars - overlapChars
	for start := 0; start < contentLen; start += step {
		end := min(start+maxChars, contentLen)
		chunks = append(chunks, string(runes[start:end]))
		if end == contentLen {
			break
		}
	}
	return chunks
}
