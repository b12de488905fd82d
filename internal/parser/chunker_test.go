package parser

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-tutor/internal/config"
	"math-tutor/internal/models"
)

// getCompleteContent rebuilds the text of consecutive window chunks by
// dropping the overlapping prefix of every chunk after the first.
func getCompleteContent(chunks []string, overlapChars int) string {
	var content strings.Builder
	for i, chunk := range chunks {
		if i == 0 {
			content.WriteString(chunk)
			continue
		}
		runes := []rune(chunk)
		if len(runes) > overlapChars {
			content.WriteString(string(runes[overlapChars:]))
		}
	}
	return content.String()
}

func sampleText(n int) string {
	var b strings.Builder
	words := []string{"limit", "derivative", "x²", "continuity", "f(x)", "∫", "slope"}
	for i := 0; b.Len() < n; i++ {
		b.WriteString(words[i%len(words)])
		b.WriteByte(' ')
	}
	return b.String()
}

func TestChunkContent_WindowInvariants(t *testing.T) {
	text := sampleText(5000)
	chunks := chunkContent(text, 1000, 200)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 1000, "chunk %d too long", i)
		if i == 0 {
			continue
		}
		prev := []rune(chunks[i-1])
		cur := []rune(c)
		assert.Equal(t, string(prev[len(prev)-200:]), string(cur[:200]), "chunk %d overlap", i)
	}
	assert.Equal(t, text, getCompleteContent(chunks, 200))
}

func TestChunkContent_EdgeCases(t *testing.T) {
	assert.Nil(t, chunkContent("", 10, 2))
	assert.Nil(t, chunkContent("   \n\t ", 10, 2))
	assert.Nil(t, chunkContent("abc", 0, 0))
	assert.Equal(t, []string{"short"}, chunkContent("short", 10, 2))

	// overlap >= size is clamped to half the window
	chunks := chunkContent("abcdefghij", 4, 10)
	assert.Equal(t, []string{"abcd", "cdef", "efgh", "ghij"}, chunks)
}

func TestSplitter_Split(t *testing.T) {
	s := NewSplitter(&config.RAGConfig{ChunkSize: 100, ChunkOverlap: 20, Splitter: StrategyWindow})
	pages := []models.PageDocument{
		{Source: "4.1.pdf", Path: "ch4/4.1.pdf", Page: 1, Content: sampleText(250)},
		{Source: "4.2.pdf", Path: "4.2.pdf", Page: 3, Content: "tiny page"},
	}

	chunks := s.Split(pages)
	require.NotEmpty(t, chunks)

	seen := map[string]bool{}
	for _, c := range chunks {
		assert.False(t, seen[c.ID], "duplicate id %s", c.ID)
		seen[c.ID] = true
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 100)
	}
	assert.Equal(t, "4.1.pdf", chunks[0].Source)
	assert.Equal(t, "ch4/4.1.pdf#p1#c1", chunks[0].ID)

	last := chunks[len(chunks)-1]
	assert.Equal(t, "4.2.pdf", last.Source)
	assert.Equal(t, 3, last.Page)
	assert.Equal(t, "tiny page", last.Content)
}

func TestSplitter_Recursive(t *testing.T) {
	s := NewSplitter(&config.RAGConfig{ChunkSize: 100, ChunkOverlap: 20, Splitter: StrategyRecursive})
	chunks := s.Split([]models.PageDocument{{Source: "a.pdf", Page: 1, Content: sampleText(400)}})
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Equal(t, "a.pdf", c.Source)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 100)
	}
}

func TestSplitter_Empty(t *testing.T) {
	s := NewSplitter(nil)
	assert.Empty(t, s.Split(nil))
	assert.Empty(t, s.Split([]models.PageDocument{{Source: "a.pdf", Page: 1, Content: "  "}}))
}
