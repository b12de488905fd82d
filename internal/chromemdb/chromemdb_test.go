package chromemdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-tutor/internal/models"
)

func testChunks() ([]models.Chunk, [][]float32) {
	chunks := []models.Chunk{
		{ID: "4.1.pdf#p1#c1", Source: "4.1.pdf", Page: 1, Ordinal: 1, Content: "quadratic formula"},
		{ID: "4.1.pdf#p2#c1", Source: "4.1.pdf", Page: 2, Ordinal: 1, Content: "completing the square"},
		{ID: "4.2.pdf#p1#c1", Source: "4.2.pdf", Page: 1, Ordinal: 1, Content: "limits at infinity"},
		{ID: "4.3.pdf#p5#c2", Source: "4.3.pdf", Page: 5, Ordinal: 2, Content: "chain rule"},
	}
	vectors := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	return chunks, vectors
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(context.Background(), "c", nil, nil)
	assert.ErrorIs(t, err, ErrNoChunks)

	chunks, vectors := testChunks()
	_, err = Build(context.Background(), "c", chunks, vectors[:2])
	assert.Error(t, err)
}

func TestSearch_RanksAndClamps(t *testing.T) {
	ctx := context.Background()
	chunks, vectors := testChunks()
	m, err := Build(ctx, "course", chunks, vectors)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Len())
	assert.Equal(t, "course", m.Name())

	results, err := m.Search(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "4.1.pdf#p1#c1", results[0].Chunk.ID)
	assert.Equal(t, "4.1.pdf#p2#c1", results[1].Chunk.ID)
	assert.Equal(t, "4.1.pdf", results[0].Chunk.Source)
	assert.Equal(t, 2, results[1].Chunk.Page)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	results, err = m.Search(ctx, []float32{0, 0, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 4)
	assert.Equal(t, "chain rule", results[0].Chunk.Content)
	assert.Equal(t, 2, results[0].Chunk.Ordinal)

	_, err = m.Search(ctx, nil, 3)
	assert.Error(t, err)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	chunks, vectors := testChunks()
	m, err := Build(ctx, "course", chunks, vectors)
	require.NoError(t, err)

	key := "0123456789abcdef0123456789abcdef"
	path := filepath.Join(t.TempDir(), "index.gob")
	require.NoError(t, m.Export(path, true, key))

	loaded, err := Import(path, "course", key)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Len())

	results, err := loaded.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "limits at infinity", results[0].Chunk.Content)

	_, err = Import(path, "other", key)
	assert.Error(t, err)

	_, err = Import(filepath.Join(t.TempDir(), "missing.gob"), "course", "")
	assert.Error(t, err)
}
