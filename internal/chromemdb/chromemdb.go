package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"math-tutor/internal/models"
)

var (
	ErrNoChunks           = errors.New("no chunks to index")
	ErrCollectionNotFound = errors.New("collection not found")
	errNoEmbeddingFunc    = errors.New("documents and queries must carry precomputed embeddings")
)

// VectorDBManager holds one in-memory chromem collection of course chunks.
type VectorDBManager struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// Embeddings are always computed by the caller.
func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// NewVectorDBManager initializes an empty in-memory collection.
func NewVectorDBManager(collectionName string) (*VectorDBManager, error) {
	db := chromem.NewDB()
	c, err := db.GetOrCreateCollection(collectionName, nil, refuseEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	return &VectorDBManager{db: db, collection: c}, nil
}

// Build creates a collection holding chunks with their precomputed vectors.
func Build(ctx context.Context, collectionName string, chunks []models.Chunk, vectors [][]float32) (*VectorDBManager, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	m, err := NewVectorDBManager(collectionName)
	if err != nil {
		return nil, err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  chunkMetadata(c),
			Embedding: vectors[i],
		}
	}
	if err := m.CreateDocs(ctx, docs); err != nil {
		return nil, err
	}

	log.Info().Str("collection", collectionName).Int("chunks", m.Len()).Msg("Built vector index")
	return m, nil
}

// CreateDocs adds documents to the collection.
func (m *VectorDBManager) CreateDocs(ctx context.Context, documents []chromem.Document) error {
	if err := m.collection.AddDocuments(ctx, documents, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

func (m *VectorDBManager) Len() int {
	return m.collection.Count()
}

func (m *VectorDBManager) Name() string {
	return m.collection.Name
}

// Search returns up to k chunks most similar to the query vector, best first.
// k larger than the collection is clamped.
func (m *VectorDBManager) Search(ctx context.Context, query []float32, k int) ([]models.RetrievalResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	n := min(k, m.Len())
	if n <= 0 {
		return nil, nil
	}

	results, err := m.collection.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]models.RetrievalResult, len(results))
	for i, r := range results {
		out[i] = models.RetrievalResult{
			Chunk: chunkFromResult(r.ID, r.Content, r.Metadata),
			Score: r.Similarity,
		}
	}
	return out, nil
}

// Export writes the collection to filePath. An empty encryption key leaves
// the file unencrypted.
func (m *VectorDBManager) Export(filePath string, compress bool, encryptionKey string) error {
	log.Debug().Str("collection", m.collection.Name).Str("path", filePath).Bool("compress", compress).Msg("Exporting vector index")
	if err := m.db.ExportToFile(filePath, compress, encryptionKey, m.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads a collection previously written by Export.
func Import(filePath, collectionName, encryptionKey string) (*VectorDBManager, error) {
	db := chromem.NewDB()
	if err := db.ImportFromFile(filePath, encryptionKey, collectionName); err != nil {
		return nil, fmt.Errorf("failed to import database: %w", err)
	}
	c := db.GetCollection(collectionName, refuseEmbedding)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionName)
	}
	return &VectorDBManager{db: db, collection: c}, nil
}

func chunkMetadata(c models.Chunk) map[string]string {
	return map[string]string{
		models.MetaSource:  c.Source,
		models.MetaPage:    strconv.Itoa(c.Page),
		models.MetaOrdinal: strconv.Itoa(c.Ordinal),
	}
}

func chunkFromResult(id, content string, meta map[string]string) models.Chunk {
	page, _ := strconv.Atoi(meta[models.MetaPage])
	ordinal, _ := strconv.Atoi(meta[models.MetaOrdinal])
	return models.Chunk{
		ID:      id,
		Source:  meta[models.MetaSource],
		Page:    page,
		Ordinal: ordinal,
		Content: content,
	}
}
