package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"math-tutor/internal/config"
	"math-tutor/internal/models"
)

// ErrNoManifest is returned when no index has been stored under a name yet.
var ErrNoManifest = errors.New("no stored index manifest")

// ChunkRecord is one indexed chunk with its embedding.
type ChunkRecord struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	Collection    string          `bun:"collection,pk"`
	ID            string          `bun:"id,pk"`
	Source        string          `bun:"source,notnull"`
	Page          int             `bun:"page,notnull"`
	Ordinal       int             `bun:"ordinal,notnull"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
}

// ManifestRecord describes the stored index of one collection.
type ManifestRecord struct {
	bun.BaseModel  `bun:"table:index_manifests,alias:m"`
	Collection     string    `bun:"collection,pk"`
	Fingerprint    string    `bun:"fingerprint"`
	Documents      int       `bun:"documents,notnull"`
	Chunks         int       `bun:"chunks,notnull"`
	EmbeddingModel string    `bun:"embedding_model"`
	BuiltAt        time.Time `bun:"built_at,notnull"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a bun handle for the configured Postgres URL.
func ConnectDB(cfg *config.DatabaseConfig) (*bun.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.URL)))
	return NewDB(sqldb, cfg.Debug), nil
}

// InitDB enables pgvector and creates the tables when missing.
func InitDB(ctx context.Context, db bun.IDB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	for _, model := range []any{(*ChunkRecord)(nil), (*ManifestRecord)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// ReplaceChunks swaps the stored chunks and manifest of a collection in one transaction.
func ReplaceChunks(ctx context.Context, db *bun.DB, records []ChunkRecord, manifest *ManifestRecord) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*ChunkRecord)(nil)).
			Where("collection = ?", manifest.Collection).
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to clear chunks: %w", err)
		}
		if len(records) > 0 {
			if _, err := tx.NewInsert().Model(&records).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert chunks: %w", err)
			}
		}
		if _, err := tx.NewInsert().
			Model(manifest).
			On("CONFLICT (collection) DO UPDATE").
			Set("fingerprint = EXCLUDED.fingerprint").
			Set("documents = EXCLUDED.documents").
			Set("chunks = EXCLUDED.chunks").
			Set("embedding_model = EXCLUDED.embedding_model").
			Set("built_at = EXCLUDED.built_at").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to upsert manifest: %w", err)
		}
		return nil
	})
}

// LoadChunks returns the stored chunks of a collection in id order.
func LoadChunks(ctx context.Context, db bun.IDB, collection string) ([]ChunkRecord, error) {
	var records []ChunkRecord
	err := db.NewSelect().
		Model(&records).
		Where("collection = ?", collection).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	return records, nil
}

func LoadManifest(ctx context.Context, db bun.IDB, collection string) (*ManifestRecord, error) {
	manifest := new(ManifestRecord)
	err := db.NewSelect().Model(manifest).Where("collection = ?", collection).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoManifest
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	return manifest, nil
}

// ToRecords pairs chunks with their vectors for storage.
func ToRecords(collection string, chunks []models.Chunk, vectors [][]float32) ([]ChunkRecord, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	records := make([]ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = ChunkRecord{
			ID:         c.ID,
			Collection: collection,
			Source:     c.Source,
			Page:       c.Page,
			Ordinal:    c.Ordinal,
			Content:    c.Content,
			Embedding:  pgvector.NewVector(vectors[i]),
		}
	}
	return records, nil
}

// FromRecords is the inverse of ToRecords.
func FromRecords(records []ChunkRecord) ([]models.Chunk, [][]float32) {
	chunks := make([]models.Chunk, len(records))
	vectors := make([][]float32, len(records))
	for i, r := range records {
		chunks[i] = models.Chunk{
			ID:      r.ID,
			Source:  r.Source,
			Page:    r.Page,
			Ordinal: r.Ordinal,
			Content: r.Content,
		}
		vectors[i] = r.Embedding.Slice()
	}
	return chunks, vectors
}
