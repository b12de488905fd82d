package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"gopkg.in/yaml.v3"

	"math-tutor/internal/chromemdb"
	"math-tutor/internal/config"
	"math-tutor/internal/db"
	"math-tutor/internal/models"
)

// ErrNotFound is returned by Persister.Load when nothing has been saved yet.
var ErrNotFound = errors.New("persisted index not found")

// Manifest describes the document set an index was built from.
type Manifest struct {
	Fingerprint    string    `yaml:"fingerprint"`
	Documents      int       `yaml:"documents"`
	Chunks         int       `yaml:"chunks"`
	EmbeddingModel string    `yaml:"embedding_model"`
	BuiltAt        time.Time `yaml:"built_at"`
}

// Snapshot is everything a persister may need to store a freshly built index.
type Snapshot struct {
	Index    *chromemdb.VectorDBManager
	Chunks   []models.Chunk
	Vectors  [][]float32
	Manifest Manifest
}

type Persister interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context) (*chromemdb.VectorDBManager, *Manifest, error)
	Close() error
}

// OpenPersister builds the persister selected by rag.persist.
func OpenPersister(ctx context.Context, cfg *config.Config) (Persister, error) {
	switch cfg.RAG.Persist {
	case "postgres":
		bunDB, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		return NewPostgresPersister(ctx, bunDB, cfg.RAG.CollectionName)
	default:
		return NewFilePersister(&cfg.RAG), nil
	}
}

// FilePersister stores the index as a single chromem export with a YAML
// manifest next to it.
type FilePersister struct {
	path          string
	collection    string
	compress      bool
	encryptionKey string
}

func NewFilePersister(cfg *config.RAGConfig) *FilePersister {
	return &FilePersister{
		path:          cfg.IndexPath,
		collection:    cfg.CollectionName,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
	}
}

func (p *FilePersister) manifestPath() string {
	return p.path + ".manifest.yaml"
}

// Save overwrites any previous index file and manifest.
func (p *FilePersister) Save(_ context.Context, snap *Snapshot) error {
	if snap.Index == nil {
		return fmt.Errorf("nothing to save")
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}
	if err := snap.Index.Export(p.path, p.compress, p.encryptionKey); err != nil {
		return err
	}

	data, err := yaml.Marshal(&snap.Manifest)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(p.manifestPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	log.Info().Str("path", p.path).Int("chunks", snap.Manifest.Chunks).Msg("Vector store saved")
	return nil
}

// Load reads the saved index. A missing manifest yields an empty one, which
// never matches a known fingerprint.
func (p *FilePersister) Load(_ context.Context) (*chromemdb.VectorDBManager, *Manifest, error) {
	if _, err := os.Stat(p.path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrNotFound
	}

	idx, err := chromemdb.Import(p.path, p.collection, p.encryptionKey)
	if err != nil {
		return nil, nil, err
	}

	manifest := &Manifest{}
	data, err := os.ReadFile(p.manifestPath())
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, manifest); err != nil {
			log.Warn().Err(err).Str("path", p.manifestPath()).Msg("Ignoring unreadable index manifest")
			manifest = &Manifest{}
		}
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Str("path", p.manifestPath()).Msg("Index manifest missing")
	default:
		return nil, nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return idx, manifest, nil
}

func (p *FilePersister) Close() error { return nil }

// PostgresPersister stores chunks and vectors in a pgvector table and
// rebuilds the in-memory index from the rows on load.
type PostgresPersister struct {
	db         *bun.DB
	collection string
}

func NewPostgresPersister(ctx context.Context, bunDB *bun.DB, collection string) (*PostgresPersister, error) {
	if err := db.InitDB(ctx, bunDB); err != nil {
		bunDB.Close()
		return nil, err
	}
	return &PostgresPersister{db: bunDB, collection: collection}, nil
}

func (p *PostgresPersister) Save(ctx context.Context, snap *Snapshot) error {
	records, err := db.ToRecords(p.collection, snap.Chunks, snap.Vectors)
	if err != nil {
		return err
	}
	manifest := &db.ManifestRecord{
		Collection:     p.collection,
		Fingerprint:    snap.Manifest.Fingerprint,
		Documents:      snap.Manifest.Documents,
		Chunks:         snap.Manifest.Chunks,
		EmbeddingModel: snap.Manifest.EmbeddingModel,
		BuiltAt:        snap.Manifest.BuiltAt,
	}
	if err := db.ReplaceChunks(ctx, p.db, records, manifest); err != nil {
		return err
	}
	log.Info().Str("collection", p.collection).Int("chunks", len(records)).Msg("Vector store saved to postgres")
	return nil
}

func (p *PostgresPersister) Load(ctx context.Context) (*chromemdb.VectorDBManager, *Manifest, error) {
	rec, err := db.LoadManifest(ctx, p.db, p.collection)
	if errors.Is(err, db.ErrNoManifest) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	records, err := db.LoadChunks(ctx, p.db, p.collection)
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, ErrNotFound
	}

	chunks, vectors := db.FromRecords(records)
	idx, err := chromemdb.Build(ctx, p.collection, chunks, vectors)
	if err != nil {
		return nil, nil, err
	}
	return idx, &Manifest{
		Fingerprint:    rec.Fingerprint,
		Documents:      rec.Documents,
		Chunks:         rec.Chunks,
		EmbeddingModel: rec.EmbeddingModel,
		BuiltAt:        rec.BuiltAt,
	}, nil
}

func (p *PostgresPersister) Close() error {
	return p.db.Close()
}
