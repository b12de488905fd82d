package index

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/sync/singleflight"

	"math-tutor/internal/chromemdb"
	"math-tutor/internal/embedding"
	"math-tutor/internal/metrics"
	"math-tutor/internal/objectstore"
	"math-tutor/internal/parser"
)

// Source is where course materials come from. A Manager without one only
// serves the persisted index.
type Source interface {
	Fingerprint(ctx context.Context) (string, error)
	Download(ctx context.Context) (*objectstore.DownloadResult, error)
	DownloadsDir() string
}

// ErrNoSource means there is no object store to build an index from.
var ErrNoSource = errors.New("no object store configured")

// PartialPrefix marks the fingerprint of an index built while some source
// documents failed to download.
const PartialPrefix = "partial:"

// Manager owns the process-wide vector index handle.
type Manager struct {
	source         Source
	embedder       embeddings.Embedder
	splitter       *parser.Splitter
	persister      Persister
	collection     string
	embeddingModel string

	group   singleflight.Group
	buildMu sync.Mutex

	mu       sync.RWMutex
	current  *chromemdb.VectorDBManager
	manifest *Manifest
}

type ManagerOptions struct {
	Collection     string
	EmbeddingModel string
}

func NewManager(source Source, embedder embeddings.Embedder, splitter *parser.Splitter, persister Persister, opts ManagerOptions) *Manager {
	return &Manager{
		source:         source,
		embedder:       embedder,
		splitter:       splitter,
		persister:      persister,
		collection:     opts.Collection,
		embeddingModel: opts.EmbeddingModel,
	}
}

// Current returns the loaded index, or nil before the first successful load.
func (m *Manager) Current() *chromemdb.VectorDBManager {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Manifest describes the current index, or nil.
func (m *Manager) Manifest() *Manifest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.manifest == nil {
		return nil
	}
	cp := *m.manifest
	return &cp
}

func (m *Manager) set(idx *chromemdb.VectorDBManager, manifest *Manifest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = idx
	m.manifest = manifest
}

// LoadOrCreate returns the cached index, the persisted one when it still
// matches the source documents, or a freshly built one. A nil index with a
// nil error means there was nothing to index. Concurrent callers share one
// load, and builds never overlap.
func (m *Manager) LoadOrCreate(ctx context.Context, force bool) (*chromemdb.VectorDBManager, error) {
	if !force {
		if idx := m.Current(); idx != nil {
			metrics.IndexLoadsTotal.WithLabelValues("cached").Inc()
			return idx, nil
		}
	}

	key := "load"
	if force {
		key = "refresh"
	}
	// the shared load must outlive any single caller's request
	shared := context.WithoutCancel(ctx)
	v, err, _ := m.group.Do(key, func() (any, error) {
		return m.loadOrCreate(shared, force)
	})
	if err != nil {
		metrics.IndexLoadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	idx, _ := v.(*chromemdb.VectorDBManager)
	return idx, nil
}

func (m *Manager) loadOrCreate(ctx context.Context, force bool) (*chromemdb.VectorDBManager, error) {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	if !force {
		if idx := m.Current(); idx != nil {
			metrics.IndexLoadsTotal.WithLabelValues("cached").Inc()
			return idx, nil
		}
	}

	var fingerprint string
	if m.source == nil {
		log.Warn().Msg("No object store configured, only a saved vector store can be used")
	} else {
		fp, err := m.source.Fingerprint(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Could not fingerprint course materials, reusing any saved index")
			fp = ""
		}
		fingerprint = fp
	}

	if !force {
		idx, manifest, err := m.persister.Load(ctx)
		switch {
		case errors.Is(err, ErrNotFound):
			log.Info().Msg("No saved vector store, building a new one")
		case err != nil:
			log.Warn().Err(err).Msg("Saved vector store is unreadable, rebuilding")
		case fingerprint == "" || manifest.Fingerprint == fingerprint:
			log.Info().Int("chunks", idx.Len()).Str("fingerprint", manifest.Fingerprint).Msg("Loaded saved vector store")
			metrics.IndexLoadsTotal.WithLabelValues("loaded").Inc()
			m.set(idx, manifest)
			return idx, nil
		default:
			log.Info().Str("saved", manifest.Fingerprint).Str("current", fingerprint).Msg("Course materials changed, rebuilding vector store")
		}
	}

	return m.rebuild(ctx, fingerprint)
}

func (m *Manager) rebuild(ctx context.Context, fingerprint string) (*chromemdb.VectorDBManager, error) {
	if m.source == nil {
		return nil, ErrNoSource
	}
	result, err := m.source.Download(ctx)
	if err != nil {
		return nil, err
	}
	if !result.OK() {
		log.Warn().Msg("No course materials downloaded, vector store not built")
		metrics.IndexLoadsTotal.WithLabelValues("empty").Inc()
		return nil, nil
	}

	pages := parser.ExtractFiles(m.source.DownloadsDir(), result.Downloaded)
	if len(pages) == 0 {
		log.Warn().Msg("No text extracted from course materials")
		metrics.IndexLoadsTotal.WithLabelValues("empty").Inc()
		return nil, nil
	}

	chunks := m.splitter.Split(pages)
	if len(chunks) == 0 {
		metrics.IndexLoadsTotal.WithLabelValues("empty").Inc()
		return nil, nil
	}

	vectors, err := embedding.EmbedChunks(ctx, m.embedder, chunks)
	if err != nil {
		return nil, err
	}

	idx, err := chromemdb.Build(ctx, m.collection, chunks, vectors)
	if err != nil {
		return nil, err
	}

	if fingerprint == "" {
		fingerprint = objectstore.Fingerprint(result.Objects)
	}
	if len(result.Failed) > 0 {
		// never equal to a listing fingerprint, so the next load rebuilds
		log.Warn().Strs("failed", result.Failed).Msg("Vector store built from a partial download")
		fingerprint = PartialPrefix + fingerprint
	}
	manifest := &Manifest{
		Fingerprint:    fingerprint,
		Documents:      len(result.Downloaded),
		Chunks:         len(chunks),
		EmbeddingModel: m.embeddingModel,
		BuiltAt:        time.Now().UTC(),
	}

	snap := &Snapshot{Index: idx, Chunks: chunks, Vectors: vectors, Manifest: *manifest}
	if err := m.persister.Save(ctx, snap); err != nil {
		log.Error().Err(err).Msg("Failed to save vector store, keeping it in memory only")
	}

	metrics.IndexLoadsTotal.WithLabelValues("built").Inc()
	m.set(idx, manifest)
	return idx, nil
}

func (m *Manager) Close() error {
	return m.persister.Close()
}
