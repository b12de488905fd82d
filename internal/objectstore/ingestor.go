package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"math-tutor/internal/metrics"
)

// Ingestor mirrors course materials from an object store into a local
// downloads directory.
type Ingestor struct {
	store        ObjectStore
	downloadsDir string
	extensions   []string
}

// DownloadResult reports what a Download call did.
type DownloadResult struct {
	Objects    []ObjectInfo
	Downloaded []string
	Failed     []string
}

// OK reports whether at least one document landed on disk.
func (r *DownloadResult) OK() bool {
	return r != nil && len(r.Downloaded) > 0
}

func NewIngestor(store ObjectStore, downloadsDir string, extensions []string) *Ingestor {
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	if len(exts) == 0 {
		exts = []string{".pdf"}
	}
	return &Ingestor{store: store, downloadsDir: downloadsDir, extensions: exts}
}

func (i *Ingestor) DownloadsDir() string { return i.downloadsDir }

// ListMaterials lists the objects whose extension is accepted.
func (i *Ingestor) ListMaterials(ctx context.Context) ([]ObjectInfo, error) {
	objects, err := i.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var materials []ObjectInfo
	for _, o := range objects {
		if i.accepts(o.Key) {
			materials = append(materials, o)
		}
	}
	return materials, nil
}

// Fingerprint identifies the current set of source documents without
// downloading them.
func (i *Ingestor) Fingerprint(ctx context.Context) (string, error) {
	materials, err := i.ListMaterials(ctx)
	if err != nil {
		return "", err
	}
	return Fingerprint(materials), nil
}

// Download fetches every accepted object, one attempt each. A file that fails
// is logged and skipped; files already written stay on disk. Zero matching
// objects is not an error: the result simply reports nothing downloaded.
func (i *Ingestor) Download(ctx context.Context) (*DownloadResult, error) {
	materials, err := i.ListMaterials(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list course materials")
		return &DownloadResult{}, err
	}

	result := &DownloadResult{Objects: materials}
	if len(materials) == 0 {
		log.Warn().Msg("No PDFs found in bucket")
		return result, nil
	}

	if err := os.MkdirAll(i.downloadsDir, 0o755); err != nil {
		return result, fmt.Errorf("failed to create downloads dir: %w", err)
	}

	for _, obj := range materials {
		localPath, err := i.localPath(obj.Key)
		if err != nil {
			log.Warn().Err(err).Str("key", obj.Key).Msg("Skipping object")
			result.Failed = append(result.Failed, obj.Key)
			continue
		}
		if err := i.downloadOne(ctx, obj.Key, localPath); err != nil {
			log.Error().Err(err).Str("key", obj.Key).Msg("Failed to download object")
			metrics.DocumentsDownloadedTotal.WithLabelValues("error").Inc()
			result.Failed = append(result.Failed, obj.Key)
			continue
		}
		metrics.DocumentsDownloadedTotal.WithLabelValues("success").Inc()
		log.Debug().Str("key", obj.Key).Str("path", localPath).Msg("Downloaded")
		result.Downloaded = append(result.Downloaded, localPath)
	}

	log.Info().Int("downloaded", len(result.Downloaded)).Int("failed", len(result.Failed)).Msg("Course materials downloaded")
	return result, nil
}

func (i *Ingestor) accepts(key string) bool {
	if strings.HasSuffix(key, "/") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(key))
	for _, e := range i.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// localPath keeps the key's directory structure under downloadsDir and
// rejects keys that would escape it.
func (i *Ingestor) localPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." || filepath.IsAbs(clean) {
		return "", fmt.Errorf("key %q escapes downloads dir", key)
	}
	return filepath.Join(i.downloadsDir, clean), nil
}

func (i *Ingestor) downloadOne(ctx context.Context, key, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	rc, err := i.store.Open(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(localPath)
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return f.Close()
}
