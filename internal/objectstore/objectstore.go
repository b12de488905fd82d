package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"math-tutor/internal/config"
)

// ObjectInfo describes one object in the bucket.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectStore is the subset of bucket operations the ingestor needs.
type ObjectStore interface {
	List(ctx context.Context) ([]ObjectInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Close() error
}

// New builds the object store selected by cfg.Provider. Missing credentials
// surface as config.ErrMissingCredentials.
func New(ctx context.Context, cfg *config.StorageConfig) (ObjectStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "gcs":
		return NewGCSStore(ctx, cfg)
	case "local":
		return NewLocalStore(cfg.LocalDir)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

// Fingerprint hashes the sorted (key, size, etag) tuples of objects. Any
// added, removed or rewritten object changes the result.
func Fingerprint(objects []ObjectInfo) string {
	sorted := make([]ObjectInfo, len(objects))
	copy(sorted, objects)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	h := sha256.New()
	for _, o := range sorted {
		fmt.Fprintf(h, "%s\x00%d\x00%s\n", o.Key, o.Size, strings.Trim(o.ETag, `"`))
	}
	return hex.EncodeToString(h.Sum(nil))
}
