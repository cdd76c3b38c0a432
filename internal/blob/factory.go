package blob

import (
	"fmt"

	"depot-go/internal/config"
	"depot-go/internal/core"
)

// NewBlobStoreFromConfig creates a BlobStore implementation based on
// the blob config type.
func NewBlobStoreFromConfig(cfg config.BlobConfig, idgen core.IDGenerator) (core.BlobStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(idgen), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem blob store requires fs_root to be set")
		}
		return NewFileSystemStore(cfg.FSRoot, idgen)
	case "s3":
		return NewS3Store(S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}, idgen)
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
}
