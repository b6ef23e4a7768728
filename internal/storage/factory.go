package storage

import (
	"strconv"
	"strings"

	"github.com/timmy/goldmine/internal/config"
)

// NewStorage builds the asset mirror from the storage config section.
// Parameters:
//   - cfg: storage configuration including endpoint, credentials and bucket.
//
// Returns:
//   - ObjectStorage: initialized client, nil when the mirror is disabled.
//   - error: non-nil if the client cannot be created.
func NewStorage(cfg *config.StorageConfig) (ObjectStorage, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	s3cfg := &S3Config{
		Type:      StorageType(cfg.Type),
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		PublicURL: cfg.PublicURL,
	}
	if s3cfg.Type == "" {
		s3cfg.Type = detectStorageType(cfg.Endpoint)
	}
	s3store, err := NewS3Storage(s3cfg)
	if err != nil {
		return nil, err
	}
	return s3store, nil
}

func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)
	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}

// AssetKey joins the mirror prefix, the document id and an asset path.
func AssetKey(prefix string, documentID uint, rel string) string {
	parts := []string{}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, strconv.FormatUint(uint64(documentID), 10))
	if r := strings.TrimPrefix(rel, "/"); r != "" {
		parts = append(parts, r)
	}
	return strings.Join(parts, "/")
}
