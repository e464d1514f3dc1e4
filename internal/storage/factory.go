package storage

import (
	"errors"
	"strings"

	"github.com/timmy/enrollflow/internal/config"
)

// ErrDisabled is returned by New when archival is switched off.
var ErrDisabled = errors.New("artifact storage is disabled")

// New creates the object storage backing the artifact archive.
func New(cfg *config.StorageConfig) (ObjectStorage, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	storeType := StorageType(strings.ToLower(cfg.Type))
	if storeType == "" {
		storeType = detectStorageType(cfg.Endpoint)
	}
	if storeType == StorageTypeMemory {
		return NewMemoryStorage(cfg.PublicURL), nil
	}

	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	return NewS3Storage(&S3Config{
		Type:      storeType,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		PublicURL: cfg.PublicURL,
	})
}

// detectStorageType guesses the provider from the endpoint host.
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case endpoint == "":
		return StorageTypeS3
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
