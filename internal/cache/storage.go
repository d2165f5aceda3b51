package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/iTrooz/offline-cache/internal/config"
)

// NewStorage creates the storage backend selected by the configuration
func NewStorage(cfg config.CacheConfig) (Storage, error) {
	switch cfg.Backend {
	case config.BackendDisk:
		storage, err := NewDisk(cfg.Folder)
		if err != nil {
			return nil, err
		}
		return storage, nil
	case config.BackendMemory:
		return NewMemory(cfg.MaxSizeMB), nil
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.Folder, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		storage, err := NewSQLite(filepath.Join(cfg.Folder, "cache.db"))
		if err != nil {
			return nil, err
		}
		return storage, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}
