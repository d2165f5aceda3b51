package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrGenerationDeleted is returned when writing to a generation removed by Delete
var ErrGenerationDeleted = errors.New("generation was deleted")

// DiskStorage implements Storage with one directory per generation
type DiskStorage struct {
	cacheDir string
	// held for reading by entry writes and for writing by Delete,
	// so that a generation is never recreated by a late write
	mu sync.RWMutex
}

// DiskCache implements GenericCache for one generation directory
type DiskCache struct {
	storage *DiskStorage
	dir     string
}

// NewDisk creates a new disk storage rooted at cacheDir
func NewDisk(cacheDir string) (*DiskStorage, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &DiskStorage{cacheDir: cacheDir}, nil
}

func (d *DiskStorage) generationDir(name string) string {
	return filepath.Join(d.cacheDir, name)
}

// Open returns the generation directory, creating it if needed
func (d *DiskStorage) Open(name string) (GenericCache, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := d.generationDir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create generation %s: %w", name, err)
	}
	return &DiskCache{storage: d, dir: dir}, nil
}

// Lookup returns an existing generation
func (d *DiskStorage) Lookup(name string) (GenericCache, bool, error) {
	if err := ValidateName(name); err != nil {
		return nil, false, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	dir := d.generationDir(name)
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !info.IsDir() {
		return nil, false, nil
	}
	return &DiskCache{storage: d, dir: dir}, true, nil
}

// Names lists generation directories in lexical order
func (d *DiskStorage) Names() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries, err := os.ReadDir(d.cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// Delete removes a generation directory and everything in it
func (d *DiskStorage) Delete(name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := d.generationDir(name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return true, fmt.Errorf("failed to delete generation %s: %w", name, err)
	}

	logrus.Debugf("Deleted cache generation: %s", dir)
	return true, nil
}

// Close is a no-op for disk storage
func (d *DiskStorage) Close() error {
	return nil
}

func (c *DiskCache) entryPath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty cache key")
	}
	path := filepath.Join(c.dir, filepath.FromSlash(key))
	rel, err := filepath.Rel(c.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("cache key escapes generation: %q", key)
	}
	return path, nil
}

// Get retrieves a cached entry
func (c *DiskCache) Get(key string) ([]byte, error) {
	cachePath, err := c.entryPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(cachePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores an entry, replacing the file atomically
func (c *DiskCache) Set(key string, data []byte) error {
	cachePath, err := c.entryPath(key)
	if err != nil {
		return err
	}

	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	if _, err := os.Stat(c.dir); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrGenerationDeleted, filepath.Base(c.dir))
	}

	// Ensure directory exists
	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	logrus.Debugf("Cached response: %s", cachePath)
	return nil
}

// Delete removes an entry
func (c *DiskCache) Delete(key string) error {
	cachePath, err := c.entryPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(cachePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
