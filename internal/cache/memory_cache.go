package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/sirupsen/logrus"
)

// entries never expire: generations are only dropped as a whole
const noEviction = 100 * 365 * 24 * time.Hour

// ErrGenerationFull is returned when a write would exceed the generation size cap
var ErrGenerationFull = errors.New("generation size limit reached")

// MemoryStorage implements Storage with one BigCache instance per generation
type MemoryStorage struct {
	maxSizeMB int

	mu    sync.RWMutex
	order []string
	gens  map[string]*MemoryCache
}

// MemoryCache implements GenericCache on top of an unbounded BigCache.
// The size cap is enforced here: writes past it fail, entries are never evicted.
type MemoryCache struct {
	name     string
	cache    *bigcache.BigCache
	deleted  atomic.Bool
	maxBytes int

	mu   sync.Mutex
	size int
}

// NewMemory creates an in-memory storage. maxSizeMB caps the keys and values stored
// in each generation, 0 means no cap.
func NewMemory(maxSizeMB int) *MemoryStorage {
	return &MemoryStorage{
		maxSizeMB: maxSizeMB,
		gens:      make(map[string]*MemoryCache),
	}
}

func (m *MemoryStorage) newGeneration(name string) (*MemoryCache, error) {
	config := bigcache.DefaultConfig(noEviction)
	config.Shards = 64
	config.CleanWindow = 0 // no background expiry
	config.MaxEntriesInWindow = 1024
	config.MaxEntrySize = 4096
	config.HardMaxCacheSize = 0
	config.Verbose = false

	c, err := bigcache.New(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation %s: %w", name, err)
	}
	return &MemoryCache{name: name, cache: c, maxBytes: m.maxSizeMB * 1024 * 1024}, nil
}

// Open returns the named generation, creating it if absent
func (m *MemoryStorage) Open(name string) (GenericCache, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen, ok := m.gens[name]; ok {
		return gen, nil
	}

	gen, err := m.newGeneration(name)
	if err != nil {
		return nil, err
	}
	m.gens[name] = gen
	m.order = append(m.order, name)
	return gen, nil
}

// Lookup returns an existing generation
func (m *MemoryStorage) Lookup(name string) (GenericCache, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	gen, ok := m.gens[name]
	if !ok {
		return nil, false, nil
	}
	return gen, true, nil
}

// Names lists generations in creation order
func (m *MemoryStorage) Names() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.order))
	copy(names, m.order)
	return names, nil
}

// Delete drops a generation and releases its memory
func (m *MemoryStorage) Delete(name string) (bool, error) {
	m.mu.Lock()
	gen, ok := m.gens[name]
	if ok {
		delete(m.gens, name)
		for i, n := range m.order {
			if n == name {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	if !ok {
		return false, nil
	}

	gen.deleted.Store(true)
	if err := gen.cache.Close(); err != nil {
		return true, fmt.Errorf("failed to close generation %s: %w", name, err)
	}
	logrus.Debugf("Deleted in-memory cache generation: %s", name)
	return true, nil
}

// Close releases every generation
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, gen := range m.gens {
		if err := gen.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing generation %s: %w", name, err))
		}
	}
	m.gens = make(map[string]*MemoryCache)
	m.order = nil
	return errors.Join(errs...)
}

// Get retrieves a cached entry
func (c *MemoryCache) Get(key string) ([]byte, error) {
	if c.deleted.Load() {
		return nil, nil
	}
	data, err := c.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores an entry, failing with ErrGenerationFull instead of evicting
func (c *MemoryCache) Set(key string, value []byte) error {
	if c.deleted.Load() {
		return fmt.Errorf("%w: %s", ErrGenerationDeleted, c.name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	previous, err := c.storedSize(key)
	if err != nil {
		return err
	}
	size := c.size - previous + len(key) + len(value)
	if c.maxBytes > 0 && size > c.maxBytes {
		return fmt.Errorf("%w: %s would hold %d bytes, limit is %d", ErrGenerationFull, c.name, size, c.maxBytes)
	}

	if err := c.cache.Set(key, value); err != nil {
		return err
	}
	c.size = size
	return nil
}

// Delete removes an entry
func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous, err := c.storedSize(key)
	if err != nil {
		return err
	}
	err = c.cache.Delete(key)
	if err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return err
	}
	c.size -= previous
	return nil
}

// storedSize returns the bytes accounted for key, 0 when absent. Callers hold c.mu.
func (c *MemoryCache) storedSize(key string) (int, error) {
	data, err := c.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(key) + len(data), nil
}
