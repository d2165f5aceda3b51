package cache

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidName is returned for generation names that cannot be stored safely
var ErrInvalidName = errors.New("invalid generation name")

// Storage holds named cache generations.
//
// Implementations must be safe for concurrent use: lifecycle events for different
// requests may read and write any generation at the same time.
type Storage interface {
	// Open returns the generation with the given name, creating it if absent
	Open(name string) (GenericCache, error)
	// Lookup returns the generation with the given name without creating it
	Lookup(name string) (GenericCache, bool, error)
	// Names lists existing generations in a stable order
	Names() ([]string, error)
	// Delete removes a generation and all of its entries.
	// It reports whether the generation existed.
	Delete(name string) (bool, error)
	// Close releases the resources held by the storage
	Close() error
}

// ValidateName checks that a generation name can be used as a storage namespace
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
