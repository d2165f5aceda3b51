// Handles caching of HTTP responses
package cache

// GenericCache holds the entries of a single cache generation
type GenericCache interface {
	// retrieves cached response data if it exists.
	// returns nil, nil when not found
	Get(key string) ([]byte, error)
	// stores response data in the cache under the specified key
	Set(key string, value []byte) error
	// removes the entry, a missing key is not an error
	Delete(key string) error
}
