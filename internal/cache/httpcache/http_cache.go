package httpcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/iTrooz/offline-cache/internal/cache"
)

// HTTPCache stores HTTP responses in one cache generation
type HTTPCache struct {
	cache cache.GenericCache
}

func New(cache cache.GenericCache) *HTTPCache {
	return &HTTPCache{
		cache: cache,
	}
}

// GenerateKey builds the key of a request from its method and URL:
// scheme/host/path/METHOD[_slash][_p<hash>][_q<hash>].bin
// Headers and body do not take part in the key. The directory part is the cleaned
// path; a trailing slash and any path that cleaning would alter get their own
// filename markers so that distinct URLs never share a key.
func GenerateKey(method string, u *url.URL) (string, error) {
	if u == nil || u.Host == "" || u.Scheme == "" {
		return "", fmt.Errorf("request URL must be absolute, got: %v", u)
	}
	if method == "" {
		method = http.MethodGet
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if port := u.Port(); (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		host = strings.TrimSuffix(host, ":"+port)
	}
	pathParts := []string{scheme, host}

	urlPath := u.Path
	if urlPath == "" {
		urlPath = "/"
	}
	clean := path.Clean("/" + urlPath)
	if clean != "/" {
		pathParts = append(pathParts, strings.TrimPrefix(clean, "/"))
	}

	filename := strings.ToUpper(method)
	canonical := clean
	if urlPath != "/" && strings.HasSuffix(urlPath, "/") {
		filename += "_slash"
		canonical += "/"
	}
	if canonical != urlPath || u.RawPath != "" {
		filename += "_p" + shortHash(u.EscapedPath())
	}
	if u.RawQuery != "" {
		filename += "_q" + shortHash(u.RawQuery)
	}
	filename += ".bin"

	pathParts = append(pathParts, filename)

	return path.Join(pathParts...), nil
}

func shortHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])[:8]
}

// RequestKey generates the key of an intercepted request
func RequestKey(request *http.Request) (string, error) {
	return GenerateKey(request.Method, request.URL)
}

func (d *HTTPCache) SetReq(request *http.Request, resp *http.Response) error {
	cacheKey, err := RequestKey(request)
	if err != nil {
		return fmt.Errorf("failed to generate cache key: %w", err)
	}

	return d.SetKey(cacheKey, resp)
}

func (d *HTTPCache) SetKey(requestKey string, resp *http.Response) error {
	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	return d.SetRaw(requestKey, data)
}

// SetRaw stores an already serialized response
func (d *HTTPCache) SetRaw(requestKey string, data []byte) error {
	if err := d.cache.Set(requestKey, data); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// GetRaw returns the serialized response stored under the key, nil on miss
func (d *HTTPCache) GetRaw(requestKey string) ([]byte, error) {
	data, err := d.cache.Get(requestKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	return data, nil
}

// Delete removes the response stored under the key
func (d *HTTPCache) Delete(requestKey string) error {
	if err := d.cache.Delete(requestKey); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (d *HTTPCache) GetReq(req *http.Request) (*http.Response, error) {
	requestKey, err := RequestKey(req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cache key: %w", err)
	}

	resp, err := d.GetKey(requestKey)
	if err != nil {
		return nil, err
	}
	// Handle no cache hit
	if resp == nil {
		return nil, nil
	}

	// Associate the original request with the response
	resp.Request = req
	return resp, nil
}

func (d *HTTPCache) GetKey(requestKey string) (*http.Response, error) {
	data, err := d.GetRaw(requestKey)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil // Cache miss
	}

	resp, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return resp, nil
}
