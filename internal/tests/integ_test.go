package tests

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/iTrooz/offline-cache/internal/offline"
)

func register(t *testing.T, register func(context.Context) error) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return register(ctx)
}

func TestProxyIntegration(t *testing.T) {
	upstream, hits := fixture_upstream()
	defer upstream.Close()

	tempDir := t.TempDir()
	cfg := fixture_config(upstream.URL, tempDir, config.BackendDisk, "cache-v1", []string{"/", "/index.html"})

	proxyServer, proxyTestServer, client, err := fixture_proxy(cfg)
	require.NoError(t, err, "Failed to create proxy server")
	defer proxyTestServer.Close()
	defer func() { _ = proxyServer.Close() }()

	require.NoError(t, register(t, proxyServer.Register))
	controller, ok := proxyServer.Runtime().Controller().(*offline.Manager)
	require.True(t, ok, "the cache manager should control requests once activated")
	assert.Equal(t, "cache-v1", controller.Version())

	t.Run("manifest asset - cache hit", func(t *testing.T) {
		before := hits.Load()

		resp, err := client.Get(upstream.URL + "/index.html")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))

		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), "Hello from upstream, path /index.html")
		assert.Equal(t, before, hits.Load(), "cache hits must not reach upstream")
	})

	t.Run("unlisted asset - cache miss", func(t *testing.T) {
		before := hits.Load()

		for i := 0; i < 2; i++ {
			resp, err := client.Get(upstream.URL + "/api/codes")
			require.NoError(t, err)
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()

			assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
			assert.Contains(t, string(body), "/api/codes")
		}

		// Network answers are never stored
		assert.Equal(t, before+2, hits.Load())
	})

	t.Run("verify cache file exists", func(t *testing.T) {
		host := strings.TrimPrefix(upstream.URL, "http://")
		expectedCachePath := filepath.Join(tempDir, "cache-v1", "http", host, "index.html", "GET.bin")

		_, err := os.Stat(expectedCachePath)
		assert.NoError(t, err, "Cache file should exist at %s", expectedCachePath)
	})

	t.Run("served offline", func(t *testing.T) {
		upstream.Close()

		resp, err := client.Get(upstream.URL + "/")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	})

	t.Run("network failure surfaces to the requester", func(t *testing.T) {
		resp, err := client.Get(upstream.URL + "/not-cached")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}

func TestOriginFront(t *testing.T) {
	upstream, _ := fixture_upstream()
	defer upstream.Close()

	cfg := fixture_config(upstream.URL, t.TempDir(), config.BackendSQLite, "cache-v1", []string{"/", "/manifest.json"})

	proxyServer, proxyTestServer, _, err := fixture_proxy(cfg)
	require.NoError(t, err)
	defer proxyTestServer.Close()
	defer func() { _ = proxyServer.Close() }()

	require.NoError(t, register(t, proxyServer.Register))

	// Requests made to the proxy itself are resolved against the origin
	resp, err := http.Get(proxyTestServer.URL + "/manifest.json")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "path /manifest.json")
}

func TestNewVersionPrunesOldGeneration(t *testing.T) {
	upstream, _ := fixture_upstream()
	defer upstream.Close()

	tempDir := t.TempDir()

	// First deployment
	cfg := fixture_config(upstream.URL, tempDir, config.BackendDisk, "cache-v1", []string{"/"})
	v1, v1TestServer, _, err := fixture_proxy(cfg)
	require.NoError(t, err)
	require.NoError(t, register(t, v1.Register))
	v1TestServer.Close()
	require.NoError(t, v1.Close())

	_, err = os.Stat(filepath.Join(tempDir, "cache-v1"))
	require.NoError(t, err)

	// Second deployment with a bumped version
	cfg = fixture_config(upstream.URL, tempDir, config.BackendDisk, "cache-v2", []string{"/", "/index.html"})
	v2, v2TestServer, client, err := fixture_proxy(cfg)
	require.NoError(t, err)
	defer v2TestServer.Close()
	defer func() { _ = v2.Close() }()
	require.NoError(t, register(t, v2.Register))

	_, err = os.Stat(filepath.Join(tempDir, "cache-v1"))
	assert.True(t, os.IsNotExist(err), "stale generation should be deleted")
	_, err = os.Stat(filepath.Join(tempDir, "cache-v2"))
	assert.NoError(t, err)

	resp, err := client.Get(upstream.URL + "/index.html")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
}

func TestFailedInstallFallsBackToNetwork(t *testing.T) {
	upstream, _ := fixture_upstream()
	defer upstream.Close()

	tempDir := t.TempDir()
	cfg := fixture_config(upstream.URL, tempDir, config.BackendDisk, "cache-v1", []string{"/", "/missing.js"})

	proxyServer, proxyTestServer, client, err := fixture_proxy(cfg)
	require.NoError(t, err)
	defer proxyTestServer.Close()
	defer func() { _ = proxyServer.Close() }()

	err = register(t, proxyServer.Register)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/missing.js")

	// No partial generation is committed
	_, err = os.Stat(filepath.Join(tempDir, "cache-v1"))
	assert.True(t, os.IsNotExist(err))
	assert.Nil(t, proxyServer.Runtime().Controller())

	resp, err := client.Get(upstream.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
}
