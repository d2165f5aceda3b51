package tests

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/iTrooz/offline-cache/internal/proxy"
)

// fixture_upstream creates a test upstream server serving the application assets.
// It counts the requests it receives.
func fixture_upstream() (*httptest.Server, *atomic.Int32) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		hits.Add(1)
		if requ.URL.Path == "/missing.js" {
			http.NotFound(w, requ)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<html>Hello from upstream, path ` + requ.URL.Path + `</html>`))
	}))
	return server, &hits
}

// fixture_config creates a test config caching the manifest under version
func fixture_config(origin, tempDir, backend, version string, manifest []string) *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 8080 // Not used, tests serve through httptest
	cfg.Origin = origin
	cfg.Cache.Backend = backend
	cfg.Cache.Folder = tempDir
	cfg.Cache.Version = version
	cfg.Manifest = manifest
	return &cfg
}

// fixture_proxy creates a proxy server with the given config and returns the server, test server, and HTTP client
func fixture_proxy(cfg *config.Config) (*proxy.Server, *httptest.Server, *http.Client, error) {
	proxyServer, err := proxy.New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	// Create test proxy HTTP server using goproxy
	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())

	// Create HTTP client that uses our proxy
	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
		Timeout: 10 * time.Second,
	}

	return proxyServer, proxyTestServer, client, nil
}
