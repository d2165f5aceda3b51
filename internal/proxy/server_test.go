package proxy

import (
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iTrooz/offline-cache/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Cache.Backend = config.BackendMemory
	cfg.Cache.Folder = t.TempDir()
	return &cfg
}

func TestNew(t *testing.T) {
	server, err := New(testConfig(t))
	require.NoError(t, err)
	defer func() { _ = server.Close() }()

	assert.NotNil(t, server.GetProxy())
	assert.NotNil(t, server.Runtime())
	assert.Nil(t, server.Runtime().Controller())
}

func TestNewWithEachBackend(t *testing.T) {
	for _, backend := range []string{config.BackendDisk, config.BackendMemory, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Cache.Backend = backend

			server, err := New(cfg)
			require.NoError(t, err)
			assert.NoError(t, server.Close())
		})
	}
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = "redis"
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Cache.Version = "../escape"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestNewWithMissingCACertificate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.HTTPS = config.HTTPSConfig{
		Enabled:    true,
		CACertFile: "/nonexistent/ca.pem",
		CAKeyFile:  "/nonexistent/ca.key",
	}

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNewWithDefaultMitm(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.HTTPS.Enabled = true

	server, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = server.Close() }()

	assert.NotNil(t, server.GetProxy().CertStore)
}

func TestTargetURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Origin = "http://localhost:3000"
	server, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = server.Close() }()

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{name: "root", target: "/", want: "http://localhost:3000/"},
		{name: "path with query", target: "/index.html?lang=en", want: "http://localhost:3000/index.html?lang=en"},
		{name: "absolute URL is kept", target: "https://cdnjs.cloudflare.com/lib.js", want: "https://cdnjs.cloudflare.com/lib.js"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.target)
			require.NoError(t, err)
			got := server.targetURL(&http.Request{URL: u})
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestCertStoreCachesCertificates(t *testing.T) {
	store := newCertStore()
	calls := 0
	gen := func() (*tls.Certificate, error) {
		calls++
		return &tls.Certificate{}, nil
	}

	first, err := store.Fetch("example.com", gen)
	require.NoError(t, err)
	second, err := store.Fetch("example.com", gen)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)

	_, err = store.Fetch("broken.example.com", func() (*tls.Certificate, error) {
		return nil, errors.New("no key")
	})
	assert.Error(t, err)
}

func TestMetricsHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
