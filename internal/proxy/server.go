package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/iTrooz/offline-cache/internal/lifecycle"
	"github.com/iTrooz/offline-cache/internal/offline"
)

// Server hosts the offline cache worker behind an HTTP proxy
type Server struct {
	config  *config.Config
	origin  *url.URL
	storage cache.Storage
	manager *offline.Manager
	runtime *lifecycle.Runtime
	proxy   *goproxy.ProxyHttpServer
}

// New creates a new proxy server
func New(cfg *config.Config) (*Server, error) {
	origin, err := cfg.GetOrigin()
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}

	storage, err := cache.NewStorage(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache storage: %w", err)
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	manager, err := offline.New(offline.Config{
		Version:     cfg.Cache.Version,
		Manifest:    cfg.Manifest,
		Origin:      origin,
		Concurrency: cfg.Cache.Concurrency,
	}, storage, client)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("failed to create cache manager: %w", err)
	}

	s := &Server{
		config:  cfg,
		origin:  origin,
		storage: storage,
		manager: manager,
		runtime: lifecycle.NewRuntime(client),
		proxy:   goproxy.NewProxyHttpServer(),
	}

	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.TraceLevel)
	s.proxy.OnRequest().DoFunc(s.onRequest)
	s.proxy.NonproxyHandler = http.HandlerFunc(s.serveOrigin)

	if cfg.Server.HTTPS.Enabled {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			_ = storage.Close()
			return nil, err
		}
	}

	return s, nil
}

// GetProxy returns the HTTP handler of the proxy
func (s *Server) GetProxy() *goproxy.ProxyHttpServer {
	return s.proxy
}

// Runtime returns the lifecycle runtime hosting the cache manager
func (s *Server) Runtime() *lifecycle.Runtime {
	return s.runtime
}

// Register installs and activates the cache manager, waiting for the outcome
func (s *Server) Register(ctx context.Context) error {
	reg := s.runtime.Register(ctx, s.manager)
	if err := reg.Wait(ctx); err != nil {
		return err
	}
	logrus.Infof("Cache generation %s is %s", s.manager.Version(), reg.State())
	return nil
}

// Start registers the cache manager and serves the proxy
func (s *Server) Start() error {
	if err := s.Register(context.Background()); err != nil {
		// requests keep going to the network until a later deployment installs
		logrus.Errorf("Offline cache unavailable: %v", err)
	}

	if s.config.Server.MetricsPort != 0 {
		go func() {
			addr := fmt.Sprintf(":%d", s.config.Server.MetricsPort)
			logrus.Infof("Serving metrics on %s/metrics", addr)
			if err := http.ListenAndServe(addr, MetricsHandler()); err != nil {
				logrus.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	logrus.Infof("Starting offline cache proxy on port %d", s.config.Server.Port)
	logrus.Infof("Origin: %s", s.origin)
	logrus.Infof("Cache backend: %s, version: %s", s.config.Cache.Backend, s.config.Cache.Version)
	logrus.Infof("Manifest: %d assets", len(s.config.Manifest))

	return http.ListenAndServe(fmt.Sprintf(":%d", s.config.Server.Port), s.proxy)
}

// Close releases the cache storage
func (s *Server) Close() error {
	return s.storage.Close()
}

// MetricsHandler serves the Prometheus metrics
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
