// Pre-caches a manifest of static assets in a versioned cache generation,
// answers requests from any generation before falling back to the network,
// and prunes stale generations on activation.
package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/cache/httpcache"
	"github.com/iTrooz/offline-cache/internal/lifecycle"
	"github.com/iTrooz/offline-cache/internal/metrics"
)

// ErrBadStatus is returned when a manifest asset answers with a non-2xx status
var ErrBadStatus = errors.New("unexpected response status")

// Config describes one deployment of the manager
type Config struct {
	// Version names the current cache generation
	Version string
	// Manifest lists the URLs to pre-cache, relative entries resolve against Origin
	Manifest []string
	Origin   *url.URL
	// Concurrency bounds parallel manifest fetches, 0 means unbounded
	Concurrency int
}

// Manager is the offline asset cache worker
type Manager struct {
	cfg     Config
	storage cache.Storage
	client  lifecycle.Doer
}

var _ lifecycle.Worker = (*Manager)(nil)

// New creates a manager storing generations in storage and fetching through client
func New(cfg Config, storage cache.Storage, client lifecycle.Doer) (*Manager, error) {
	if err := cache.ValidateName(cfg.Version); err != nil {
		return nil, fmt.Errorf("invalid version: %w", err)
	}
	for _, raw := range cfg.Manifest {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid manifest entry %q: %w", raw, err)
		}
		if !u.IsAbs() && cfg.Origin == nil {
			return nil, fmt.Errorf("manifest entry %q is relative but no origin is configured", raw)
		}
	}

	return &Manager{
		cfg:     cfg,
		storage: storage,
		client:  client,
	}, nil
}

// Version returns the name of the current cache generation
func (m *Manager) Version() string {
	return m.cfg.Version
}

// OnInstall implements lifecycle.Worker
func (m *Manager) OnInstall(ctx context.Context, host lifecycle.Host) error {
	host.SkipWaiting()
	return m.Initialize(ctx)
}

// OnActivate implements lifecycle.Worker
func (m *Manager) OnActivate(ctx context.Context, host lifecycle.Host) error {
	err := m.Prune(ctx)
	host.Claim()
	return err
}

// OnFetch implements lifecycle.Worker
func (m *Manager) OnFetch(req *http.Request) (*http.Response, bool, error) {
	return m.Intercept(req)
}

// resolve turns a manifest entry into an absolute URL
func (m *Manager) resolve(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.IsAbs() {
		return u, nil
	}
	return m.cfg.Origin.ResolveReference(u), nil
}

// Intercept answers req from any cache generation, or fetches it from the network.
// The boolean reports whether the response came from the cache.
func (m *Manager) Intercept(req *http.Request) (*http.Response, bool, error) {
	if req.Method == http.MethodGet {
		resp, err := m.Match(req)
		if err != nil {
			// fall through to the network
			logrus.Errorf("Failed to look up %s in cache: %v", req.URL, err)
		} else if resp != nil {
			logrus.Debugf("Cache hit for %s %s", req.Method, req.URL)
			metrics.RecordIntercept(metrics.SourceCache)
			return resp, true, nil
		}
	}

	logrus.Debugf("Fetching %s %s from network", req.Method, req.URL)
	stop := metrics.TimeFetch("fetch")
	resp, err := m.client.Do(lifecycle.NetworkRequest(req))
	stop()
	if err != nil {
		metrics.RecordIntercept(metrics.SourceError)
		return nil, false, err
	}
	metrics.RecordIntercept(metrics.SourceNetwork)
	return resp, false, nil
}

// Match looks req up in every existing generation, regardless of version.
// It returns nil, nil when no generation holds it. A generation that fails is
// skipped; its error is only returned when no other generation answers.
func (m *Manager) Match(req *http.Request) (*http.Response, error) {
	names, err := m.storage.Names()
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}

	var errs []error
	for _, name := range names {
		gen, found, err := m.storage.Lookup(name)
		if err != nil {
			logrus.Warnf("Skipping cache generation %s: %v", name, err)
			errs = append(errs, fmt.Errorf("failed to open generation %s: %w", name, err))
			continue
		}
		if !found {
			// pruned since listing
			continue
		}
		resp, err := httpcache.New(gen).GetReq(req)
		if err != nil {
			logrus.Warnf("Skipping cache generation %s for %s: %v", name, req.URL, err)
			errs = append(errs, fmt.Errorf("generation %s: %w", name, err))
			continue
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, errors.Join(errs...)
}
