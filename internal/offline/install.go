package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iTrooz/offline-cache/internal/cache/httpcache"
	"github.com/iTrooz/offline-cache/internal/metrics"
)

// asset is a manifest entry fetched and serialized, ready to be stored
type asset struct {
	url  string
	key  string
	data []byte
}

// storedEntry remembers what a key held before this install overwrote it
type storedEntry struct {
	key      string
	previous []byte
}

// Initialize opens the current generation, creating it if absent, and stores every
// manifest asset in it. Either all assets are stored or none are: a failed fetch
// aborts before any write, and a failed write rolls back the writes made so far.
func (m *Manager) Initialize(ctx context.Context) error {
	err := m.initialize(ctx)
	if err != nil {
		metrics.RecordInstall(metrics.ResultFailure, 0)
		return err
	}
	metrics.RecordInstall(metrics.ResultSuccess, len(m.cfg.Manifest))
	return nil
}

func (m *Manager) initialize(ctx context.Context) error {
	assets, err := m.fetchManifest(ctx)
	if err != nil {
		return err
	}

	_, existed, err := m.storage.Lookup(m.cfg.Version)
	if err != nil {
		return fmt.Errorf("failed to look up generation %s: %w", m.cfg.Version, err)
	}
	gen, err := m.storage.Open(m.cfg.Version)
	if err != nil {
		return fmt.Errorf("failed to open generation %s: %w", m.cfg.Version, err)
	}
	httpCache := httpcache.New(gen)

	stored := make([]storedEntry, 0, len(assets))
	for _, a := range assets {
		previous, err := httpCache.GetRaw(a.key)
		if err == nil {
			err = httpCache.SetRaw(a.key, a.data)
		}
		if err != nil {
			m.rollback(httpCache, stored, existed)
			return fmt.Errorf("failed to store %s: %w", a.url, err)
		}
		stored = append(stored, storedEntry{key: a.key, previous: previous})
	}

	logrus.Infof("Cached %d assets in generation %s", len(assets), m.cfg.Version)
	return nil
}

// fetchManifest fetches every manifest asset concurrently; the first failure cancels the rest
func (m *Manager) fetchManifest(ctx context.Context) ([]asset, error) {
	assets := make([]asset, len(m.cfg.Manifest))

	g, gctx := errgroup.WithContext(ctx)
	if m.cfg.Concurrency > 0 {
		g.SetLimit(m.cfg.Concurrency)
	}

	for i, raw := range m.cfg.Manifest {
		i, raw := i, raw
		g.Go(func() error {
			a, err := m.fetchAsset(gctx, raw)
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", raw, err)
			}
			assets[i] = a
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return assets, nil
}

func (m *Manager) fetchAsset(ctx context.Context, raw string) (asset, error) {
	u, err := m.resolve(raw)
	if err != nil {
		return asset{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return asset{}, err
	}
	key, err := httpcache.RequestKey(req)
	if err != nil {
		return asset{}, err
	}

	stop := metrics.TimeFetch("install")
	resp, err := m.client.Do(req)
	stop()
	if err != nil {
		return asset{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return asset{}, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	data, err := httpcache.Serialize(resp)
	if err != nil {
		return asset{}, fmt.Errorf("failed to read response: %w", err)
	}

	logrus.Debugf("Fetched manifest asset %s", u)
	return asset{url: u.String(), key: key, data: data}, nil
}

// rollback undoes the writes of a failed install. A generation created by the
// install is dropped entirely.
func (m *Manager) rollback(httpCache *httpcache.HTTPCache, stored []storedEntry, existed bool) {
	if !existed {
		if _, err := m.storage.Delete(m.cfg.Version); err != nil {
			logrus.Errorf("Failed to drop generation %s after failed install: %v", m.cfg.Version, err)
		}
		return
	}

	var errs []error
	for i := len(stored) - 1; i >= 0; i-- {
		entry := stored[i]
		var err error
		if entry.previous == nil {
			err = httpCache.Delete(entry.key)
		} else {
			err = httpCache.SetRaw(entry.key, entry.previous)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logrus.Errorf("Failed to roll back generation %s: %v", m.cfg.Version, err)
	}
}
