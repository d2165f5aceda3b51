package offline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache/internal/metrics"
)

// Prune deletes every generation whose name differs from the current version.
// Deletions are independent: a failure is logged and the remaining stale
// generations are still deleted.
func (m *Manager) Prune(ctx context.Context) error {
	names, err := m.storage.Names()
	if err != nil {
		return fmt.Errorf("failed to list generations: %w", err)
	}

	var errs []error
	pruned := 0
	for _, name := range names {
		if name == m.cfg.Version {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		existed, err := m.storage.Delete(name)
		if err != nil {
			logrus.Errorf("Failed to delete stale generation %s: %v", name, err)
			errs = append(errs, fmt.Errorf("deleting %s: %w", name, err))
			continue
		}
		if existed {
			pruned++
			logrus.Infof("Deleted stale cache generation %s", name)
		}
	}

	metrics.RecordPruned(pruned)
	return errors.Join(errs...)
}
