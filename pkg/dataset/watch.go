package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aixgo-dev/sentichat/pkg/observability"
	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events a single save produces.
const reloadDelay = 250 * time.Millisecond

// Watch reloads the store whenever its file is written or replaced. It
// watches the parent directory so that editors which save by rename are
// seen too. Watch blocks until ctx is done.
func (s *CSVStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	timer := time.NewTimer(reloadDelay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(reloadDelay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).Warn("dataset watcher error")
		case <-timer.C:
			if err := s.Reload(); err != nil {
				observability.RecordDatasetReload("error")
				s.logger.WithError(err).Error("dataset reload failed, keeping previous data")
				continue
			}
			observability.RecordDatasetReload("success")
		}
	}
}
