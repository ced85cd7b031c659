package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bryanchriswhite/RegionPiP/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses the burst of events an editor produces on save
const watchDebounce = 150 * time.Millisecond

// Watch reloads the config file whenever it changes on disk and calls fn
// with the new configuration. Writes made through Save do not trigger fn
// because the reloaded file matches memory. Watch blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context, fn func(*Config)) error {
	log := logger.WithComponent("config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file via rename
	dir := filepath.Dir(m.configPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	name := filepath.Clean(m.configPath)

	log.Debug().Str("path", m.configPath).Msg("Watching config file")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			pending = time.After(watchDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher error")

		case <-pending:
			pending = nil
			cfg, changed, err := m.Reload()
			if err != nil {
				log.Warn().Err(err).Msg("Ignoring unreadable config change")
				continue
			}
			if !changed {
				continue
			}
			log.Info().Str("path", m.configPath).Msg("Config changed on disk")
			fn(cfg)
		}
	}
}
