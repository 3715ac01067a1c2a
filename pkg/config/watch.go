package config

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Watch monitors path for changes and calls onChange with the newly loaded
// Config each time the file is written. It runs until ctx is cancelled.
//
// A reload that fails (e.g., invalid YAML) is logged and onChange is not
// called, leaving the previous config in place.
//
func Watch(
	ctx context.Context, path string, log logr.Logger, onChange func(*Config),
) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch '%s': %w", path, err)
	}

	log.V(1).Info("watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// editors that save atomically replace the file, which
			// shows up as a create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				log.Error(err, "reload failed, keeping previous config",
					"path", path)
				continue
			}

			log.Info("reloaded", "path", path)
			onChange(cfg)

			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			log.Error(err, "watcher")
		}
	}
}
