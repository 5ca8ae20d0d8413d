package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/PostPulse/mcp-server-postpulse/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file whenever it changes and passes the result
// (with env overrides applied) to onChange. The parent directory is watched
// so editors that replace the file on save are still seen. Watch blocks
// until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(target)
			if err != nil {
				logger.Warn("Ignoring config change: %v", err)
				continue
			}
			if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
				logger.Warn("Ignoring config change: %v", err)
				continue
			}
			logger.Info("Config reloaded from %s", target)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error: %v", err)
		}
	}
}
