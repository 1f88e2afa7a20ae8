package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alphapipe/alphapipe/pkg/engine"
	"github.com/alphapipe/alphapipe/pkg/telemetry"
)

// Watcher re-parses a pipeline document whenever its file changes on disk.
type Watcher struct {
	parser  *Parser
	logger  *telemetry.Logger
	watcher *fsnotify.Watcher
}

// ReloadFunc is called after every successful reload with the freshly
// built pipeline and its document.
type ReloadFunc func(pl *engine.Pipeline, doc *Document) error

// NewWatcher creates a watcher that validates documents with the given
// parser.
func NewWatcher(parser *Parser, logger *telemetry.Logger) *Watcher {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Watcher{
		parser: parser,
		logger: logger.NewComponentLogger("config-watcher"),
	}
}

// Watch starts watching the pipeline file and triggers reload on change.
// It watches the containing directory rather than the file itself so
// editors that replace the file on save keep being observed. Watch
// returns once the watcher is running; it stops when ctx is canceled.
func (w *Watcher) Watch(ctx context.Context, path string, reloadFn ReloadFunc) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.processEvents(ctx, path, reloadFn)

	w.logger.WithField("path", path).Info("Started watching pipeline document")
	return nil
}

// processEvents processes file system events and triggers reloads.
func (w *Watcher) processEvents(ctx context.Context, path string, reloadFn ReloadFunc) {
	// Debounce reload events
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}

			w.logger.WithField("op", event.Op.String()).Debug("Pipeline document changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := w.reload(ctx, path, reloadFn); err != nil {
					w.logger.WithError(err).Error("Failed to reload pipeline document")
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}

// reload parses and rebuilds the document, surfacing validation problems
// without tearing the watcher down.
func (w *Watcher) reload(ctx context.Context, path string, reloadFn ReloadFunc) error {
	pl, doc, err := w.parser.Load(ctx, path)
	if err != nil {
		return err
	}
	if err := reloadFn(pl, doc); err != nil {
		return fmt.Errorf("failed to apply reloaded pipeline: %w", err)
	}
	w.logger.WithField("path", path).Info("Pipeline document reloaded")
	return nil
}
