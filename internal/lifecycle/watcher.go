package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"neuroforge/internal/logging"
)

// Filesystem events are bursty (editors write temp files, syncs touch many
// files); reconciliation waits for this much quiet before running.
const debounceDelay = 2 * time.Second

// Watch reconciles whenever tool files change on disk, debounced. Blocks
// until ctx is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(m.toolsDir); err != nil {
		return err
	}
	logging.Lifecycle("watching %s", m.toolsDir)

	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceDelay)
			} else {
				timer.Reset(debounceDelay)
			}
			pending = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Lifecycle("watch error: %v", err)

		case <-pending:
			pending = nil
			if _, err := m.Reconcile(); err != nil {
				logging.Lifecycle("reconcile after fs change: %v", err)
			}
		}
	}
}

// relevant filters for create/remove/rename of tool source or definition
// files.
func relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Remove) &&
		!event.Op.Has(fsnotify.Rename) && !event.Op.Has(fsnotify.Write) {
		return false
	}
	return strings.HasSuffix(event.Name, ".go") || strings.HasSuffix(event.Name, ".json")
}
