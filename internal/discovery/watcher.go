package discovery

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultRescanDebounce = 500 * time.Millisecond

// Watcher triggers a rescan callback when script files under the
// tools directory change. Events are debounced so a burst of writes
// produces a single rescan.
type Watcher struct {
	root     string
	logger   *zap.Logger
	onChange func(context.Context)
	debounce time.Duration
}

// NewWatcher returns a watcher over the scanner root. onChange runs on
// the watcher goroutine after the debounce window closes.
func NewWatcher(root string, onChange func(context.Context), logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		root:     root,
		logger:   logger.Named("discovery_watcher"),
		onChange: onChange,
		debounce: defaultRescanDebounce,
	}
}

// Run watches until ctx is cancelled. A missing root directory is not
// an error; the watcher simply exits.
func (w *Watcher) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("tools watcher failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	if !w.addTree(watcher, w.root) {
		return
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-watcher.Errors:
			if err != nil {
				w.logger.Warn("tools watcher error", zap.Error(err))
			}
		case event := <-watcher.Events:
			if event.Op.Has(fsnotify.Create) {
				// New subdirectories must be watched too.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		case <-timerChan(timer):
			timer = nil
			w.logger.Info("tools directory changed, rescanning")
			w.onChange(ctx)
		}
	}
}

func (w *Watcher) addTree(watcher *fsnotify.Watcher, root string) bool {
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("tools watcher setup failed", zap.String("root", root), zap.Error(err))
		return false
	}
	return true
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op.Has(fsnotify.Chmod) {
		return false
	}
	if _, ok := scriptExtensions[filepath.Ext(event.Name)]; ok {
		return true
	}
	// Directory creates and removes reshape the tree.
	return event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Remove)
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
