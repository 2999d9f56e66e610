// Package watch regenerates project files when build descriptors change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/twistedbytes/genproj/pkg/engine"
	"github.com/twistedbytes/genproj/pkg/telemetry"
)

// DefaultDebounce is the quiet period after the last relevant change.
const DefaultDebounce = 500 * time.Millisecond

// skipDirs are never descended into. They hold build output, not sources.
var skipDirs = map[string]bool{
	"Binaries":         true,
	"Intermediate":     true,
	"Saved":            true,
	"DerivedDataCache": true,
	".git":             true,
	".vs":              true,
	".idea":            true,
}

// descriptorSuffixes identify files that change the generated project.
var descriptorSuffixes = []string{".uproject", ".Build.cs", ".Target.cs"}

// Trigger starts one generation. It is usually Generator.Run.
type Trigger func(ctx context.Context) error

// Options configures a Watcher.
type Options struct {
	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	// Ignore holds extra directory name patterns (filepath.Match syntax).
	Ignore []string

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
}

// Watcher watches project directories and calls a trigger after changes
// to module or project descriptors settle.
type Watcher struct {
	watcher  *fsnotify.Watcher
	trigger  Trigger
	debounce time.Duration
	ignore   []string
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics

	mu    sync.Mutex
	timer *time.Timer
	wg    sync.WaitGroup
}

// New creates a watcher over dirs. Watches are registered before New
// returns, so changes made afterwards are not missed.
func New(dirs []string, trigger Trigger, opts Options) (*Watcher, error) {
	if trigger == nil {
		return nil, fmt.Errorf("trigger is required")
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("at least one directory is required")
	}
	for _, pattern := range opts.Ignore {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fw,
		trigger:  trigger,
		debounce: debounce,
		ignore:   opts.Ignore,
		logger:   logger.NewComponentLogger("watch"),
		metrics:  opts.Metrics,
	}

	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("cannot watch %s: %w", dir, err)
		}
		if !info.IsDir() {
			_ = fw.Close()
			return nil, fmt.Errorf("cannot watch %s: not a directory", dir)
		}
		if err := w.addTree(dir); err != nil {
			_ = fw.Close()
			return nil, err
		}
	}

	w.logger.WithField("dirs", dirs).Info("Watching project directories")
	return w, nil
}

// addTree watches root and every directory below it that is not skipped.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Directories can vanish while a build is running.
			if path != root && os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skipped(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) skipped(name string) bool {
	if skipDirs[name] {
		return true
	}
	for _, pattern := range w.ignore {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Relevant reports whether a change to path can affect generated project files.
func Relevant(path string) bool {
	base := filepath.Base(path)
	for _, suffix := range descriptorSuffixes {
		if strings.HasSuffix(base, suffix) && len(base) > len(suffix) {
			return true
		}
	}
	return false
}

// Run processes events until ctx is done. A pending trigger is dropped and
// in-flight triggers are waited for before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		w.mu.Lock()
		if w.timer != nil && w.timer.Stop() {
			w.wg.Done()
		}
		w.mu.Unlock()
		w.wg.Wait()
		_ = w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	// New directories are watched as they appear.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.skipped(filepath.Base(event.Name)) {
				return
			}
			if err := w.addTree(event.Name); err != nil {
				w.logger.WithError(err).WithField("path", event.Name).Warn("Failed to watch new directory")
			}
			return
		}
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if !Relevant(event.Name) {
		return
	}

	op := opName(event.Op)
	w.metrics.RecordWatchEvent(op)
	w.logger.WithFields(map[string]interface{}{
		"file": event.Name,
		"op":   op,
	}).Debug("Descriptor changed")

	w.schedule(ctx)
}

// schedule restarts the debounce timer.
func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil && w.timer.Stop() {
		// The previous callback never ran.
		w.wg.Done()
	}
	w.wg.Add(1)
	w.timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.fire(ctx)
	})
}

func (w *Watcher) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	err := w.trigger(ctx)
	switch {
	case err == nil:
	case engine.IsBusy(err):
		w.logger.Debug("Generation already running, change dropped")
	default:
		// The generator has already reported the failure to the user.
		w.logger.WithError(err).Warn("Regeneration after change failed")
	}
}

func opName(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	default:
		return "write"
	}
}
