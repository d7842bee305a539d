// Package watch reloads a file when it changes on disk. Bursts of events
// (editors often write, rename and chmod in one save) collapse into one
// reload after a quiet period.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
)

// DefaultQuiet is how long a file must stay untouched before a reload.
const DefaultQuiet = 150 * time.Millisecond

// ReloadFunc receives the new contents of the watched file.
type ReloadFunc func(contents []byte)

// File watches one file. The parent directory is watched rather than the
// file itself so atomic saves (write to temp, rename over) are seen.
type File struct {
	path   string
	quiet  time.Duration
	reload ReloadFunc
	log    *slog.Logger
}

// New returns a watcher for path. quiet <= 0 selects DefaultQuiet.
func New(path string, quiet time.Duration, reload ReloadFunc, log *slog.Logger) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	if log == nil {
		log = slog.Default()
	}
	return &File{path: abs, quiet: quiet, reload: reload, log: log.With("file", abs)}, nil
}

// Path returns the absolute path being watched.
func (f *File) Path() string { return f.path }

// Run watches until ctx is done. The reload callback runs on a timer
// goroutine; it is never called concurrently with itself.
func (f *File) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", f.path, err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", f.path, err)
	}
	f.log.Debug("watching")

	reloads := make(chan struct{}, 1)
	debounced := debounce.New(f.quiet)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-reloads:
				f.load()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != f.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			f.log.Debug("file event", "op", ev.Op.String())
			debounced(func() {
				select {
				case reloads <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.log.Warn("watch error", "err", err)
		}
	}
}

func (f *File) load() {
	b, err := os.ReadFile(f.path)
	if err != nil {
		// A rename-over save can leave a brief gap; the Create that follows
		// triggers another reload.
		f.log.Debug("reload skipped", "err", err)
		return
	}
	f.log.Info("reloading")
	f.reload(b)
}
