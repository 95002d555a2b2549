package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"chatd/internal/common/fsutil"
	"chatd/pkg/types"
)

// DefaultDebounce groups the burst of events a large file copy produces.
const DefaultDebounce = 500 * time.Millisecond

// Watch rescans dir whenever a .gguf file in it is created, removed or
// renamed, and hands the new listing to onChange. Events are debounced. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, dir string, debounce time.Duration, log zerolog.Logger, onChange func([]types.Model)) error {
	abs, err := fsutil.Resolve(dir)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(abs); err != nil {
		return fmt.Errorf("watch %s: %w", abs, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !fsutil.HasExt(ev.Name, ".gguf") || !ev.Has(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("dir", abs).Msg("models watcher error")
		case <-timer.C:
			models, err := LoadDir(abs)
			if err != nil {
				log.Warn().Err(err).Str("dir", abs).Msg("rescan failed")
				continue
			}
			log.Info().Str("dir", abs).Int("models", len(models)).Msg("registry reloaded")
			onChange(models)
		}
	}
}
