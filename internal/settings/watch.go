package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize settings watcher")

// Change reports a new value for a settings key.
type Change struct {
	Key string
	Old int
	New int
}

// Watch emits a Change whenever the stored timeout changes. The channel is
// closed when ctx is done or the watcher fails.
//
// The parent directory is watched so atomic replacements are seen. It is
// created if missing, so a session started before the first SetTimeout still
// sees it.
func (s *Store) Watch(ctx context.Context) (<-chan Change, error) {
	current, err := s.Timeout(ctx)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	changes := make(chan Change, 4)
	go s.processEvents(ctx, watcher, current, changes)
	return changes, nil
}

func (s *Store) processEvents(ctx context.Context, watcher *fsnotify.Watcher, current int, changes chan<- Change) {
	defer close(changes)
	defer watcher.Close()

	name := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			next, err := s.Timeout(ctx)
			if err != nil {
				s.logger.Warn(ctx, "failed to reload settings", zap.Error(err))
				continue
			}
			if next == current {
				continue
			}

			change := Change{Key: KeyTimeout, Old: current, New: next}
			current = next
			select {
			case changes <- change:
			case <-ctx.Done():
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn(ctx, "settings watcher error", zap.Error(err))
		}
	}
}
