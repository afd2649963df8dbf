package skills

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultDebounce = 300 * time.Millisecond

// Watcher reloads a Library when its directory changes. Bursts of events are
// coalesced into one reload.
type Watcher struct {
	lib      *Library
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload func()

	mu       sync.Mutex
	timer    *time.Timer
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Debounce time.Duration
	// OnReload is called after each successful reload.
	OnReload func()
}

// NewWatcher creates a watcher for lib's directory. The directory must exist.
func NewWatcher(lib *Library, cfg WatcherConfig) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(lib.Dir()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", lib.Dir(), err)
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}

	return &Watcher{
		lib:      lib,
		watcher:  fw,
		debounce: cfg.Debounce,
		onReload: cfg.OnReload,
		done:     make(chan struct{}),
	}, nil
}

// Run processes events until ctx is cancelled or Stop is called.
func (w *Watcher) Run(ctx context.Context) {
	log.Info().Str("dir", w.lib.Dir()).Msg("Skills watcher started")
	defer w.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isSkillFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Skills watcher error")

		case <-ctx.Done():
			return
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	if err := w.lib.Load(); err != nil {
		log.Error().Err(err).Msg("Failed to reload skills")
		return
	}
	if w.onReload != nil {
		w.onReload()
	}
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		if err := w.watcher.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close skills watcher")
		}
		log.Info().Msg("Skills watcher stopped")
	})
}
