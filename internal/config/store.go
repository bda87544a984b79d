package config

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces bursts of file events (editors often write a file
// in several steps) into a single reload.
const reloadDebounce = 500 * time.Millisecond

// ReloadHook is called after every reload attempt. On failure err is non-nil
// and snap is the snapshot still in effect.
type ReloadHook func(snap *Snapshot, err error)

// Store holds the live configuration snapshot. Readers take the current
// pointer and keep using it for the whole evaluation, so a concurrent reload
// never changes policy mid-event.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	snap  *Snapshot
	hooks []ReloadHook

	reloadMu sync.Mutex
}

// NewStore loads dir once and returns a Store serving it. The initial load
// must succeed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	snap, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return &Store{
		dir:    dir,
		logger: logger.With(slog.String("component", "config")),
		snap:   snap,
	}, nil
}

// Dir returns the configuration directory.
func (s *Store) Dir() string { return s.dir }

// Current returns the snapshot in effect.
func (s *Store) Current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// OnReload registers a hook run after every reload attempt.
func (s *Store) OnReload(h ReloadHook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()
}

// Reload loads the directory again and swaps the new snapshot in. Any error
// leaves the previous snapshot in place.
func (s *Store) Reload() (*Snapshot, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	next, err := LoadDir(s.dir)

	s.mu.Lock()
	if err == nil {
		s.snap = next
	}
	current := s.snap
	hooks := append([]ReloadHook(nil), s.hooks...)
	s.mu.Unlock()

	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			s.logger.Error("reload rejected", slog.Int("problems", len(verr.Problems)), slog.Any("error", err))
		} else {
			s.logger.Error("reload failed", slog.Any("error", err))
		}
	} else {
		s.logger.Info("configuration reloaded", slog.Int("guilds", len(current.Guilds)))
	}

	for _, h := range hooks {
		h(current, err)
	}
	return current, err
}

// Watch reloads on every interval tick and whenever a file in the directory
// changes. It blocks until ctx is cancelled. A zero interval disables the
// ticker; a watcher that cannot be created leaves only the ticker.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("file watcher unavailable", slog.Any("error", err))
	} else {
		defer watcher.Close()
		if err := watcher.Add(s.dir); err != nil {
			s.logger.Warn("cannot watch config directory", slog.String("dir", s.dir), slog.Any("error", err))
		} else {
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	}

	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			return
		case <-tick:
			s.Reload()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if _, ok := parserFor(ev.Name); !ok {
				continue
			}
			debounce.Reset(reloadDebounce)
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			s.logger.Warn("file watcher error", slog.Any("error", err))
		case <-debounce.C:
			s.Reload()
		}
	}
}
