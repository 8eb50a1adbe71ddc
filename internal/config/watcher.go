package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Reloadable keys are the only settings picked up after startup; everything
// else is resolved once.
var reloadableKeys = []string{EnvLogLevel}

var (
	watchDebounce = 100 * time.Millisecond
	pollInterval  = 5 * time.Second
)

// EnvWatcher monitors env files and reports changes to reloadable keys.
type EnvWatcher struct {
	paths    []string
	logger   zerolog.Logger
	onChange func(key, value string)

	mu       sync.Mutex
	values   map[string]string
	modTimes map[string]time.Time
}

// NewEnvWatcher creates a watcher for paths. onChange is called with each
// reloadable key whose value changed.
func NewEnvWatcher(paths []string, onChange func(key, value string)) *EnvWatcher {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			if abs, err := filepath.Abs(p); err == nil {
				p = abs
			}
			cleaned = append(cleaned, p)
		}
	}

	w := &EnvWatcher{
		paths:    cleaned,
		logger:   log.Logger.With().Str("component", "env-watcher").Logger(),
		onChange: onChange,
		values:   make(map[string]string),
		modTimes: make(map[string]time.Time),
	}
	w.values = w.read()
	for _, p := range cleaned {
		if stat, err := os.Stat(p); err == nil {
			w.modTimes[p] = stat.ModTime()
		}
	}
	return w
}

// Run watches until ctx ends. When fsnotify cannot watch a directory the
// watcher falls back to polling modification times.
func (w *EnvWatcher) Run(ctx context.Context) {
	if len(w.paths) == 0 {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn().Err(err).Msg("Falling back to polling for env file changes")
		w.poll(ctx)
		return
	}
	defer watcher.Close()

	watched := make(map[string]bool)
	for _, p := range w.paths {
		dir := filepath.Dir(p)
		if watched[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			w.logger.Warn().Err(err).Str("path", dir).Msg("Falling back to polling for env file changes")
			w.poll(ctx)
			return
		}
		watched[dir] = true
	}

	w.logger.Debug().Strs("paths", w.paths).Msg("Watching env files for changes")
	w.handleEvents(ctx, watcher.Events, watcher.Errors)
}

func (w *EnvWatcher) handleEvents(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if !w.tracks(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Debounce - wait a bit for write to complete
			select {
			case <-ctx.Done():
				return
			case <-time.After(watchDebounce):
			}
			w.logger.Debug().Str("file", event.Name).Str("event", event.Op.String()).Msg("Detected env file change")
			w.Reload()

		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Env watcher error")
		}
	}
}

func (w *EnvWatcher) poll(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed := false
			w.mu.Lock()
			for _, p := range w.paths {
				if stat, err := os.Stat(p); err == nil && stat.ModTime().After(w.modTimes[p]) {
					w.modTimes[p] = stat.ModTime()
					changed = true
				}
			}
			w.mu.Unlock()
			if changed {
				w.Reload()
			}
		}
	}
}

func (w *EnvWatcher) tracks(name string) bool {
	if abs, err := filepath.Abs(name); err == nil {
		name = abs
	}
	for _, p := range w.paths {
		if p == name {
			return true
		}
	}
	return false
}

// read merges reloadable keys from every file; earlier files win, matching
// LoadEnvFiles.
func (w *EnvWatcher) read() map[string]string {
	values := make(map[string]string)
	for _, p := range w.paths {
		envMap, err := godotenv.Read(p)
		if err != nil {
			if !os.IsNotExist(err) {
				w.logger.Warn().Err(err).Str("file", p).Msg("Failed to read env file")
			}
			continue
		}
		for _, key := range reloadableKeys {
			if _, seen := values[key]; seen {
				continue
			}
			if v, ok := envMap[key]; ok {
				values[key] = strings.Trim(strings.TrimSpace(v), `'"`)
			}
		}
	}
	return values
}

// Reload re-reads the files and reports changed reloadable keys.
func (w *EnvWatcher) Reload() {
	next := w.read()

	w.mu.Lock()
	var changed []string
	for _, key := range reloadableKeys {
		if next[key] != w.values[key] {
			changed = append(changed, key)
		}
	}
	w.values = next
	w.mu.Unlock()

	for _, key := range changed {
		w.logger.Info().Str("key", key).Str("value", next[key]).Msg("Applied env file change")
		if w.onChange != nil {
			w.onChange(key, next[key])
		}
	}
}
