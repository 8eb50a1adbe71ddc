package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes map[string]string
	calls   int
}

func (r *changeRecorder) record(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.changes == nil {
		r.changes = make(map[string]string)
	}
	r.changes[key] = value
	r.calls++
}

func (r *changeRecorder) get(key string) (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes[key], r.calls
}

func TestEnvWatcherReloadReportsOnlyChanges(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("LOG_LEVEL=info\nHEALTHDASH_PORT=1\n"), 0o600))

	rec := &changeRecorder{}
	w := NewEnvWatcher([]string{envPath}, rec.record)

	w.Reload()
	_, calls := rec.get(EnvLogLevel)
	assert.Zero(t, calls, "unchanged values are not reported")

	require.NoError(t, os.WriteFile(envPath, []byte("LOG_LEVEL='debug'\nHEALTHDASH_PORT=2\n"), 0o600))
	w.Reload()

	value, calls := rec.get(EnvLogLevel)
	assert.Equal(t, "debug", value)
	assert.Equal(t, 1, calls, "non-reloadable keys are ignored")
}

func TestEnvWatcherFirstFileWins(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.env")
	second := filepath.Join(dir, "second.env")
	require.NoError(t, os.WriteFile(second, []byte("LOG_LEVEL=error\n"), 0o600))

	rec := &changeRecorder{}
	w := NewEnvWatcher([]string{first, second, " "}, rec.record)
	assert.Len(t, w.paths, 2)

	require.NoError(t, os.WriteFile(first, []byte("LOG_LEVEL=warn\n"), 0o600))
	w.Reload()

	value, _ := rec.get(EnvLogLevel)
	assert.Equal(t, "warn", value)
}

func TestEnvWatcherHandleEvents(t *testing.T) {
	orig := watchDebounce
	watchDebounce = time.Millisecond
	t.Cleanup(func() { watchDebounce = orig })

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")

	rec := &changeRecorder{}
	w := NewEnvWatcher([]string{envPath}, rec.record)

	events := make(chan fsnotify.Event)
	errs := make(chan error)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.handleEvents(ctx, events, errs)
	}()

	require.NoError(t, os.WriteFile(envPath, []byte("LOG_LEVEL=trace\n"), 0o600))
	events <- fsnotify.Event{Name: filepath.Join(dir, "other.env"), Op: fsnotify.Write}
	events <- fsnotify.Event{Name: envPath, Op: fsnotify.Chmod}
	events <- fsnotify.Event{Name: envPath, Op: fsnotify.Write}
	errs <- os.ErrPermission

	require.Eventually(t, func() bool {
		value, _ := rec.get(EnvLogLevel)
		return value == "trace"
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestEnvWatcherRunPicksUpWrites(t *testing.T) {
	origDebounce, origPoll := watchDebounce, pollInterval
	watchDebounce = time.Millisecond
	pollInterval = 10 * time.Millisecond
	t.Cleanup(func() { watchDebounce, pollInterval = origDebounce, origPoll })

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("LOG_LEVEL=info\n"), 0o600))

	rec := &changeRecorder{}
	w := NewEnvWatcher([]string{envPath}, rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		// Rewrite until the watcher is attached and reports the change.
		_ = os.WriteFile(envPath, []byte("LOG_LEVEL=warn\n"), 0o600)
		value, _ := rec.get(EnvLogLevel)
		return value == "warn"
	}, 3*time.Second, 20*time.Millisecond)
}
