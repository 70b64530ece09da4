package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/auditory-labs/earshot/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
storage:
  in_memory: true
detector:
  silence_threshold: 0.01
`

const watcherUpdatedYAML = `
server:
  log_level: debug
storage:
  in_memory: true
detector:
  silence_threshold: 0.05
`

const watcherInvalidYAML = `
server:
  log_level: bananas
storage:
  in_memory: true
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherInvalidYAML)

	if _, err := config.NewWatcher(cfgPath, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var (
		mu      sync.Mutex
		gotOld  *config.Config
		gotNew  *config.Config
		changed = make(chan struct{}, 1)
	)
	onChange := func(old, new *config.Config) {
		mu.Lock()
		gotOld, gotNew = old, new
		mu.Unlock()
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	w, err := config.NewWatcher(cfgPath, onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Rewrite with new content and a bumped mtime.
	writeFile(t, cfgPath, watcherUpdatedYAML)
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(cfgPath, future, future); err != nil {
		t.Fatalf("failed to bump mtime: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld == nil || gotNew == nil {
		t.Fatal("callback received nil configs")
	}
	if gotNew.Server.LogLevel != config.LogDebug {
		t.Errorf("new LogLevel = %q, want debug", gotNew.Server.LogLevel)
	}
	d := config.Diff(gotOld, gotNew)
	if !d.LogLevelChanged || !d.DetectorChanged {
		t.Errorf("Diff = %+v, want log level and detector changes", d)
	}
	if w.Current() != gotNew {
		t.Error("Current() does not return the reloaded config")
	}
}

func TestWatcher_KeepsOldConfigOnInvalidUpdate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(cfgPath, func(_, _ *config.Config) {
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherInvalidYAML)
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(cfgPath, future, future); err != nil {
		t.Fatalf("failed to bump mtime: %v", err)
	}

	select {
	case <-called:
		t.Fatal("onChange fired for an invalid config")
	case <-time.After(200 * time.Millisecond):
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current().LogLevel = %q, want the pre-update value", got)
	}
}
