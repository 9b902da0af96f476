package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()
	w, err := NewWatcher(dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

// drainUntil reads changes until one matches path or the timeout elapses.
func drainUntil(t *testing.T, w *Watcher, path string) Change {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case change := <-w.Changes():
			if change.Path == path {
				return change
			}
		case <-deadline:
			t.Fatalf("no change observed for %s", path)
		}
	}
}

func TestNewWatcherRejectsMissingDir(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "absent"), zap.NewNop())
	require.Error(t, err)
}

func TestNewWatcherRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.md")
	require.NoError(t, os.WriteFile(path, []byte("# Title\n"), 0o644))
	_, err := NewWatcher(path, zap.NewNop())
	require.Error(t, err)
}

func TestWatcherObservesMarkdownWrites(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	path := filepath.Join(dir, "guide.md")
	require.NoError(t, os.WriteFile(path, []byte("# Guide\n"), 0o644))

	change := drainUntil(t, w, path)
	assert.Equal(t, path, change.Path)
	assert.False(t, change.Timestamp.IsZero())
}

func TestWatcherIgnoresNonMarkdown(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("scratch"), 0o644))

	select {
	case change := <-w.Changes():
		t.Fatalf("unexpected change for %s", change.Path)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherFollowsNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	sub := filepath.Join(dir, "guides")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a moment to register the new directory.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(sub, "nested.md")
	require.NoError(t, os.WriteFile(path, []byte("# Nested\n"), 0o644))

	change := drainUntil(t, w, path)
	assert.Equal(t, path, change.Path)
}

func TestStopIsIdempotent(t *testing.T) {
	w := startWatcher(t, t.TempDir())
	w.Stop()
	w.Stop()
}
