package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foldersync/agent/internal/debounce"
)

func TestWatch_DeliversCreateEvent(t *testing.T) {
	dir := t.TempDir()
	w := New()
	t.Cleanup(w.Stop)

	events := make(chan Event, 16)
	w.SetCallback(func(ev Event) { events <- ev })

	require.NoError(t, w.Watch(dir))
	require.True(t, w.IsWatching(dir))

	target := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello\n"), 0o644))

	select {
	case ev := <-events:
		require.Equal(t, target, ev.Path)
		require.Contains(t, []debounce.Action{debounce.Created, debounce.Modified}, ev.Action)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for create event")
	}
}

func TestWatch_RejectsDuplicateWatch(t *testing.T) {
	dir := t.TempDir()
	w := New()
	t.Cleanup(w.Stop)

	require.NoError(t, w.Watch(dir))
	err := w.Watch(dir)
	require.Error(t, err)
}

func TestWatch_RejectsMissingPath(t *testing.T) {
	w := New()
	t.Cleanup(w.Stop)

	err := w.Watch(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}

func TestWatch_RejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	w := New()
	t.Cleanup(w.Stop)

	err := w.Watch(file)
	require.Error(t, err)
}

func TestUnwatch_StopsDelivery(t *testing.T) {
	dir := t.TempDir()
	w := New()
	t.Cleanup(w.Stop)

	require.NoError(t, w.Watch(dir))
	require.NoError(t, w.Unwatch(dir))
	require.False(t, w.IsWatching(dir))
}
