package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foldersync/agent/internal/ignore"
	"github.com/foldersync/agent/internal/remote"
	"github.com/foldersync/agent/internal/resolve"
	"github.com/foldersync/agent/internal/store"
	"github.com/foldersync/agent/internal/watch"
)

func newTestEngine(t *testing.T) (*Engine, *remote.Fake) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fake := remote.NewFake()
	e := New(st, fake, nil, Config{MaxConcurrentTransfers: 2}, nil)
	require.NoError(t, e.Login(context.Background(), "alice", "secret"))
	return e, fake
}

// registerFolder wires a folder into the engine's bookkeeping without
// going through AddFolder's asynchronous trigger, so tests can call
// reconcile directly and assert on its synchronous result.
func registerFolder(t *testing.T, e *Engine, localDir, remotePath string, policy resolve.Policy) *store.Folder {
	t.Helper()
	f := &store.Folder{
		ID: e.store.GenerateID(), LocalPath: localDir, RemotePath: remotePath,
		Enabled: true, Status: store.FolderIdle, Policy: string(policy),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, e.store.PutFolder(f))

	e.mu.Lock()
	e.folders[f.ID] = &folderState{inFlightPaths: make(map[string]struct{}), events: make(chan watch.Event, 8)}
	e.ignoreLists[f.ID] = ignore.Load(localDir)
	e.mu.Unlock()
	return f
}

func TestReconcile_FreshUploadPropagatesToRemote(t *testing.T) {
	e, fake := newTestEngine(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello\n"), 0o644))

	f := registerFolder(t, e, dir, "/remote/A", resolve.LastWriteWins)
	require.NoError(t, e.reconcile(context.Background(), f.ID))

	data, ok := fake.Get("/remote/A/hello.txt")
	require.True(t, ok)
	require.Equal(t, "hello\n", string(data))

	meta, err := e.store.GetFile(f.ID, "hello.txt")
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.Equal(t, store.StateSynced, meta.SyncState)
}

func TestReconcile_RemoteCreationDownloadsLocally(t *testing.T) {
	e, fake := newTestEngine(t)
	dir := t.TempDir()
	fake.Put("/remote/A/report.txt", []byte("remote content"), "h", time.Now().UTC())

	f := registerFolder(t, e, dir, "/remote/A", resolve.LastWriteWins)
	require.NoError(t, e.reconcile(context.Background(), f.ID))

	got, err := os.ReadFile(filepath.Join(dir, "report.txt"))
	require.NoError(t, err)
	require.Equal(t, "remote content", string(got))
}

func TestReconcile_ModifiedModifiedConflictLastWriteWins(t *testing.T) {
	e, fake := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("local v2"), 0o644))

	f := registerFolder(t, e, dir, "/remote/A", resolve.LastWriteWins)

	oldTime := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, e.store.UpsertFile(&store.FileMetadata{
		FolderID: f.ID, RelativePath: "notes.txt", Size: 2, ModifiedAt: oldTime,
		ContentHash: "stale-hash", SyncState: store.StateSynced,
	}))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now()))

	// Remote side changed too, but strictly before local's current mtime —
	// local should win under last-write-wins. Still inside the
	// reconciliation's overlap window so ChangesSince actually reports it.
	fake.Put("/remote/A/notes.txt", []byte("remote v2"), "h2", time.Now().UTC().Add(-2*time.Second))

	require.NoError(t, e.reconcile(context.Background(), f.ID))

	data, ok := fake.Get("/remote/A/notes.txt")
	require.True(t, ok)
	require.Equal(t, "local v2", string(data))

	conflicts, err := e.store.PendingConflicts(f.ID)
	require.NoError(t, err)
	require.Empty(t, conflicts) // resolved synchronously, nothing left pending
}

func TestReconcile_KeepBothCreatesConflictCopy(t *testing.T) {
	e, fake := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("local v2"), 0o644))

	f := registerFolder(t, e, dir, "/remote/A", resolve.KeepBoth)

	oldTime := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, e.store.UpsertFile(&store.FileMetadata{
		FolderID: f.ID, RelativePath: "notes.txt", Size: 2, ModifiedAt: oldTime,
		ContentHash: "stale-hash", SyncState: store.StateSynced,
	}))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now()))
	fake.Put("/remote/A/notes.txt", []byte("remote v2"), "h2", time.Now().UTC())

	require.NoError(t, e.reconcile(context.Background(), f.ID))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2) // original + conflict copy

	data, ok := fake.Get("/remote/A/notes.txt")
	require.True(t, ok)
	require.Equal(t, "local v2", string(data))
}

func TestReconcile_LocalDeletionPropagatesToRemote(t *testing.T) {
	e, fake := newTestEngine(t)
	dir := t.TempDir()
	fake.Put("/remote/A/gone.txt", []byte("bye"), "h", time.Now().UTC().Add(-time.Hour))

	f := registerFolder(t, e, dir, "/remote/A", resolve.LastWriteWins)
	require.NoError(t, e.store.UpsertFile(&store.FileMetadata{
		FolderID: f.ID, RelativePath: "gone.txt", Size: 3, ModifiedAt: time.Now().UTC().Add(-time.Hour),
		ContentHash: "h", SyncState: store.StateSynced,
	}))

	require.NoError(t, e.reconcile(context.Background(), f.ID))

	_, ok := fake.Get("/remote/A/gone.txt")
	require.False(t, ok)

	meta, err := e.store.GetFile(f.ID, "gone.txt")
	require.NoError(t, err)
	require.Nil(t, meta)
}

func TestReconcile_TransientUploadFailureRetriesThenSucceeds(t *testing.T) {
	original := retryDelays
	retryDelays = []time.Duration{5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond}
	defer func() { retryDelays = original }()

	e, fake := newTestEngine(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flaky.txt"), []byte("payload"), 0o644))
	fake.FailUploadsUntil = 2

	var errCount int
	e.SetErrorCallback(func(_, _ string, _ error) { errCount++ })

	f := registerFolder(t, e, dir, "/remote/A", resolve.LastWriteWins)
	require.NoError(t, e.reconcile(context.Background(), f.ID))

	data, ok := fake.Get("/remote/A/flaky.txt")
	require.True(t, ok)
	require.Equal(t, "payload", string(data))
	require.Equal(t, 2, errCount)
}

func TestReconcile_PermanentUploadFailureMarksFileError(t *testing.T) {
	original := retryDelays
	retryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { retryDelays = original }()

	e, fake := newTestEngine(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doomed.txt"), []byte("payload"), 0o644))
	fake.FailUploadsUntil = 1000 // exceeds the retry budget, so every attempt fails

	f := registerFolder(t, e, dir, "/remote/A", resolve.LastWriteWins)
	require.NoError(t, e.reconcile(context.Background(), f.ID))

	_, ok := fake.Get("/remote/A/doomed.txt")
	require.False(t, ok)

	meta, err := e.store.GetFile(f.ID, "doomed.txt")
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.Equal(t, store.StateError, meta.SyncState)
}

func TestReconcile_SucceedsTwiceWithoutRedetectingSettledFiles(t *testing.T) {
	e, fake := newTestEngine(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("local v2"), 0o644))

	f := registerFolder(t, e, dir, "/remote/A", resolve.LastWriteWins)
	require.NoError(t, e.reconcile(context.Background(), f.ID))

	data, ok := fake.Get("/remote/A/notes.txt")
	require.True(t, ok)
	require.Equal(t, "local v2", string(data))

	// With nothing changed on either side, a second reconciliation must
	// not re-upload the already-settled file.
	uploadsBefore := len(fake.Changes())
	require.NoError(t, e.reconcile(context.Background(), f.ID))
	require.Equal(t, uploadsBefore, len(fake.Changes()))
}

func TestReconcile_KeepBothConvergesOnSecondPass(t *testing.T) {
	e, fake := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("local v2"), 0o644))

	f := registerFolder(t, e, dir, "/remote/A", resolve.KeepBoth)

	oldTime := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, e.store.UpsertFile(&store.FileMetadata{
		FolderID: f.ID, RelativePath: "notes.txt", Size: 2, ModifiedAt: oldTime,
		ContentHash: "stale-hash", SyncState: store.StateSynced,
	}))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now()))
	fake.Put("/remote/A/notes.txt", []byte("remote v2"), "h2", time.Now().UTC())

	require.NoError(t, e.reconcile(context.Background(), f.ID))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2) // original + conflict copy

	// The conflict copy on disk must not be picked up as a new local
	// change (and re-uploaded as a fresh conflict) on the next pass.
	changesBefore := len(fake.Changes())
	require.NoError(t, e.reconcile(context.Background(), f.ID))
	require.Equal(t, changesBefore, len(fake.Changes()))

	conflicts, err := e.store.PendingConflicts(f.ID)
	require.NoError(t, err)
	require.Empty(t, conflicts)
}

func TestWithin_HandlesRootAndShortRelativePaths(t *testing.T) {
	root := string(filepath.Separator) + filepath.Join("home", "alice", "Folder")

	require.True(t, within(root, root)) // rel == "."
	require.True(t, within(filepath.Join(root, "a"), root))
	require.True(t, within(filepath.Join(root, "x.txt"), root))
	require.False(t, within(filepath.Join(filepath.Dir(root), "other"), root))
}
