package detect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foldersync/agent/internal/debounce"
	"github.com/foldersync/agent/internal/remote"
	"github.com/foldersync/agent/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLocal_DetectsCreated(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello\n"), 0o644))

	s := newTestStore(t)
	folderID := s.GenerateID()
	require.NoError(t, s.PutFolder(&store.Folder{ID: folderID, LocalPath: dir, RemotePath: "/A"}))

	d := New(s, remote.NewFake())
	changes, err := d.Local(folderID, dir, nil)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "hello.txt", changes[0].RelativePath)
	require.Equal(t, debounce.Created, changes[0].Type)
	require.Equal(t, "5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03", changes[0].Hash)
}

func TestLocal_DetectsModifiedViaHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	s := newTestStore(t)
	folderID := s.GenerateID()
	require.NoError(t, s.PutFolder(&store.Folder{ID: folderID, LocalPath: dir, RemotePath: "/A"}))
	require.NoError(t, s.UpsertFile(&store.FileMetadata{
		FolderID: folderID, RelativePath: "notes.txt", Size: 2,
		ModifiedAt: time.Now().UTC().Add(-time.Hour), ContentHash: "stale", SyncState: store.StateSynced,
	}))

	require.NoError(t, os.WriteFile(path, []byte("v2-longer"), 0o644))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now()))

	d := New(s, remote.NewFake())
	changes, err := d.Local(folderID, dir, nil)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, debounce.Modified, changes[0].Type)
}

func TestLocal_DetectsDeleted(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t)
	folderID := s.GenerateID()
	require.NoError(t, s.PutFolder(&store.Folder{ID: folderID, LocalPath: dir, RemotePath: "/A"}))
	require.NoError(t, s.UpsertFile(&store.FileMetadata{
		FolderID: folderID, RelativePath: "gone.txt", ModifiedAt: time.Now().UTC(), ContentHash: "x", SyncState: store.StateSynced,
	}))

	d := New(s, remote.NewFake())
	changes, err := d.Local(folderID, dir, nil)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, debounce.Deleted, changes[0].Type)
	require.Equal(t, "gone.txt", changes[0].RelativePath)
}

func TestConflicts_ClassifiesCorrectly(t *testing.T) {
	s := newTestStore(t)
	d := New(s, remote.NewFake())

	local := []DetectedChange{
		{RelativePath: "a.txt", Type: debounce.Modified, Origin: OriginLocal},
		{RelativePath: "b.txt", Type: debounce.Modified, Origin: OriginLocal},
		{RelativePath: "c.txt", Type: debounce.Deleted, Origin: OriginLocal},
		{RelativePath: "d.txt", Type: debounce.Deleted, Origin: OriginLocal},
		{RelativePath: "e", Type: debounce.Created, Origin: OriginLocal, IsDirectory: true},
	}
	remoteChanges := []DetectedChange{
		{RelativePath: "a.txt", Type: debounce.Modified, Origin: OriginRemote},
		{RelativePath: "b.txt", Type: debounce.Deleted, Origin: OriginRemote},
		{RelativePath: "c.txt", Type: debounce.Modified, Origin: OriginRemote},
		{RelativePath: "d.txt", Type: debounce.Deleted, Origin: OriginRemote},
		{RelativePath: "e", Type: debounce.Created, Origin: OriginRemote, IsDirectory: false},
	}

	classified := d.Conflicts(local, remoteChanges)
	byPath := make(map[string]Classifier, len(classified))
	for _, c := range classified {
		byPath[c.RelativePath] = c
	}

	require.Equal(t, store.ModifiedModified, byPath["a.txt"].Classifier)
	require.Equal(t, store.ModifiedDeleted, byPath["b.txt"].Classifier)
	require.Equal(t, store.DeletedModified, byPath["c.txt"].Classifier)
	require.Equal(t, store.TypeMismatch, byPath["e"].Classifier)
	_, hasD := byPath["d.txt"]
	require.False(t, hasD)
}
