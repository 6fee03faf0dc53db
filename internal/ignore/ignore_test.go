package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldIgnore_Defaults(t *testing.T) {
	dir := t.TempDir()
	l := Load(dir)

	require.True(t, l.ShouldIgnore(filepath.Join(dir, ".git")))
	require.True(t, l.ShouldIgnore(filepath.Join(dir, "build.log")))
	require.False(t, l.ShouldIgnore(filepath.Join(dir, "notes.txt")))
}

func TestShouldIgnore_CustomFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("secrets/\n*.key\n"), 0o644))

	l := Load(dir)
	require.True(t, l.ShouldIgnore(filepath.Join(dir, "secrets", "a.txt")))
	require.True(t, l.ShouldIgnore(filepath.Join(dir, "id.key")))
	require.False(t, l.ShouldIgnore(filepath.Join(dir, "notes.txt")))
}

func TestShouldIgnore_RelativeInput(t *testing.T) {
	dir := t.TempDir()
	l := Load(dir)
	require.True(t, l.ShouldIgnore(".DS_Store"))
}
