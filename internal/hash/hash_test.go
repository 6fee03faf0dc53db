package hash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile(t *testing.T) {
	tmp := t.TempDir()

	tests := []struct {
		name    string
		content []byte
		want    string
	}{
		{
			name:    "abc",
			content: []byte("abc"),
			want:    "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		},
		{
			name:    "empty",
			content: []byte{},
			want:    EmptyHash,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmp, tt.name+".txt")
			require.NoError(t, os.WriteFile(path, tt.content, 0o644))

			got, err := File(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, 64)
		})
	}
}

func TestFile_NotFound(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFile_IsDirectory(t *testing.T) {
	_, err := File(t.TempDir())
	assert.ErrorIs(t, err, ErrIsDirectory)
}
