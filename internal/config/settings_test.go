package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_Validate_NormalizesAndDefaults(t *testing.T) {
	tmp := t.TempDir()
	s := &Settings{
		DataDir:   tmp,
		Username:  "Alice@Example.com",
		ServerURL: "http://127.0.0.1:8080",
		Path:      filepath.Join(tmp, "settings.json"),
	}

	require.NoError(t, s.Validate())
	assert.True(t, filepath.IsAbs(s.DataDir))
	assert.Equal(t, "alice@example.com", s.Username)
	assert.Equal(t, DefaultConflictResolution, s.ConflictResolution)
	assert.Equal(t, DefaultMaxConcurrentTransfers, s.MaxConcurrentTransfers)
	assert.Equal(t, DefaultSyncIntervalSeconds, s.SyncInterval)
}

func TestSettings_Validate_ErrorsOnInvalidInputs(t *testing.T) {
	tmp := t.TempDir()

	t.Run("bad username", func(t *testing.T) {
		s := &Settings{DataDir: tmp, Username: "not-an-email", ServerURL: "http://127.0.0.1:8080"}
		assert.Error(t, s.Validate())
	})

	t.Run("bad server url", func(t *testing.T) {
		s := &Settings{DataDir: tmp, ServerURL: "ftp://bad.example.com"}
		err := s.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "server url")
	})

	t.Run("bad conflict mode", func(t *testing.T) {
		s := &Settings{DataDir: tmp, ServerURL: "http://127.0.0.1:8080", ConflictResolution: "fight-about-it"}
		assert.ErrorIs(t, s.Validate(), ErrInvalidConflictMode)
	})
}

func TestSettings_SaveAndLoad_Roundtrip(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "settings.json")

	s := New()
	s.DataDir = tmp
	s.Username = "alice@example.com"
	s.ServerURL = "http://127.0.0.1:8080"
	s.RefreshToken = "rtok"
	s.AccessToken = "atok" // should not persist
	s.Path = path

	require.NoError(t, s.Validate())
	require.NoError(t, s.Save())

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, s.DataDir, loaded.DataDir)
	assert.Equal(t, s.Username, loaded.Username)
	assert.Equal(t, s.ServerURL, loaded.ServerURL)
	assert.Equal(t, s.RefreshToken, loaded.RefreshToken)
	assert.Equal(t, s.DeviceID, loaded.DeviceID)

	assert.Empty(t, loaded.AccessToken)
	assert.Equal(t, path, loaded.Path)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}
