// Package config loads and persists the agent's settings file: server
// connection details, sync tuning knobs, and device identity.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/foldersync/agent/internal/utils"
)

func fallback(primary, secondary string) string {
	if primary != "" {
		return primary
	}
	return secondary
}

var (
	home, _          = os.UserHomeDir()
	userConfigDir, _ = os.UserConfigDir()
	DefaultConfigDir = filepath.Join(fallback(userConfigDir, filepath.Join(home, ".config")), "foldersync")

	DefaultConfigPath = filepath.Join(DefaultConfigDir, "settings.json")
	DefaultDataDir    = filepath.Join(home, "FolderSync")
	DefaultLogPath    = filepath.Join(DefaultConfigDir, "logs", "agent.log")

	DefaultServerURL              = "http://localhost"
	DefaultServerPort             = 8000
	DefaultSyncIntervalSeconds    = 60
	DefaultMaxConcurrentTransfers = 4
	DefaultChunkSizeMb            = 10
	DefaultConflictResolution     = "ask"
	DefaultTheme                  = "dark"
)

var (
	ErrInvalidURL          = errors.New("invalid url")
	ErrInvalidEmail        = utils.ErrInvalidEmail
	ErrInvalidConflictMode = errors.New("invalid conflict resolution mode")
)

// conflictModes are the values the settings file accepts for conflictResolution.
// "ask" defers to a manual callback; the rest name a Resolver policy directly.
var conflictModes = map[string]bool{
	"ask":             true,
	"last-write-wins": true,
	"prefer-local":    true,
	"prefer-remote":   true,
	"keep-both":       true,
}

// Settings is the persisted configuration document described by the
// settings file: connection details, sync tuning, and device identity.
type Settings struct {
	ServerURL              string `json:"serverUrl" mapstructure:"server_url"`
	ServerPort             int    `json:"serverPort" mapstructure:"server_port"`
	Username               string `json:"username" mapstructure:"username"`
	DataDir                string `json:"dataDir" mapstructure:"data_dir"`
	AutoStartSync          bool   `json:"autoStartSync" mapstructure:"auto_start_sync"`
	SyncInterval           int    `json:"syncInterval" mapstructure:"sync_interval"`
	MaxConcurrentTransfers int    `json:"maxConcurrentTransfers" mapstructure:"max_concurrent_transfers"`
	BandwidthLimitMbps     int    `json:"bandwidthLimitMbps" mapstructure:"bandwidth_limit_mbps"`
	ConflictResolution     string `json:"conflictResolution" mapstructure:"conflict_resolution"`
	Theme                  string `json:"theme" mapstructure:"theme"`
	EnableDebugLogging     bool   `json:"enableDebugLogging" mapstructure:"enable_debug_logging"`
	ChunkSizeMb            int    `json:"chunkSizeMb" mapstructure:"chunk_size_mb"`
	DeviceID               string `json:"deviceId" mapstructure:"device_id"`
	DeviceName             string `json:"deviceName" mapstructure:"device_name"`
	DeviceRegistered       bool   `json:"deviceRegistered" mapstructure:"device_registered"`

	// RefreshToken persists across restarts; AccessToken never does.
	RefreshToken string `json:"refreshToken,omitempty" mapstructure:"refresh_token"`
	AccessToken  string `json:"-" mapstructure:"access_token"`

	Path string `json:"-" mapstructure:"config_path"`
}

// New returns a Settings populated with the documented defaults.
func New() *Settings {
	name, _ := os.Hostname()
	if name == "" {
		name = "unknown-device"
	}

	return &Settings{
		ServerURL:              DefaultServerURL,
		ServerPort:             DefaultServerPort,
		DataDir:                DefaultDataDir,
		AutoStartSync:          true,
		SyncInterval:           DefaultSyncIntervalSeconds,
		MaxConcurrentTransfers: DefaultMaxConcurrentTransfers,
		ConflictResolution:     DefaultConflictResolution,
		Theme:                  DefaultTheme,
		ChunkSizeMb:            DefaultChunkSizeMb,
		DeviceID:               uuid.NewString(),
		DeviceName:             name,
		Path:                   DefaultConfigPath,
	}
}

func (s *Settings) Save() error {
	if err := utils.EnsureParent(s.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.Path, data, 0o644)
}

func (s *Settings) Validate() error {
	if s.Path == "" {
		s.Path = DefaultConfigPath
	}

	var err error
	s.DataDir, err = utils.ResolvePath(s.DataDir)
	if err != nil {
		return err
	}

	s.Username = strings.ToLower(s.Username)
	if s.Username != "" {
		if err := utils.ValidateEmail(s.Username); err != nil {
			return err
		}
	}

	if err := utils.ValidateURL(s.ServerURL); err != nil {
		return fmt.Errorf("server url: %w", err)
	}

	if s.ConflictResolution == "" {
		s.ConflictResolution = DefaultConflictResolution
	}
	if !conflictModes[s.ConflictResolution] {
		return fmt.Errorf("%w: %q", ErrInvalidConflictMode, s.ConflictResolution)
	}

	if s.MaxConcurrentTransfers <= 0 {
		s.MaxConcurrentTransfers = DefaultMaxConcurrentTransfers
	}
	if s.SyncInterval <= 0 {
		s.SyncInterval = DefaultSyncIntervalSeconds
	}
	if s.ChunkSizeMb <= 0 {
		s.ChunkSizeMb = DefaultChunkSizeMb
	}
	if s.DeviceID == "" {
		s.DeviceID = uuid.NewString()
	}

	return nil
}

func (s Settings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("data_dir", s.DataDir),
		slog.String("server_url", s.ServerURL),
		slog.String("username", s.Username),
		slog.String("conflict_resolution", s.ConflictResolution),
		slog.Int("max_concurrent_transfers", s.MaxConcurrentTransfers),
		slog.Bool("refresh_token", s.RefreshToken != ""),
		slog.Bool("access_token", s.AccessToken != ""),
		slog.String("device_id", s.DeviceID),
		slog.String("path", s.Path),
	)
}

func LoadFromFile(path string) (*Settings, error) {
	path, err := utils.ResolvePath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return LoadFromReader(path, f)
}

func LoadFromReader(path string, reader io.ReadCloser) (*Settings, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	s := New()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}

	s.Path = path
	return s, nil
}
