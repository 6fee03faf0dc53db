package main

import (
	"os"
	"path/filepath"

	"github.com/foldersync/agent/internal/config"
	"github.com/foldersync/agent/internal/utils"
	"github.com/spf13/cobra"
)

var home, _ = os.UserHomeDir()

// resolveConfigPath determines which settings file path to use, honoring
// (in order):
// 1) An explicitly set --config flag
// 2) FOLDERSYNC_CONFIG_PATH environment variable
// 3) Existing settings files in common locations
// 4) The default path
func resolveConfigPath(cmd *cobra.Command) string {
	if cfgFlag := cmd.Flag("config"); cfgFlag != nil && cfgFlag.Changed {
		return cfgFlag.Value.String()
	}

	if envPath := os.Getenv("FOLDERSYNC_CONFIG_PATH"); envPath != "" {
		return envPath
	}

	candidates := []string{
		config.DefaultConfigPath,
		filepath.Join(home, ".config", "foldersync", "settings.json"),
	}

	for _, candidate := range candidates {
		if utils.FileExists(candidate) {
			return candidate
		}
	}

	return config.DefaultConfigPath
}
