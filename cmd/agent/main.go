// Command foldersync-agent is the FolderSync desktop sync agent: a
// bidirectional sync engine driven over a line-delimited JSON command
// channel on stdin/stdout.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/foldersync/agent/internal/config"
	"github.com/foldersync/agent/internal/protocol"
	"github.com/foldersync/agent/internal/remote"
	"github.com/foldersync/agent/internal/resolve"
	"github.com/foldersync/agent/internal/store"
	"github.com/foldersync/agent/internal/supervisor"
	"github.com/foldersync/agent/internal/sync"
	"github.com/foldersync/agent/internal/utils"
	"github.com/foldersync/agent/internal/version"
	"github.com/foldersync/agent/internal/watch"
)

var rootCmd = &cobra.Command{
	Use:     "foldersync",
	Short:   "FolderSync agent",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		showHeader()

		defer slog.Info("Bye!")
		return runAgent(cmd)
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "FolderSync settings file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose (debug) logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	setupLogging()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setupLogging mirrors the daemon's dual-destination logging: colorized
// tint output to the terminal, plain text appended to a single log file
// (the file is not rotated). Stdout
// itself is reserved for the command channel, so human-facing logs go to
// stderr.
// terminalLogLevel is the terminal handler's level; --verbose lowers it to debug.
var terminalLogLevel = new(slog.LevelVar)

func setupLogging() {
	logPath := config.DefaultLogPath
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}

	stdoutHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      terminalLogLevel,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// Time is added by the log interceptor itself.
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	logger := slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler))
	slog.SetDefault(logger)
}

func loadConfig(cmd *cobra.Command) error {
	configPath := resolveConfigPath(cmd)
	viper.SetConfigFile(configPath)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("config read '%s': %w", configPath, err)
			}
		}
	}

	viper.SetEnvPrefix("FOLDERSYNC")
	viper.AutomaticEnv()

	return nil
}

// runAgent loads settings, wires the store/remote/watcher/engine stack and
// the command channel, and blocks draining stdin until shutdown.
func runAgent(cmd *cobra.Command) error {
	configPath := resolveConfigPath(cmd)

	settings, err := config.LoadFromFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		settings = config.New()
		settings.Path = configPath
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		settings.EnableDebugLogging = true
		terminalLogLevel.Set(slog.LevelDebug)
	}
	if viper.IsSet("server_url") {
		settings.ServerURL = viper.GetString("server_url")
	}
	if viper.IsSet("data_dir") {
		settings.DataDir = viper.GetString("data_dir")
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	dbPath := filepath.Join(filepath.Dir(settings.Path), "foldersync.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer st.Close()

	rc := remote.NewHTTPClient(serverBaseURL(settings))
	if settings.RefreshToken != "" {
		rc.SetToken(settings.RefreshToken)
	}

	w := watch.New()

	manualResolve := func(_ context.Context, localPath, remotePath string) (resolve.Policy, error) {
		slog.Warn("sync: conflict awaiting manual resolution", "local", localPath, "remote", remotePath)
		return "", fmt.Errorf("manual resolution pending: resolve via resolve_conflict")
	}

	engine := sync.New(st, rc, w, sync.Config{
		MaxConcurrentTransfers: settings.MaxConcurrentTransfers,
		SyncInterval:           time.Duration(settings.SyncInterval) * time.Second,
	}, manualResolve)

	srv := protocol.New(os.Stdout, slog.Default())
	protocol.RegisterCommands(srv, protocol.Deps{
		Engine:   engine,
		Store:    st,
		Settings: settings,
		Remote:   rc,
	})

	sup := supervisor.New(engine, srv)
	return sup.Run(cmd.Context(), os.Stdin)
}

// serverBaseURL folds settings.ServerPort into the URL when the configured
// server URL didn't already name one.
func serverBaseURL(s *config.Settings) string {
	u, err := url.Parse(s.ServerURL)
	if err != nil || u.Host == "" {
		return s.ServerURL
	}
	if u.Port() == "" && s.ServerPort != 0 {
		u.Host = fmt.Sprintf("%s:%d", u.Hostname(), s.ServerPort)
	}
	return u.String()
}

func showHeader() {
	fmt.Fprintln(os.Stderr, cyan("FolderSync agent"), gray(version.Short()))
}
