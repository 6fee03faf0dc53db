package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foldersync/agent/internal/config"
	"github.com/foldersync/agent/internal/remote"
)

func init() {
	rootCmd.AddCommand(newLoginCmd())
}

func newLoginCmd() *cobra.Command {
	var username string
	var password string
	var serverURL string
	var quiet bool

	cmd := &cobra.Command{
		Use:     "login",
		Aliases: []string{"init"},
		Short:   "Authenticate against the sync server and persist settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := resolveConfigPath(cmd)

			settings, err := config.LoadFromFile(configPath)
			if err != nil {
				if !os.IsNotExist(err) {
					return err
				}
				settings = config.New()
				settings.Path = configPath
			}
			if serverURL != "" {
				settings.ServerURL = serverURL
			}

			if username == "" {
				return fmt.Errorf("%s: --username is required", red("ERROR"))
			}
			if password == "" {
				return fmt.Errorf("%s: --password is required", red("ERROR"))
			}

			rc := remote.NewHTTPClient(serverBaseURL(settings))
			token, err := rc.Authenticate(cmd.Context(), username, password)
			if err != nil {
				return fmt.Errorf("%s: %w", red("ERROR"), err)
			}

			settings.Username = username
			settings.RefreshToken = token

			if err := settings.Validate(); err != nil {
				return err
			}
			if err := settings.Save(); err != nil {
				return err
			}

			if !quiet {
				fmt.Println(green("Logged in"))
				printSettings(settings)
			}
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringVarP(&username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	cmd.Flags().StringVarP(&serverURL, "server-url", "s", "", "sync server URL")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "disable output")

	return cmd
}

func printSettings(s *config.Settings) {
	fmt.Printf("%s\t%s\n", lightGray("Username"), cyan(s.Username))
	fmt.Printf("%s\t%s\n", lightGray("Data dir"), cyan(s.DataDir))
	fmt.Printf("%s\t%s\n", lightGray("Config"), s.Path)
	fmt.Printf("%s\t%s\n", lightGray("Server"), s.ServerURL)
}
