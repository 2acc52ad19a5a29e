package main

import (
	"fmt"

	"github.com/fyrsmithlabs/ptw/internal/config"
	"github.com/fyrsmithlabs/ptw/internal/settings"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read or change synced settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the expiry timeout in minutes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSettings()
		if err != nil {
			return err
		}
		minutes, err := store.Timeout(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "timeout: %d\n", minutes)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <minutes>",
	Short: "Set the expiry timeout in minutes",
	Long: `Set the expiry timeout. Running page sessions pick up the change
without restarting.

Examples:
  ptw settings set 15`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		minutes, err := settings.ParseTimeoutInput(args[0])
		if err != nil {
			return err
		}
		store, err := openSettings()
		if err != nil {
			return err
		}
		if err := store.SetTimeout(cmd.Context(), minutes); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "timeout: %d\n", minutes)
		return nil
	},
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Create the config directory and seed default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.EnsureDir(); err != nil {
			return err
		}
		store, err := openSettings()
		if err != nil {
			return err
		}
		if err := store.Install(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "settings written to %s\n", store.Path())
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

func openSettings() (*settings.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return settings.New(cfg.Settings.Path, cfg.Settings.DefaultTimeout, logger), nil
}
