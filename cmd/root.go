package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/notigate/cmd/cleanup"
	"github.com/tphakala/notigate/cmd/replay"
	"github.com/tphakala/notigate/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "notigate",
		Short: "Notification admission and deduplication engine",
	}

	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		replay.Command(settings),
		cleanup.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().DurationVar(&settings.Dedup.DefaultWindow, "window", viper.GetDuration("dedup.defaultwindow"), "Default deduplication window")
	rootCmd.PersistentFlags().DurationVar(&settings.Dedup.MaxHistoryAge, "max-history-age", viper.GetDuration("dedup.maxhistoryage"), "Retention horizon for stored events")
	rootCmd.PersistentFlags().StringVar(&settings.Output.SQLite.Path, "db", viper.GetString("output.sqlite.path"), "Path to the SQLite event database")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
