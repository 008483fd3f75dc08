package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tphakala/notigate/cmd"
	"github.com/tphakala/notigate/internal/conf"
	"github.com/tphakala/notigate/internal/datastore"
	"github.com/tphakala/notigate/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	settings, err := conf.Load()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	logging.Init(level)
	if settings.Main.Log.Enabled {
		fileLogger, closeLogger, err := logging.NewFileLogger(settings.Main.Log.Path, settings.Main.Name, level)
		if err != nil {
			return fmt.Errorf("error opening log file %s: %w", settings.Main.Log.Path, err)
		}
		defer func() {
			if err := closeLogger(); err != nil {
				fmt.Fprintf(os.Stderr, "error closing log file: %v\n", err)
			}
		}()
		logging.SetGlobal(fileLogger)
	}
	datastore.SetLogger(logging.ForService("datastore"))

	return cmd.RootCommand(settings).Execute()
}
