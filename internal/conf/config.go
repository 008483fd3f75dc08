// config.go: settings struct and functions to load and validate the engine configuration.
package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// DedupSettings contains the deduplication engine configuration.
// Immutable after Load; the engine takes a copy at construction.
type DedupSettings struct {
	Debug            bool                     // true to enable per-decision debug logging
	DefaultWindow    time.Duration            // dedup window applied when no per-type override exists
	WindowOverrides  map[string]time.Duration // per event type window overrides
	MaxHistoryAge    time.Duration            // retention horizon for both tiers
	CleanupInterval  time.Duration            // how often the cleanup scheduler runs
	CleanupBatchSize int                      // max records deleted per durable-tier batch
	DurableLookup    bool                     // consult the durable tier on admission checks
	QueryTimeout     time.Duration            // per-call durable tier timeout
}

// LogSettings contains settings for the engine's file log output.
type LogSettings struct {
	Enabled bool   // true to write engine logs to a file
	Path    string // path to log file
}

// TelemetrySettings contains settings for the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool   // true to expose Prometheus metrics
	Listen  string // listen address, e.g. "0.0.0.0:8090"
}

// Settings contains all application settings.
type Settings struct {
	Debug bool // true to enable debug level logging

	Main struct {
		Name string      // instance name, used as a source tag in logs
		Log  LogSettings // log settings
	}

	Dedup DedupSettings // deduplication engine settings

	Output struct {
		SQLite struct {
			Enabled bool   // true to enable sqlite durable tier
			Path    string // path to sqlite database
		}

		MySQL struct {
			Enabled  bool   // true to enable mysql durable tier
			Username string // username for mysql database
			Password string // password for mysql database
			Database string // database name for mysql database
			Host     string // host for mysql database
			Port     string // port for mysql database
		}
	}

	Telemetry TelemetrySettings // Prometheus telemetry settings
}

// Load reads the configuration file, applies defaults and returns the settings.
func Load() (*Settings, error) {
	setDefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/notigate")
	viper.AddConfigPath("/etc/notigate")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asConfigNotFound(err, &notFound) {
			return nil, fmt.Errorf("fatal error reading config file: %w", err)
		}
		// No config file is fine, defaults apply.
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

func asConfigNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok { //nolint:errorlint // viper returns this as a value
		*target = e
		return true
	}
	return false
}
