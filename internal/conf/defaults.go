// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "notigate")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/notigate.log")

	viper.SetDefault("dedup.debug", false)
	viper.SetDefault("dedup.defaultwindow", 30*time.Second)
	viper.SetDefault("dedup.windowoverrides", map[string]time.Duration{})
	viper.SetDefault("dedup.maxhistoryage", 24*time.Hour)
	viper.SetDefault("dedup.cleanupinterval", 5*time.Minute)
	viper.SetDefault("dedup.cleanupbatchsize", 500)
	viper.SetDefault("dedup.durablelookup", true)
	viper.SetDefault("dedup.querytimeout", 2*time.Second)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "notigate.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "notigate")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "notigate")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")
}
