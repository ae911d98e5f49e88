// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "rodentwatch")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "rodentwatch.log")

	viper.SetDefault("detection.confidencethreshold", 0.25)
	viper.SetDefault("detection.nmsthreshold", 0.45)

	viper.SetDefault("alerts.cooldown", 10*time.Minute)
	viper.SetDefault("alerts.scope", ScopeSpecies)

	viper.SetDefault("notify.enabled", false)
	viper.SetDefault("notify.channels", []ChannelConfig{})

	viper.SetDefault("retention.enabled", true)
	viper.SetDefault("retention.days", 30)
	viper.SetDefault("retention.checkinterval", time.Hour)

	viper.SetDefault("realtime.evidencepath", "data/images")
	viper.SetDefault("realtime.healthinterval", 5*time.Minute)
	viper.SetDefault("realtime.telemetry.enabled", false)
	viper.SetDefault("realtime.telemetry.listen", "0.0.0.0:8090")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "data/detections.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "rodentwatch")
	viper.SetDefault("output.mysql.database", "rodentwatch")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
}

// ChannelDefaults fills zero-valued retry and concurrency fields of a channel
// configuration with sane values.
func ChannelDefaults(c *ChannelConfig) {
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.Backoff <= 0 {
		c.Backoff = 30 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.Method == "" {
		c.Method = "POST"
	}
}
