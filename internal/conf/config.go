// Package conf loads and holds the application configuration.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled bool   // true to enable this log
	Path    string // path to log file
}

// DetectionSettings control how raw classifier output is normalized.
type DetectionSettings struct {
	ConfidenceThreshold float64 // minimum score for a raw detection to be retained
	NMSThreshold        float64 // IoU above which same-class boxes are collapsed
}

// Cooldown key scopes. The grouping identity under which alert suppression
// state is tracked is an explicit configuration choice.
const (
	ScopeSpecies       = "species"
	ScopeSpeciesSource = "species_source"
	ScopeGlobal        = "global"
)

// AlertSettings control the cooldown policy engine.
type AlertSettings struct {
	Cooldown time.Duration // minimum interval between alerts for the same key
	Scope    string        // cooldown key scope: species, species_source or global
}

// ChannelConfig describes one outbound notification channel.
type ChannelConfig struct {
	Name         string // unique channel name, used in attempt records
	Type         string // shoutrrr, webhook, mqtt or script
	Enabled      bool
	Priority     int           // lower value is tried first
	MaxRetries   int           // delivery attempt budget per alert, first try included
	Backoff      time.Duration // initial retry delay, doubled per attempt
	MaxBackoff   time.Duration // cap for the retry delay
	Timeout      time.Duration // per-attempt timeout
	Concurrency  int           // max in-flight attempts for this channel
	MonthlyQuota int           // 0 means unlimited

	// shoutrrr
	URLs []string

	// webhook
	Endpoint string
	Method   string
	Headers  map[string]string

	// mqtt
	Broker   string
	Topic    string
	Username string
	Password string
	ClientID string

	// script
	Command string
	Args    []string
}

// NotifySettings hold the dispatcher configuration.
type NotifySettings struct {
	Enabled  bool
	Channels []ChannelConfig
}

// RetentionSettings control the scheduled pruning of old detection records.
type RetentionSettings struct {
	Enabled       bool
	Days          int           // records older than this are pruned
	CheckInterval time.Duration // how often the maintenance pass runs
}

// Settings contains all configuration options for rodentwatch.
type Settings struct {
	Debug bool // true to enable debug mode

	Main struct {
		Name string    // name of this node, used to identify the source of records
		Log  LogConfig // main logging configuration
	}

	Detection DetectionSettings
	Alerts    AlertSettings
	Notify    NotifySettings
	Retention RetentionSettings

	Realtime struct {
		EvidencePath   string        // directory for captured evidence images
		HealthInterval time.Duration // interval between health/stats log lines

		Telemetry struct {
			Enabled bool   // true to expose Prometheus metrics
			Listen  string // listen address for the metrics endpoint
		}
	}

	Output struct {
		SQLite struct {
			Enabled bool   // true to enable sqlite output
			Path    string // path to sqlite database
		}

		MySQL struct {
			Enabled  bool
			Username string
			Password string
			Database string
			Host     string
			Port     string
		}
	}
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration into the global settings instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
		// No config file found, defaults plus flags apply.
	}

	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}

	return []string{
		".",
		filepath.Join(homeDir, ".config", "rodentwatch"),
		"/etc/rodentwatch",
	}, nil
}

// Setting returns the global settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				panic(fmt.Sprintf("error loading settings: %v", err))
			}
		}
	})

	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
