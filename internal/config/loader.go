package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with precedence:
// defaults < config file < environment variables.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a configuration loader. If configFile is empty the
// loader searches the standard locations.
func NewLoader(configFile string) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("chime")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CHIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, configFile: configFile}
}

// Load reads configuration and returns the merged result.
func (l *Loader) Load() (*Config, error) {
	defaults := DefaultConfig()
	l.setDefaults(defaults)

	if err := l.v.ReadInConfig(); err != nil {
		if l.configFile != "" {
			return nil, fmt.Errorf("read config file %s: %w", l.configFile, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Cache.Path = expandTilde(cfg.Cache.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ConfigFileUsed returns the path of the config file that was loaded,
// or empty if none was found.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) setDefaults(c *Config) {
	l.v.SetDefault("server.homeserver", c.Server.Homeserver)
	l.v.SetDefault("server.user", c.Server.User)
	l.v.SetDefault("server.device_id", c.Server.DeviceID)
	l.v.SetDefault("server.transport", c.Server.Transport)
	l.v.SetDefault("cache.path", c.Cache.Path)
	l.v.SetDefault("cache.message_limit", c.Cache.MessageLimit)
	l.v.SetDefault("cache.disabled", c.Cache.Disabled)
	l.v.SetDefault("sync.page_size", c.Sync.PageSize)
	l.v.SetDefault("sync.tick_interval", c.Sync.TickInterval)
	l.v.SetDefault("logging.level", c.Logging.Level)
	l.v.SetDefault("logging.format", c.Logging.Format)
	l.v.SetDefault("logging.file", c.Logging.File)
	l.v.SetDefault("logging.enable_caller", c.Logging.EnableCaller)
	l.v.SetDefault("tui.room_strip_width", c.TUI.RoomStripWidth)
	l.v.SetDefault("tui.show_timestamps", c.TUI.ShowTimestamps)
}

func expandTilde(path string) string {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
