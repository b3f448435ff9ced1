// Package config handles chime configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for chime.
type Config struct {
	// Server identifies the chat account and transport.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Cache settings for the local scrollback database.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Sync settings for the event loop.
	Sync SyncConfig `yaml:"sync" mapstructure:"sync"`

	// Logging settings.
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// TUI settings.
	TUI TUIConfig `yaml:"tui" mapstructure:"tui"`
}

// ServerConfig identifies the account and how to reach the network.
type ServerConfig struct {
	// Homeserver is the base URL of the user's homeserver.
	Homeserver string `yaml:"homeserver" mapstructure:"homeserver"`

	// User is the full user id, e.g. "@alice:example.org".
	User string `yaml:"user" mapstructure:"user"`

	// DeviceID identifies this client installation to the server.
	DeviceID string `yaml:"device_id" mapstructure:"device_id"`

	// PasswordCmd is an argv executed to obtain the account password; its
	// stdout (trimmed) is the password. When empty, chime prompts on the
	// terminal before starting the TUI.
	PasswordCmd []string `yaml:"password_cmd" mapstructure:"password_cmd"`

	// Transport selects the protocol implementation ("loopback" is the only
	// built-in; real transports register at build time).
	Transport string `yaml:"transport" mapstructure:"transport"`
}

// CacheConfig contains scrollback cache settings.
type CacheConfig struct {
	// Path is the SQLite cache file; empty uses DataDir()/scrollback.db.
	Path string `yaml:"path" mapstructure:"path"`

	// MessageLimit bounds how many messages per room are restored at start.
	MessageLimit int `yaml:"message_limit" mapstructure:"message_limit"`

	// Disabled turns the cache off entirely.
	Disabled bool `yaml:"disabled" mapstructure:"disabled"`
}

// SyncConfig contains event-loop settings.
type SyncConfig struct {
	// PageSize bounds backward history fetches.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`

	// TickInterval forces a periodic redraw even with no events.
	TickInterval time.Duration `yaml:"tick_interval" mapstructure:"tick_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is the log file path; empty uses DataDir()/chime.log. The TUI
	// owns the terminal, so logs never go to stderr while it runs.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// TUIConfig contains terminal UI settings.
type TUIConfig struct {
	// RoomStripWidth is the width of the room list column.
	RoomStripWidth int `yaml:"room_strip_width" mapstructure:"room_strip_width"`

	// ShowTimestamps shows message timestamps in the timeline.
	ShowTimestamps bool `yaml:"show_timestamps" mapstructure:"show_timestamps"`
}

// TransportLoopback is the built-in in-process transport.
const TransportLoopback = "loopback"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: TransportLoopback,
		},
		Cache: CacheConfig{
			MessageLimit: 200,
		},
		Sync: SyncConfig{
			PageSize:     50,
			TickInterval: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		TUI: TUIConfig{
			RoomStripWidth: 25,
			ShowTimestamps: false,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Sync.PageSize < 1 {
		return fmt.Errorf("sync.page_size must be at least 1")
	}
	if c.Sync.TickInterval < 100*time.Millisecond {
		return fmt.Errorf("sync.tick_interval must be at least 100ms")
	}
	if c.Cache.MessageLimit < 1 {
		return fmt.Errorf("cache.message_limit must be at least 1")
	}
	if c.TUI.RoomStripWidth < 10 {
		return fmt.Errorf("tui.room_strip_width must be at least 10")
	}
	if c.Server.Transport == "" {
		return fmt.Errorf("server.transport is required")
	}
	if c.Server.Transport != TransportLoopback {
		if c.Server.Homeserver == "" {
			return fmt.Errorf("server.homeserver is required for transport %q", c.Server.Transport)
		}
		if c.Server.User == "" {
			return fmt.Errorf("server.user is required for transport %q", c.Server.Transport)
		}
	}
	return nil
}

// DataDir is where chime stores its cache and logs.
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "chime")
}

// ConfigDir is where config files are looked up.
func ConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "chime")
}

// CachePath returns the scrollback cache path.
func (c *Config) CachePath() string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	return filepath.Join(DataDir(), "scrollback.db")
}

// LogFile returns the log file path.
func (c *Config) LogFile() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(DataDir(), "chime.log")
}

// EnsureDirectories creates the directories the client writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{DataDir(), filepath.Dir(c.CachePath()), filepath.Dir(c.LogFile())} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
