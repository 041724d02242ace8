// Package config loads Preflight's configuration from an optional config
// file, environment variables (PREFLIGHT_ prefix), and built-in defaults.
package config

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Log      LogConfig      `mapstructure:"log"`
	Presence PresenceConfig `mapstructure:"presence"`
}

// ServerConfig configures the HTTP+WS listener.
type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"`
}

// StoreConfig configures the snapshot persistence layer.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PresenceConfig documents the agent-presence debounce window. GraceSeconds
// is informational only: presence.GracePeriod is a build-time constant
// (spec.md §4.6) and is never read from this field at runtime.
type PresenceConfig struct {
	GraceSeconds int `mapstructure:"grace_seconds"`
}
