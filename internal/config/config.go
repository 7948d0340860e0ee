// Package config provides Viper-based configuration loading for the relay server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP/WebSocket listener settings.
type ServerConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// StaticDir is the directory served at /, "" disables static serving.
	StaticDir string `mapstructure:"static_dir"`
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// WriteTimeout is the per-frame websocket write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PingInterval is the keepalive ping period; must be shorter than PongTimeout.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// PongTimeout is the read deadline renewed on every pong.
	PongTimeout time.Duration `mapstructure:"pong_timeout"`
	// MaxMessageBytes caps the size of a single inbound websocket frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
	// SendBuffer is the per-connection outbound queue length; a connection
	// whose queue overflows is dropped rather than blocking the room.
	SendBuffer int `mapstructure:"send_buffer"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RoomsConfig holds the fixed room enumeration. Rooms are a startup-time
// constant list; there is no runtime mutation of available rooms.
type RoomsConfig struct {
	// Names lists the rooms clients may join, in the order reported to clients.
	Names []string `mapstructure:"names"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Rooms   RoomsConfig   `mapstructure:"rooms"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing
// all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRooms(c.Rooms); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if s.PingInterval <= 0 {
		errs = append(errs, "server.ping_interval must be positive")
	}
	if s.PongTimeout <= s.PingInterval {
		errs = append(errs, "server.pong_timeout must exceed server.ping_interval")
	}
	if s.MaxMessageBytes < 1 {
		errs = append(errs, fmt.Sprintf("server.max_message_bytes must be >= 1, got %d", s.MaxMessageBytes))
	}
	if s.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("server.send_buffer must be >= 1, got %d", s.SendBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRooms(r RoomsConfig) error {
	if len(r.Names) == 0 {
		return fmt.Errorf("rooms.names must list at least one room")
	}
	seen := make(map[string]bool, len(r.Names))
	var errs []string
	for _, name := range r.Names {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, "rooms.names must not contain empty names")
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Sprintf("rooms.names contains duplicate %q", name))
		}
		seen[name] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with RELAY_ prefix
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default builds the default configuration without reading a file. Used when
// the server runs with no config file present.
//
// Postcondition: Returns a Config that passes Validate.
func Default() Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults are statically valid; Unmarshal over them cannot fail.
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.static_dir", "web/static")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.ping_interval", "54s")
	v.SetDefault("server.pong_timeout", "60s")
	v.SetDefault("server.max_message_bytes", 4096)
	v.SetDefault("server.send_buffer", 256)

	v.SetDefault("rooms.names", []string{"lobby", "general", "random"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
