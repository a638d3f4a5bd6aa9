// Package config provides Viper-based configuration loading for the master server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// GatewayConfig holds the TCP control-protocol listener settings.
type GatewayConfig struct {
	// Host is the bind address for the TCP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port clients connect to for lobby control.
	Port int `mapstructure:"port"`
	// WriteTimeout is the per-write deadline for pushed envelopes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" listen address.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// RelayConfig holds the UDP match-relay settings.
type RelayConfig struct {
	// Host is the bind address for the relay UDP socket.
	Host string `mapstructure:"host"`
	// Port is the UDP port the relay listens on.
	Port int `mapstructure:"port"`
	// PublicHost is the address advertised to clients in START_GAME pushes.
	// Falls back to Host when empty.
	PublicHost string `mapstructure:"public_host"`
	// TickRate is the broadcast cadence in frames per second.
	TickRate int `mapstructure:"tick_rate"`
}

// Addr returns the "host:port" bind address.
func (r RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AdvertisedAddr returns the address clients should dial, preferring PublicHost.
func (r RelayConfig) AdvertisedAddr() string {
	host := r.PublicHost
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s:%d", host, r.Port)
}

// RendezvousConfig holds the UDP hole-punch registry settings.
type RendezvousConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the "host:port" bind address.
func (r RendezvousConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
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
	Database   DatabaseConfig   `mapstructure:"database"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Rendezvous RendezvousConfig `mapstructure:"rendezvous"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateDatabase(c.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGateway(c.Gateway); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRelay(c.Relay); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRendezvous(c.Rendezvous); err != nil {
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

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGateway(g GatewayConfig) error {
	var errs []string
	if g.Port < 1 || g.Port > 65535 {
		errs = append(errs, fmt.Sprintf("gateway.port must be 1-65535, got %d", g.Port))
	}
	if g.WriteTimeout < 0 {
		errs = append(errs, "gateway.write_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRelay(r RelayConfig) error {
	var errs []string
	if r.Port < 1 || r.Port > 65535 {
		errs = append(errs, fmt.Sprintf("relay.port must be 1-65535, got %d", r.Port))
	}
	if r.TickRate < 1 || r.TickRate > 240 {
		errs = append(errs, fmt.Sprintf("relay.tick_rate must be 1-240, got %d", r.TickRate))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRendezvous(r RendezvousConfig) error {
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("rendezvous.port must be 1-65535, got %d", r.Port)
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

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with TANK_ prefix
	v.SetEnvPrefix("TANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
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

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tank")
	v.SetDefault("database.password", "tank")
	v.SetDefault("database.name", "tank")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 5000)
	v.SetDefault("gateway.write_timeout", "30s")

	v.SetDefault("relay.host", "0.0.0.0")
	v.SetDefault("relay.port", 5001)
	v.SetDefault("relay.tick_rate", 60)

	v.SetDefault("rendezvous.host", "0.0.0.0")
	v.SetDefault("rendezvous.port", 5002)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
