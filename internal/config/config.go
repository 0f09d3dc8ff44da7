// Package config loads and validates the sqlbridge connection catalog.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ErrUnknownConnection is returned when a connection name is not in the catalog.
var ErrUnknownConnection = errors.New("connection not found in config")

// Config represents the root configuration structure
type Config struct {
	Connections []Connection `mapstructure:"connections"`
	LogLevel    string       `mapstructure:"log_level"`
	LogFile     string       `mapstructure:"log_file"`
	// SkipHostKeyVerification disables SSH host key checks. Insecure; every
	// tunnel established with this set logs a security warning.
	SkipHostKeyVerification bool `mapstructure:"skip_host_key_verification"`
}

// Connection describes one named database target. Immutable after load.
type Connection struct {
	Name            string  `mapstructure:"name"`
	Type            string  `mapstructure:"type"`
	Host            string  `mapstructure:"host"`
	Port            int     `mapstructure:"port"`
	Database        string  `mapstructure:"database"`
	Username        string  `mapstructure:"username"`
	Password        string  `mapstructure:"password"`
	PasswordCommand string  `mapstructure:"password_command"`
	Tunnel          *Tunnel `mapstructure:"ssh_tunnel"`
}

// Tunnel is the SSH tunnel spec for a connection. Exactly one of two shapes
// is valid: explicit parameters (Host/User, optional Port/KeyPath) or a named
// reference into the user's ~/.ssh/config (SSHConfig).
type Tunnel struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	KeyPath   string `mapstructure:"key_path"`
	SSHConfig string `mapstructure:"ssh_config"`
}

// IsConfigRef reports whether the tunnel resolves through ~/.ssh/config.
func (t *Tunnel) IsConfigRef() bool {
	return t.SSHConfig != ""
}

// Load reads configuration from the default locations
// (~/.config/sqlbridge/config.yaml, then the current directory) plus
// SQLBRIDGE_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.config/sqlbridge")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvPrefix("SQLBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	return unmarshal(v)
}

// LoadFromPath reads configuration from an explicit file path.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyConnectionDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Get returns the descriptor for name, or ErrUnknownConnection.
func (c *Config) Get(name string) (*Connection, error) {
	for i := range c.Connections {
		if c.Connections[i].Name == name {
			return &c.Connections[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownConnection, name)
}

// Names lists all configured connection names in catalog order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Connections))
	for i := range c.Connections {
		names = append(names, c.Connections[i].Name)
	}
	return names
}

// NeedsTunnel reports whether this connection requires an SSH tunnel.
func (c *Connection) NeedsTunnel() bool {
	return c.Tunnel != nil
}

// Validate validates the configuration values
func Validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Connections))
	for i := range cfg.Connections {
		conn := &cfg.Connections[i]
		if conn.Name == "" {
			return fmt.Errorf("connections[%d]: name cannot be empty", i)
		}
		if seen[conn.Name] {
			return fmt.Errorf("duplicate connection name %q", conn.Name)
		}
		seen[conn.Name] = true

		switch conn.Type {
		case "postgres", "postgresql":
		default:
			return fmt.Errorf("connection %q: unsupported type %q", conn.Name, conn.Type)
		}
		if conn.Host == "" {
			return fmt.Errorf("connection %q: host cannot be empty", conn.Name)
		}
		if conn.Port < 1 || conn.Port > 65535 {
			return fmt.Errorf("connection %q: port must be between 1 and 65535, got %d", conn.Name, conn.Port)
		}
		if conn.Database == "" {
			return fmt.Errorf("connection %q: database cannot be empty", conn.Name)
		}
		if conn.Username == "" {
			return fmt.Errorf("connection %q: username cannot be empty", conn.Name)
		}

		if t := conn.Tunnel; t != nil {
			if err := validateTunnel(conn.Name, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateTunnel(name string, t *Tunnel) error {
	if t.IsConfigRef() {
		// Named reference: explicit parameters must not be mixed in.
		if t.Host != "" || t.User != "" || t.KeyPath != "" {
			return fmt.Errorf("connection %q: ssh_tunnel must be either explicit parameters or an ssh_config reference, not both", name)
		}
		return nil
	}
	if t.Host == "" {
		return fmt.Errorf("connection %q: ssh_tunnel.host cannot be empty", name)
	}
	if t.User == "" {
		return fmt.Errorf("connection %q: ssh_tunnel.user cannot be empty", name)
	}
	if t.Port < 1 || t.Port > 65535 {
		return fmt.Errorf("connection %q: ssh_tunnel.port must be between 1 and 65535, got %d", name, t.Port)
	}
	return nil
}

// applyDefaults sets default configuration values
func applyDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("skip_host_key_verification", false)
}

// applyConnectionDefaults fills per-connection defaults that viper's
// SetDefault cannot reach inside list elements.
func applyConnectionDefaults(cfg *Config) {
	for i := range cfg.Connections {
		conn := &cfg.Connections[i]
		if conn.Type == "" {
			conn.Type = "postgres"
		}
		if conn.Port == 0 {
			conn.Port = 5432
		}
		if conn.Tunnel != nil && !conn.Tunnel.IsConfigRef() && conn.Tunnel.Port == 0 {
			conn.Tunnel.Port = 22
		}
	}
}
