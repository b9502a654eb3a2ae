// Package config provides persistent configuration storage for ctrlbase.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// Config holds the persistent configuration: the Base's identity and key
// material, and the server it dials.
type Config struct {
	// BaseID is this device's 16-byte identity, sent in authorize phase 1.
	BaseID [16]byte `json:"base_id"`
	// Key is the 16-byte pre-shared AES-128 session key.
	Key [16]byte `json:"key"`
	// ServerIP is the server's IPv4 address.
	ServerIP [4]byte `json:"server_ip"`
	// ServerPort is the server's TCP port.
	ServerPort uint16 `json:"server_port"`

	// WatchedVariables are variable ids this Base requests with GET_VAR once,
	// shortly after "ctrlbase run" starts; the requests are not repeated
	// after a reconnect (supplemental to the native configuration struct).
	WatchedVariables [][4]byte `json:"watched_variables,omitempty"`
}

// Valid reports whether cfg holds a usable configuration. The native format
// used a fixed magic value (0xAA4529BA) in a valid_flag field to mean the
// same thing; here it is a derived predicate over the fields that must be
// populated for authorize() to make sense.
func (c *Config) Valid() bool {
	return c.BaseID != [16]byte{} && c.Key != [16]byte{} && c.ServerIP != [4]byte{} && c.ServerPort != 0
}

// ServerAddr returns the server address as a dialable "ip:port" string.
func (c *Config) ServerAddr() string {
	ip := net.IPv4(c.ServerIP[0], c.ServerIP[1], c.ServerIP[2], c.ServerIP[3])
	return fmt.Sprintf("%s:%d", ip.String(), c.ServerPort)
}

// DefaultConfigDir returns the default configuration directory.
// Returns ~/.ctrlbase on Unix-like systems, %USERPROFILE%\.ctrlbase on Windows.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".ctrlbase"), nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the configuration from the default config file.
// Returns an empty Config if the file doesn't exist.
func Load() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the configuration from the specified file path.
// Returns an empty Config if the file doesn't exist.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to the default config file.
func (c *Config) Save() error {
	path, err := DefaultConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration to the specified file path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
