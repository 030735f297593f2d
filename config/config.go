// Package config loads the desfirectl runtime configuration: which
// PC/SC reader to open, where the key vault lives, the default
// application to select, and a handful of per-subcommand toggles.
// Grounded on the reset and sdmconfig tools' own internal/config
// packages, which share this same YAML-plus-pointer-fields shape.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationMode selects which config sections Validate requires.
// Not every desfirectl subcommand needs every section populated: a
// bare "ls-apps" run needs a reader and nothing else, while "auth"
// needs the vault section too.
type ValidationMode int

const (
	ValidationFull ValidationMode = iota
	ValidationReaderOnly
)

// Config is the full desfirectl configuration file shape.
type Config struct {
	Reader      ReaderConfig      `yaml:"reader"`
	Vault       VaultConfig       `yaml:"vault"`
	Application ApplicationConfig `yaml:"application"`
	Runtime     RuntimeConfig     `yaml:"runtime"`
}

// ReaderConfig names which PC/SC reader slot to open.
type ReaderConfig struct {
	Index *int `yaml:"index"`
}

// VaultConfig locates the on-disk key vault and the file holding its
// master password. The password itself never lives in this file.
type VaultConfig struct {
	Path         string `yaml:"path"`
	PasswordFile string `yaml:"password_file"`
}

// ApplicationConfig names a default application. Load validates it as
// six hex digits; desfirectl subcommands do not read it and always
// take the application from their own --aid flag.
type ApplicationConfig struct {
	DefaultAIDHex string `yaml:"default_aid"`
}

// RuntimeConfig holds per-subcommand behavioral toggles.
type RuntimeConfig struct {
	PreferNoLe  *bool `yaml:"prefer_no_le"`
	EscapeFirst *bool `yaml:"escape_first"`
}

// Load reads and fully validates path.
func Load(path string) (*Config, error) {
	return LoadWithMode(path, ValidationFull)
}

// LoadWithMode reads path and validates it under the given mode.
func LoadWithMode(path string, mode ValidationMode) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.ValidateWithMode(mode); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs full validation, equivalent to ValidateWithMode(ValidationFull).
func (c *Config) Validate() error {
	return c.ValidateWithMode(ValidationFull)
}

func (c *Config) ValidateWithMode(mode ValidationMode) error {
	if err := c.validateReader(); err != nil {
		return err
	}
	if mode == ValidationReaderOnly {
		return nil
	}
	if err := c.validateVault(); err != nil {
		return err
	}
	return c.validateApplication()
}

func (c *Config) validateReader() error {
	if c.Reader.Index == nil {
		return fmt.Errorf("config.reader.index is required")
	}
	if *c.Reader.Index < 0 {
		return fmt.Errorf("config.reader.index must be >= 0")
	}
	return nil
}

func (c *Config) validateVault() error {
	if strings.TrimSpace(c.Vault.Path) == "" {
		return fmt.Errorf("config.vault.path is required")
	}
	if strings.TrimSpace(c.Vault.PasswordFile) == "" {
		return fmt.Errorf("config.vault.password_file is required")
	}
	return validateReadableFile(c.Vault.PasswordFile, "config.vault.password_file")
}

func (c *Config) validateApplication() error {
	if strings.TrimSpace(c.Application.DefaultAIDHex) == "" {
		return nil
	}
	if len(c.Application.DefaultAIDHex) != 6 {
		return fmt.Errorf("config.application.default_aid must be 6 hex digits")
	}
	for _, r := range c.Application.DefaultAIDHex {
		if !isHexDigit(r) {
			return fmt.Errorf("config.application.default_aid must be hex")
		}
	}
	return nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Vault.Path = resolvePath(configDir, c.Vault.Path)
	c.Vault.PasswordFile = resolvePath(configDir, c.Vault.PasswordFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}

// PreferNoLe returns the configured preference, defaulting to true
// (the transmit engine's own default) when unset.
func (c *Config) PreferNoLe() bool {
	if c.Runtime.PreferNoLe == nil {
		return true
	}
	return *c.Runtime.PreferNoLe
}

// EscapeFirst returns the configured preference, defaulting to false
// when unset.
func (c *Config) EscapeFirst() bool {
	if c.Runtime.EscapeFirst == nil {
		return false
	}
	return *c.Runtime.EscapeFirst
}
