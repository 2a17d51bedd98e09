// Package config loads droidctl settings from TOML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/spf13/viper"
)

const appName = "droidctl"

// Shell modes
const (
	ShellLocal = "local"
	ShellSSH   = "ssh"
)

// Config represents the application configuration
type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Installer InstallerConfig `mapstructure:"installer"`
	Shell     ShellConfig     `mapstructure:"shell"`
	Session   SessionConfig   `mapstructure:"session"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PathsConfig contains path-related configuration
type PathsConfig struct {
	DataDir  string `mapstructure:"data_dir"`
	DBFile   string `mapstructure:"db_file"`
	LogFile  string `mapstructure:"log_file"`
	CacheDir string `mapstructure:"cache_dir"`
}

// InstallerConfig selects and tunes the install backend
type InstallerConfig struct {
	Type             string        `mapstructure:"type"`
	Concurrency      int           `mapstructure:"concurrency"`
	StallTimeout     time.Duration `mapstructure:"stall_timeout"`
	InstallerPackage string        `mapstructure:"installer_package"`
}

// ShellConfig describes how privileged commands reach the managed host
type ShellConfig struct {
	Mode        string    `mapstructure:"mode"`
	RootCommand string    `mapstructure:"root_command"`
	SSH         SSHConfig `mapstructure:"ssh"`
}

// SSHConfig contains remote shell settings
type SSHConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	KeyFile    string        `mapstructure:"key_file"`
	KnownHosts string        `mapstructure:"known_hosts"`
	Sudo       bool          `mapstructure:"sudo"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// SessionConfig configures the package manager session driver
type SessionConfig struct {
	// DeviceShell prefixes device commands, e.g. "adb -s emulator-5554 shell"
	DeviceShell string `mapstructure:"device_shell"`
}

// CacheConfig contains artifact cache settings
type CacheConfig struct {
	CleanupAfter time.Duration `mapstructure:"cleanup_after"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	Color string `mapstructure:"color"`
}

// Load loads configuration from file and environment. An empty configFile
// searches ~/.config/droidctl and the working directory.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".config", appName))
		}
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("DROIDCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Paths.DataDir = expandPath(cfg.Paths.DataDir)
	cfg.Paths.DBFile = expandPath(cfg.Paths.DBFile)
	cfg.Paths.LogFile = expandPath(cfg.Paths.LogFile)
	cfg.Paths.CacheDir = expandPath(cfg.Paths.CacheDir)
	cfg.Shell.SSH.KeyFile = expandPath(cfg.Shell.SSH.KeyFile)
	cfg.Shell.SSH.KnownHosts = expandPath(cfg.Shell.SSH.KnownHosts)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option combinations viper cannot express
func (c *Config) Validate() error {
	if _, err := core.ParseInstallerType(c.Installer.Type); err != nil {
		return fmt.Errorf("installer.type: %w", err)
	}
	if c.Installer.Concurrency < 1 {
		return fmt.Errorf("installer.concurrency must be at least 1, got %d", c.Installer.Concurrency)
	}
	if c.Installer.StallTimeout < 0 {
		return fmt.Errorf("installer.stall_timeout must not be negative")
	}

	switch c.Shell.Mode {
	case ShellLocal:
	case ShellSSH:
		if c.Shell.SSH.Host == "" || c.Shell.SSH.User == "" {
			return errors.New("shell.ssh.host and shell.ssh.user are required in ssh mode")
		}
	default:
		return fmt.Errorf("shell.mode: unknown mode %q (want %q or %q)", c.Shell.Mode, ShellLocal, ShellSSH)
	}
	return nil
}

// InstallerType returns the parsed installer type
func (c *Config) InstallerType() core.InstallerType {
	t, _ := core.ParseInstallerType(c.Installer.Type)
	return t
}

func setDefaults(v *viper.Viper) {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		homeDir = os.Getenv("HOME")
	}
	if homeDir == "" {
		homeDir = "."
	}
	dataDir := filepath.Join(homeDir, ".local", "share", appName)

	v.SetDefault("paths.data_dir", dataDir)
	v.SetDefault("paths.db_file", filepath.Join(dataDir, "items.db"))
	v.SetDefault("paths.log_file", filepath.Join(dataDir, appName+".log"))
	v.SetDefault("paths.cache_dir", filepath.Join(dataDir, "cache"))

	v.SetDefault("installer.type", string(core.InstallerSession))
	v.SetDefault("installer.concurrency", 1)
	v.SetDefault("installer.stall_timeout", 5*time.Minute)
	v.SetDefault("installer.installer_package", "")

	v.SetDefault("shell.mode", ShellLocal)
	v.SetDefault("shell.root_command", "su -c")
	v.SetDefault("shell.ssh.port", 22)
	v.SetDefault("shell.ssh.sudo", false)
	v.SetDefault("shell.ssh.timeout", 30*time.Second)

	v.SetDefault("session.device_shell", "")

	v.SetDefault("cache.cleanup_after", 7*24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.color", "auto")
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return os.ExpandEnv(path)
}
