package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultIdleTimeout         = 60
	DefaultRescanInterval      = 2
	DefaultStickDriftThreshold = 10
	MinIdleTimeout             = 5
)

type Config struct {
	Monitor       MonitorConfig       `yaml:"monitor"`
	Battery       BatteryConfig       `yaml:"battery"`
	Bluetooth     BluetoothConfig     `yaml:"bluetooth"`
	Server        ServerConfig        `yaml:"server"`
	DBus          DBusConfig          `yaml:"dbus"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Log           LogConfig           `yaml:"log"`
}

type MonitorConfig struct {
	IdleTimeout            int           `yaml:"idle_timeout"`
	RescanInterval         int           `yaml:"rescan_interval"`
	StickDriftThreshold    int           `yaml:"stick_drift_threshold"`
	IgnoreIdleWhenCharging bool          `yaml:"ignore_idle_when_charging"`
	CheckInterval          time.Duration `yaml:"check_interval"`
	ShutdownGrace          time.Duration `yaml:"shutdown_grace"`
}

type BatteryConfig struct {
	Backend  string        `yaml:"backend"` // "dbus" or "upower"
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type BluetoothConfig struct {
	Backend string `yaml:"backend"` // "dbus" or "bluetoothctl"
}

type ServerConfig struct {
	Socket           string        `yaml:"socket"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type DBusConfig struct {
	Enabled bool `yaml:"enabled"`
}

type NotificationsConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Cooldown time.Duration `yaml:"cooldown"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

func defaultConfig() *Config {
	return &Config{
		Monitor: MonitorConfig{
			IdleTimeout:            DefaultIdleTimeout,
			RescanInterval:         DefaultRescanInterval,
			StickDriftThreshold:    DefaultStickDriftThreshold,
			IgnoreIdleWhenCharging: true,
			CheckInterval:          time.Second,
			ShutdownGrace:          2 * time.Second,
		},
		Battery: BatteryConfig{
			Backend:  "dbus",
			CacheTTL: 10 * time.Second,
		},
		Bluetooth: BluetoothConfig{
			Backend: "dbus",
		},
		Server: ServerConfig{
			SnapshotInterval: 2 * time.Second,
		},
		DBus: DBusConfig{
			Enabled: true,
		},
		Notifications: NotificationsConfig{
			Enabled:  true,
			Cooldown: 3 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Default returns a config populated with built-in defaults.
func Default() *Config {
	return defaultConfig()
}

// Load reads path and overlays it on the defaults. Keys absent from the
// file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

// LoadOrDefault behaves like Load but returns the defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	cfg := defaultConfig()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// IdleTimeout returns the idle timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Monitor.IdleTimeout) * time.Second
}

// RescanInterval returns the reconciliation cadence as a duration.
func (c *Config) RescanInterval() time.Duration {
	return time.Duration(c.Monitor.RescanInterval) * time.Second
}

// SocketPath resolves the status socket location. An explicit setting wins;
// otherwise the socket lives in the user's runtime directory.
func (c *Config) SocketPath() string {
	if c.Server.Socket != "" {
		return expandHome(c.Server.Socket)
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "padwatch.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("padwatch-%d.sock", os.Getuid()))
}

// DefaultPath is ~/.config/padwatch/config.yaml, honouring XDG_CONFIG_HOME.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "padwatch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "padwatch", "config.yaml")
}

// CacheDir is where the daemon keeps its PID and log files.
func CacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "padwatch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "padwatch")
	}
	return filepath.Join(home, ".cache", "padwatch")
}

func expandHome(p string) string {
	if len(p) < 2 || p[:2] != "~/" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
