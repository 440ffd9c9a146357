package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
monitor:
  idle_timeout: 120
  rescan_interval: 5
  stick_drift_threshold: 25
  ignore_idle_when_charging: false
bluetooth:
  backend: bluetoothctl
server:
  socket: /tmp/padwatch-test.sock
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Monitor.IdleTimeout != 120 {
		t.Errorf("Monitor.IdleTimeout = %d, want 120", cfg.Monitor.IdleTimeout)
	}
	if cfg.Monitor.RescanInterval != 5 {
		t.Errorf("Monitor.RescanInterval = %d, want 5", cfg.Monitor.RescanInterval)
	}
	if cfg.Monitor.StickDriftThreshold != 25 {
		t.Errorf("Monitor.StickDriftThreshold = %d, want 25", cfg.Monitor.StickDriftThreshold)
	}
	if cfg.Monitor.IgnoreIdleWhenCharging {
		t.Error("Monitor.IgnoreIdleWhenCharging = true, want false")
	}
	if cfg.Bluetooth.Backend != "bluetoothctl" {
		t.Errorf("Bluetooth.Backend = %q, want bluetoothctl", cfg.Bluetooth.Backend)
	}
	if got := cfg.SocketPath(); got != "/tmp/padwatch-test.sock" {
		t.Errorf("SocketPath() = %q", got)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Battery.CacheTTL != 10*time.Second {
		t.Errorf("Battery.CacheTTL = %s, want 10s", cfg.Battery.CacheTTL)
	}
	if !cfg.Notifications.Enabled {
		t.Error("Notifications.Enabled should default to true")
	}
}

func TestLoadPartialMonitorSection(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("monitor:\n  idle_timeout: 30\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Monitor.IdleTimeout != 30 {
		t.Errorf("IdleTimeout = %d, want 30", cfg.Monitor.IdleTimeout)
	}
	if cfg.Monitor.RescanInterval != DefaultRescanInterval {
		t.Errorf("RescanInterval = %d, want default %d", cfg.Monitor.RescanInterval, DefaultRescanInterval)
	}
	if cfg.Monitor.StickDriftThreshold != DefaultStickDriftThreshold {
		t.Errorf("StickDriftThreshold = %d, want default %d", cfg.Monitor.StickDriftThreshold, DefaultStickDriftThreshold)
	}
	if !cfg.Monitor.IgnoreIdleWhenCharging {
		t.Error("IgnoreIdleWhenCharging should default to true")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, nil, 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Monitor.IdleTimeout != DefaultIdleTimeout {
		t.Errorf("IdleTimeout = %d, want %d", cfg.Monitor.IdleTimeout, DefaultIdleTimeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}
	if cfg.Monitor.IdleTimeout != 60 {
		t.Errorf("IdleTimeout = %d, want default 60", cfg.Monitor.IdleTimeout)
	}
	if cfg.Monitor.RescanInterval != 2 {
		t.Errorf("RescanInterval = %d, want default 2", cfg.Monitor.RescanInterval)
	}
	if cfg.Monitor.StickDriftThreshold != 10 {
		t.Errorf("StickDriftThreshold = %d, want default 10", cfg.Monitor.StickDriftThreshold)
	}
	if !cfg.Monitor.IgnoreIdleWhenCharging {
		t.Error("IgnoreIdleWhenCharging = false, want default true")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte(":::not valid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}

func TestDurations(t *testing.T) {
	cfg := defaultConfig()
	cfg.Monitor.IdleTimeout = 90
	cfg.Monitor.RescanInterval = 3
	if cfg.IdleTimeout() != 90*time.Second {
		t.Errorf("IdleTimeout() = %s", cfg.IdleTimeout())
	}
	if cfg.RescanInterval() != 3*time.Second {
		t.Errorf("RescanInterval() = %s", cfg.RescanInterval())
	}
}

func TestSocketPathRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	cfg := defaultConfig()
	if got := cfg.SocketPath(); got != "/run/user/1000/padwatch.sock" {
		t.Errorf("SocketPath() = %q", got)
	}
}

func TestDefaultPathHonoursXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := DefaultPath(); got != "/tmp/xdg/padwatch/config.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}
}

func TestValidateClamps(t *testing.T) {
	cfg := defaultConfig()
	cfg.Monitor.IdleTimeout = 1
	cfg.Monitor.RescanInterval = 0
	cfg.Monitor.StickDriftThreshold = -4
	cfg.Monitor.CheckInterval = 0
	cfg.Battery.CacheTTL = -time.Second
	cfg.Battery.Backend = "acpi"
	cfg.Bluetooth.Backend = "hcitool"

	errs := cfg.Validate()
	if len(errs) != 7 {
		t.Fatalf("Validate() returned %d errors, want 7: %v", len(errs), errs)
	}
	if cfg.Monitor.IdleTimeout != MinIdleTimeout {
		t.Errorf("IdleTimeout = %d, want %d", cfg.Monitor.IdleTimeout, MinIdleTimeout)
	}
	if cfg.Monitor.RescanInterval != 1 {
		t.Errorf("RescanInterval = %d, want 1", cfg.Monitor.RescanInterval)
	}
	if cfg.Monitor.StickDriftThreshold != 0 {
		t.Errorf("StickDriftThreshold = %d, want 0", cfg.Monitor.StickDriftThreshold)
	}
	if cfg.Monitor.CheckInterval != time.Second {
		t.Errorf("CheckInterval = %s, want 1s", cfg.Monitor.CheckInterval)
	}
	if cfg.Battery.CacheTTL != 10*time.Second {
		t.Errorf("CacheTTL = %s, want 10s", cfg.Battery.CacheTTL)
	}
	if cfg.Battery.Backend != "dbus" || cfg.Bluetooth.Backend != "dbus" {
		t.Errorf("backends = %q/%q, want dbus/dbus", cfg.Battery.Backend, cfg.Bluetooth.Backend)
	}
}

func TestValidateDefaultsClean(t *testing.T) {
	if errs := defaultConfig().Validate(); len(errs) != 0 {
		t.Errorf("defaults should validate cleanly, got %v", errs)
	}
}

func TestStoreReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("monitor:\n  idle_timeout: 30\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(cfgPath)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	if got := s.Current().Monitor.IdleTimeout; got != 30 {
		t.Fatalf("IdleTimeout = %d, want 30", got)
	}

	// Different size guarantees the change is seen even on coarse mtimes.
	if err := os.WriteFile(cfgPath, []byte("monitor:\n  idle_timeout: 300\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := s.Current().Monitor.IdleTimeout; got != 300 {
		t.Errorf("IdleTimeout after edit = %d, want 300", got)
	}
}

func TestStoreKeepsLastGoodOnParseError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("monitor:\n  idle_timeout: 45\n"), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(cfgPath)
	if err != nil {
		t.Fatal(err)
	}

	var reported error
	s.OnError(func(err error) { reported = err })

	if err := os.WriteFile(cfgPath, []byte(":::broken yaml with more bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := s.Current().Monitor.IdleTimeout; got != 45 {
		t.Errorf("IdleTimeout = %d, want last good 45", got)
	}
	if reported == nil {
		t.Error("expected OnError callback for broken file")
	}
}

func TestStoreMissingFileUsesDefaults(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	if got := s.Current().Monitor.IdleTimeout; got != DefaultIdleTimeout {
		t.Errorf("IdleTimeout = %d, want default", got)
	}
}

func TestSetIdleTimeoutPreservesOtherKeys(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	original := `# user settings
monitor:
  idle_timeout: 60 # one minute
  stick_drift_threshold: 15
bluetooth:
  backend: bluetoothctl
`
	if err := os.WriteFile(cfgPath, []byte(original), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(cfgPath)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SetIdleTimeout(240); err != nil {
		t.Fatalf("SetIdleTimeout() error: %v", err)
	}

	cfg := s.Current()
	if cfg.Monitor.IdleTimeout != 240 {
		t.Errorf("IdleTimeout = %d, want 240", cfg.Monitor.IdleTimeout)
	}
	if cfg.Monitor.StickDriftThreshold != 15 {
		t.Errorf("StickDriftThreshold = %d, want 15", cfg.Monitor.StickDriftThreshold)
	}
	if cfg.Bluetooth.Backend != "bluetoothctl" {
		t.Errorf("Bluetooth.Backend = %q, want bluetoothctl", cfg.Bluetooth.Backend)
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "# user settings") {
		t.Errorf("comments were dropped:\n%s", data)
	}
}

func TestSetIdleTimeoutCreatesFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "nested", "config.yaml")
	s, err := NewStore(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetIdleTimeout(90); err != nil {
		t.Fatalf("SetIdleTimeout() error: %v", err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Monitor.IdleTimeout != 90 {
		t.Errorf("persisted IdleTimeout = %d, want 90", cfg.Monitor.IdleTimeout)
	}
}

func TestSetIdleTimeoutRejectsSmallValues(t *testing.T) {
	s := NewStaticStore(defaultConfig())
	if err := s.SetIdleTimeout(2); err == nil {
		t.Fatal("SetIdleTimeout(2) should fail")
	}
	if err := s.SetIdleTimeout(5); err != nil {
		t.Fatalf("SetIdleTimeout(5) error: %v", err)
	}
	if got := s.Current().Monitor.IdleTimeout; got != 5 {
		t.Errorf("IdleTimeout = %d, want 5", got)
	}
}
