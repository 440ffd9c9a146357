package config

import (
	"fmt"
	"strings"
	"time"
)

var validBatteryBackends = map[string]bool{
	"dbus":   true,
	"upower": true,
}

var validBluetoothBackends = map[string]bool{
	"dbus":         true,
	"bluetoothctl": true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config and returns every problem found. Values that
// would break the monitor (zero intervals, negative thresholds) are clamped
// to safe settings so the daemon can still start; the returned errors are
// meant to be logged as warnings.
func (c *Config) Validate() []error {
	var errs []error

	if c.Monitor.IdleTimeout < MinIdleTimeout {
		errs = append(errs, fmt.Errorf("idle_timeout %d is below minimum %d, clamping", c.Monitor.IdleTimeout, MinIdleTimeout))
		c.Monitor.IdleTimeout = MinIdleTimeout
	}
	if c.Monitor.RescanInterval < 1 {
		errs = append(errs, fmt.Errorf("rescan_interval %d is below minimum 1, clamping", c.Monitor.RescanInterval))
		c.Monitor.RescanInterval = 1
	}
	if c.Monitor.StickDriftThreshold < 0 {
		errs = append(errs, fmt.Errorf("stick_drift_threshold %d is negative, using 0", c.Monitor.StickDriftThreshold))
		c.Monitor.StickDriftThreshold = 0
	}
	errs = clampDuration(errs, "monitor.check_interval", &c.Monitor.CheckInterval, time.Second)
	errs = clampDuration(errs, "monitor.shutdown_grace", &c.Monitor.ShutdownGrace, 2*time.Second)
	errs = clampDuration(errs, "battery.cache_ttl", &c.Battery.CacheTTL, 10*time.Second)
	errs = clampDuration(errs, "server.snapshot_interval", &c.Server.SnapshotInterval, 2*time.Second)
	if c.Notifications.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("notifications.cooldown %s is negative, using 0", c.Notifications.Cooldown))
		c.Notifications.Cooldown = 0
	}

	if !validBatteryBackends[strings.ToLower(c.Battery.Backend)] {
		errs = append(errs, fmt.Errorf("unknown battery backend %q, using dbus", c.Battery.Backend))
		c.Battery.Backend = "dbus"
	}
	if !validBluetoothBackends[strings.ToLower(c.Bluetooth.Backend)] {
		errs = append(errs, fmt.Errorf("unknown bluetooth backend %q, using dbus", c.Bluetooth.Backend))
		c.Bluetooth.Backend = "dbus"
	}
	if c.Log.Level != "" && !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}

	return errs
}

func clampDuration(errs []error, key string, d *time.Duration, fallback time.Duration) []error {
	if *d > 0 {
		return errs
	}
	errs = append(errs, fmt.Errorf("%s %s must be positive, using %s", key, *d, fallback))
	*d = fallback
	return errs
}
