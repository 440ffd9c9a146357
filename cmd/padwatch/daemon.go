package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/padwatch/padwatch/internal/config"
	"github.com/padwatch/padwatch/internal/daemon"
	"github.com/padwatch/padwatch/internal/notify"
)

const stopTimeout = 5 * time.Second

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the monitor in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return startDaemon()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopDaemon(false)
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the background monitor to reload everything",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := stopDaemon(true); err != nil {
			return err
		}
		return startDaemon()
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
}

// daemonArgs is the command line the detached child runs with.
func daemonArgs(logPath string) []string {
	args := []string{"run", "--log-file", logPath}
	if p := viper.GetString("config"); p != "" {
		args = append(args, "--config", p)
	}
	if p := viper.GetString("socket"); p != "" {
		args = append(args, "--socket", p)
	}
	return args
}

// cliNotifier is used by the short-lived control commands, which report to
// the desktop the same way the daemon does.
func cliNotifier() notify.Notifier {
	cfg, err := config.LoadOrDefault(configPath())
	if err != nil || !cfg.Notifications.Enabled {
		return notify.Nop{}
	}
	n, err := notify.NewDBusNotifier(0)
	if err != nil {
		return notify.Nop{}
	}
	return n
}

func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	logPath := daemon.DefaultLogPath()
	pid, err := daemon.Start(daemon.DefaultPIDFile(), exe, daemonArgs(logPath)...)
	var already *daemon.AlreadyRunningError
	if errors.As(err, &already) {
		cliNotifier().Notify(notify.SummaryAlreadyRunning, fmt.Sprintf("padwatch is already running (pid %d)", already.PID))
		return err
	}
	if err != nil {
		return err
	}
	fmt.Printf("padwatch started in the background (pid %d)\nlog: %s\n", pid, logPath)
	return nil
}

// stopDaemon signals the recorded instance. quiet treats "not running" as
// success, which restart relies on.
func stopDaemon(quiet bool) error {
	pid, err := daemon.Stop(daemon.DefaultPIDFile(), stopTimeout)
	if errors.Is(err, daemon.ErrNotRunning) {
		if quiet {
			return nil
		}
		return errors.New("no PID file found, is the daemon running?")
	}
	if err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Printf("Sent SIGTERM to daemon (pid %d)\n", pid)
	cliNotifier().Notify(notify.SummaryStopped, fmt.Sprintf("Stopped daemon (pid %d)", pid))
	return nil
}
