package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/padwatch/padwatch/internal/battery"
	"github.com/padwatch/padwatch/internal/bluez"
	"github.com/padwatch/padwatch/internal/config"
	"github.com/padwatch/padwatch/internal/control"
	"github.com/padwatch/padwatch/internal/daemon"
	"github.com/padwatch/padwatch/internal/dbusapi"
	"github.com/padwatch/padwatch/internal/idle"
	"github.com/padwatch/padwatch/internal/inventory"
	"github.com/padwatch/padwatch/internal/logging"
	"github.com/padwatch/padwatch/internal/mock"
	"github.com/padwatch/padwatch/internal/monitor"
	"github.com/padwatch/padwatch/internal/notify"
	"github.com/padwatch/padwatch/internal/session"
	"github.com/padwatch/padwatch/internal/status"
	"github.com/padwatch/padwatch/internal/ws"
)

const (
	broadcastThrottle = 100 * time.Millisecond
	maxWSClients      = 16
	logMaxSizeMB      = 10
	logMaxBackups     = 3
)

type runOptions struct {
	simulate bool
	logFile  string
}

var runFlags runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor(cmd.Context(), runFlags)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runFlags.simulate, "simulate", false, "Use simulated controllers instead of hardware")
	runCmd.Flags().StringVar(&runFlags.logFile, "log-file", "", "Write logs to this file with rotation")
}

// setupLogging points the global logger at stderr or a rotating file. The
// returned closer flushes and closes the file.
func setupLogging(cfg *config.Config, logFile string) (func(), error) {
	if logFile == "" {
		logFile = cfg.Log.File
	}
	var out io.Writer = os.Stderr
	closer := func() { logging.Sync() }
	if logFile != "" {
		rw, err := logging.NewRotatingWriter(logFile, logMaxSizeMB, logMaxBackups)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = rw
		closer = func() {
			logging.Sync()
			rw.Close()
		}
	}
	logging.Init(cfg.Log.Format, cfg.Log.Level, out)
	return closer, nil
}

func newNotifier(cfg *config.Config, log *zap.Logger) notify.Notifier {
	if !cfg.Notifications.Enabled {
		return notify.Nop{}
	}
	n, err := notify.NewDBusNotifier(cfg.Notifications.Cooldown)
	if err != nil {
		log.Warn("desktop notifications unavailable", zap.Error(err))
		return notify.Nop{}
	}
	return n
}

func newLink(cfg *config.Config, log *zap.Logger) bluez.Controller {
	if cfg.Bluetooth.Backend == "bluetoothctl" {
		return bluez.NewCLIController()
	}
	c, err := bluez.NewDBusController()
	if err != nil {
		log.Warn("BlueZ D-Bus unavailable, using bluetoothctl", zap.Error(err))
		return bluez.NewCLIController()
	}
	return c
}

func newQuerier(cfg *config.Config, log *zap.Logger) battery.Querier {
	if cfg.Battery.Backend == "upower" {
		return battery.NewCLIQuerier()
	}
	q, err := battery.NewUPowerQuerier()
	if err != nil {
		log.Warn("UPower D-Bus unavailable, using upower CLI", zap.Error(err))
		return battery.NewCLIQuerier()
	}
	return q
}

// claimPIDFile records this process in the PID file. A detached start has
// already written our pid there; any other live pid means a second
// instance.
func claimPIDFile(pf *daemon.PIDFile) error {
	if pid, ok := pf.Running(); ok && pid != os.Getpid() {
		return &daemon.AlreadyRunningError{PID: pid}
	}
	return pf.Write(os.Getpid())
}

func runMonitor(parent context.Context, opts runOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	store, err := config.NewStore(configPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := store.Current()

	closeLog, err := setupLogging(cfg, opts.logFile)
	if err != nil {
		return err
	}
	defer closeLog()
	log := logging.L("main")
	for _, w := range store.Warnings() {
		log.Warn("config value adjusted", zap.Error(w))
	}
	store.OnError(func(err error) {
		log.Warn("config reload failed, keeping previous values", zap.Error(err))
	})

	notifier := newNotifier(cfg, log)

	pf := daemon.DefaultPIDFile()
	if err := claimPIDFile(pf); err != nil {
		var already *daemon.AlreadyRunningError
		if errors.As(err, &already) {
			notifier.Notify(notify.SummaryAlreadyRunning, fmt.Sprintf("padwatch is already running (pid %d)", already.PID))
		}
		return err
	}
	defer pf.RemoveIfOwned(os.Getpid())

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		lister  inventory.Lister
		link    bluez.Controller
		querier battery.Querier
		open    idle.Opener = idle.OpenDevice
	)
	if opts.simulate {
		fleet := mock.NewFleet(mock.DefaultPads(), mock.DefaultTick)
		go fleet.Run(ctx)
		lister, link, querier, open = fleet, fleet, fleet, fleet.Open
	} else {
		lister = inventory.DefaultLister()
		link = newLink(cfg, log)
		querier = newQuerier(cfg, log)
	}

	sessions := session.NewStore()
	batt := battery.NewCache(querier, cfg.Battery.CacheTTL)
	agg := status.NewAggregator(sessions, batt, store)
	ctrl := control.New(store, sessions, link, notifier)
	broadcaster := ws.NewBroadcaster(agg, store, broadcastThrottle, cfg.Server.SnapshotInterval, maxWSClients)
	defer broadcaster.Stop()

	var mon *monitor.Monitor
	health := func() monitor.Health { return mon.Health() }
	listeners := []monitor.Listener{
		ws.NewServer(resolveSocket(cfg), agg, sessions, ctrl, health, broadcaster),
	}
	if cfg.DBus.Enabled {
		listeners = append(listeners, dbusapi.New(agg, ctrl, notifier))
	}

	mon = monitor.New(monitor.Options{
		Inventory: inventory.New(lister),
		Store:     sessions,
		Config:    store,
		Battery:   batt,
		Link:      link,
		Open:      open,
		Notifier:  notifier,
		Observer:  broadcaster,
		Listeners: listeners,
	})

	log.Info("padwatch starting",
		zap.String("version", version),
		zap.String("config", store.Path()),
		zap.Int("idle_timeout", cfg.Monitor.IdleTimeout),
		zap.Bool("simulate", opts.simulate))
	notifier.Notify(notify.SummaryStarting, fmt.Sprintf("Monitoring controllers, idle timeout %ds", cfg.Monitor.IdleTimeout))

	mon.Start(ctx)

	log.Info("padwatch stopped")
	notifier.Notify(notify.SummaryClosing, "Stopped monitoring controllers")
	return nil
}
