// Package monitor runs the reconciliation loop: it rescans the inventory,
// starts an idle monitor per new controller, reaps finished ones and keeps
// player slots compact.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/padwatch/padwatch/internal/bluez"
	"github.com/padwatch/padwatch/internal/config"
	"github.com/padwatch/padwatch/internal/idle"
	"github.com/padwatch/padwatch/internal/inventory"
	"github.com/padwatch/padwatch/internal/logging"
	"github.com/padwatch/padwatch/internal/notify"
	"github.com/padwatch/padwatch/internal/session"
)

// CandidateSource lists the controllers currently attached.
type CandidateSource interface {
	Candidates(ctx context.Context) []inventory.Candidate
}

// Listener is a long-running server started once when the loop starts.
type Listener interface {
	Name() string
	Serve(ctx context.Context) error
}

// Observer is told about table changes after every pass that made some,
// and about health status transitions.
type Observer interface {
	TableChanged(events []session.Event)
	HealthChanged(h Health)
}

// Options wires the loop to its collaborators. Inventory, Store, Config,
// Battery, Link and Open are required.
type Options struct {
	Inventory CandidateSource
	Store     *session.Store
	Config    *config.Store
	Battery   idle.BatteryReader
	Link      bluez.Controller
	Open      idle.Opener
	Notifier  notify.Notifier
	Observer  Observer
	Listeners []Listener
	Now       func() time.Time
}

type Monitor struct {
	inventory CandidateSource
	store     *session.Store
	config    *config.Store
	battery   idle.BatteryReader
	link      bluez.Controller
	open      idle.Opener
	notifier  notify.Notifier
	observer  Observer
	listeners []Listener
	now       func() time.Time
	health    *healthTracker
	startedAt time.Time
	log       *zap.Logger

	runners       sync.WaitGroup
	listenerGroup sync.WaitGroup
	shutdownOnce  sync.Once
}

func New(opts Options) *Monitor {
	m := &Monitor{
		inventory: opts.Inventory,
		store:     opts.Store,
		config:    opts.Config,
		battery:   opts.Battery,
		link:      opts.Link,
		open:      opts.Open,
		notifier:  opts.Notifier,
		observer:  opts.Observer,
		listeners: opts.Listeners,
		now:       opts.Now,
		health:    newHealthTracker(defaultHealthThreshold),
		log:       logging.L("monitor"),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.notifier == nil {
		m.notifier = notify.Nop{}
	}
	if m.open == nil {
		m.open = idle.OpenDevice
	}
	m.startedAt = m.now()
	if inv, ok := opts.Inventory.(interface{ OnError(func(error)) }); ok {
		inv.OnError(func(err error) {
			m.health.recordInventoryFailure(err, m.now())
		})
	}
	return m
}

// Start starts the listeners, reconciles immediately and then once per
// rescan interval until ctx is cancelled. On return every idle monitor has
// been cancelled and waited for up to the configured shutdown grace.
func (m *Monitor) Start(ctx context.Context) {
	for _, l := range m.listeners {
		m.listenerGroup.Add(1)
		go func(l Listener) {
			defer m.listenerGroup.Done()
			m.supervise(ctx, l)
		}(l)
	}

	m.log.Info("monitor started", zap.Duration("rescan_interval", m.config.Current().RescanInterval()))
	m.Poll(ctx)

	timer := time.NewTimer(m.config.Current().RescanInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			grace := m.config.Current().Monitor.ShutdownGrace
			m.Shutdown(grace)
			waitTimeout(&m.listenerGroup, grace)
			m.log.Info("monitor stopped")
			return
		case <-timer.C:
			m.Poll(ctx)
			// Re-read every pass so a config edit changes the cadence.
			timer.Reset(m.config.Current().RescanInterval())
		}
	}
}

// Poll runs one reconciliation pass and returns the table changes it made.
func (m *Monitor) Poll(ctx context.Context) []session.Event {
	cfg := m.config.Current()

	candidates := m.inventory.Candidates(ctx)
	if m.health.finishInventoryPass() {
		present := make(map[string]bool, len(candidates))
		for _, c := range candidates {
			present[c.Path] = true
		}
		m.health.retain(present)
	}

	// Reap before admitting so a device whose monitor exited while it
	// stayed listed is reported removed before it is monitored again.
	removed := m.store.Reap()
	for _, s := range removed {
		if m.health.openFailureCount(s.Path) > 0 {
			m.log.Debug("retired unopened controller",
				zap.String(logging.KeyDevice, s.Path),
				zap.String(logging.KeySession, s.ID))
			continue
		}
		m.log.Info("finished monitoring",
			zap.String(logging.KeyDevice, s.Path),
			zap.String(logging.KeyMAC, s.HardwareID),
			zap.String(logging.KeySession, s.ID),
			zap.Duration("monitored_for", m.now().Sub(s.StartedAt)),
		)
		m.notifier.Notify(notify.SummaryDisconnected, fmt.Sprintf("Finished monitoring %s", describe(s)))
	}

	// Admit and spawn. Admit takes the table lock per candidate; nothing
	// below runs while holding it.
	var admitted, announce []*session.Session
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		if _, tracked := m.store.Get(c.Path); tracked {
			continue
		}
		if !m.health.tryOpen(c.Path) {
			continue
		}
		retry := m.health.openFailureCount(c.Path) > 0
		now := m.now()
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		sess, ok := m.store.Admit(&session.Session{
			Path:        c.Path,
			DisplayName: c.Name,
			HardwareID:  c.HardwareID,
			StartedAt:   now,
			LastInputAt: now,
		}, cancel, done)
		if !ok {
			cancel()
			continue
		}
		m.spawn(runCtx, cfg, sess, done, retry)
		admitted = append(admitted, sess)
		if !retry {
			announce = append(announce, sess)
		}
	}

	// A device retrying after open failures was announced on its first
	// attempt; it is not announced again.
	for _, s := range announce {
		m.announce(ctx, s)
	}

	renumbered := m.store.Renumber()
	live := m.store.Len()

	var events []session.Event
	for _, s := range removed {
		events = append(events, session.Event{Type: session.EventRemoved, Session: s, LiveCount: live})
	}
	added := make(map[string]bool, len(admitted))
	for _, s := range admitted {
		if cur, ok := m.store.Get(s.Path); ok {
			s = cur
		}
		added[s.Path] = true
		events = append(events, session.Event{Type: session.EventAdded, Session: s, LiveCount: live})
	}
	for _, s := range renumbered {
		if added[s.Path] {
			continue
		}
		m.log.Debug("player slot changed",
			zap.String(logging.KeyDevice, s.Path),
			zap.Int(logging.KeyPlayer, s.PlayerSlot))
		events = append(events, session.Event{Type: session.EventRenumbered, Session: s, LiveCount: live})
	}

	if m.observer != nil && len(events) > 0 {
		m.observer.TableChanged(events)
	}
	if h, changed := m.health.snapshotAndEmit(); changed {
		m.log.Warn("health status changed",
			zap.String("status", string(h.Status)),
			zap.Int("inventory_failures", h.InventoryFailures),
			zap.Int("degraded_devices", h.DegradedDevices),
			zap.String("last_error", h.LastError))
		if m.observer != nil {
			h.Sessions = live
			h.StartedAt = m.startedAt
			h.Timestamp = m.now()
			m.observer.HealthChanged(h)
		}
	}
	return events
}

// spawn starts the idle monitor for sess. done is closed when it exits.
// quiet marks a retry of a device that already failed to open.
func (m *Monitor) spawn(ctx context.Context, cfg *config.Config, sess *session.Session, done chan struct{}, quiet bool) {
	r := &idle.Runner{
		Session: sess,
		Open:    m.open,
		Policy: func() idle.Policy {
			return idle.PolicyFromConfig(m.config.Current())
		},
		Battery:       m.battery,
		Link:          m.link,
		Recorder:      m.store,
		CheckInterval: cfg.Monitor.CheckInterval,
		Now:           m.now,
		Quiet:         quiet,
		Opened:        func() { m.health.recordOpenSuccess(sess.Path) },
	}
	m.runners.Add(1)
	go func() {
		defer m.runners.Done()
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				m.log.Error("idle monitor panicked",
					zap.String(logging.KeyDevice, sess.Path),
					zap.Any("panic", p))
				m.health.recordOpenFailure(sess.Path, fmt.Sprint(p), m.now())
			}
		}()

		reason := r.Run(ctx)
		if reason == idle.ExitOpenFailed {
			n := m.health.recordOpenFailure(sess.Path, "could not open device", m.now())
			if n == m.health.threshold {
				m.log.Warn("controller keeps failing to open, backing off",
					zap.String(logging.KeyDevice, sess.Path),
					zap.Int("attempts", n))
			}
		}
		m.log.Debug("idle monitor exited",
			zap.String(logging.KeyDevice, sess.Path),
			zap.String("reason", reason.String()))
	}()
}

// announce performs the first-sighting side effects for a new session:
// trust, battery lookup, log and notification.
func (m *Monitor) announce(ctx context.Context, s *session.Session) {
	log := m.log.With(
		zap.String(logging.KeyDevice, s.Path),
		zap.String(logging.KeySession, s.ID),
		zap.Int(logging.KeyPlayer, s.PlayerSlot),
	)
	if !s.HasHardwareID() {
		log.Info("started monitoring", zap.String("name", s.DisplayName), zap.Bool("has_mac", false))
		m.notifier.Notify(notify.SummaryConnected, s.DisplayName)
		return
	}

	log = log.With(zap.String(logging.KeyMAC, s.HardwareID))
	if err := m.link.Trust(ctx, s.HardwareID); err != nil {
		log.Warn("could not trust controller", zap.Error(err))
	} else {
		log.Debug("controller trusted")
	}
	info := m.battery.Get(ctx, s.HardwareID)
	log.Info("started monitoring",
		zap.String("name", s.DisplayName),
		zap.String("battery", info.Percentage),
		zap.Bool("charging", info.Charging))
	m.notifier.Notify(notify.SummaryConnected,
		fmt.Sprintf("%s\nBattery: %s", describe(s), info.Percentage))
}

func describe(s *session.Session) string {
	if s.HardwareID == "" {
		return s.DisplayName
	}
	return fmt.Sprintf("%s (%s)", s.DisplayName, s.HardwareID)
}

// Health returns the current health report.
func (m *Monitor) Health() Health {
	h := m.health.snapshot()
	h.Sessions = m.store.Len()
	h.StartedAt = m.startedAt
	h.Timestamp = m.now()
	return h
}

// Shutdown cancels every idle monitor and waits up to grace for them to
// exit. It reports whether all of them did. Later calls are no-ops that
// report true.
func (m *Monitor) Shutdown(grace time.Duration) bool {
	clean := true
	m.shutdownOnce.Do(func() {
		dones := m.store.CancelAll()
		m.log.Info("stopping idle monitors", zap.Int("count", len(dones)))
		clean = waitTimeout(&m.runners, grace)
		if !clean {
			m.log.Warn("idle monitors still running after grace period", zap.Duration("grace", grace))
		}
		m.store.Reap()
	})
	return clean
}

// supervise runs l until ctx ends, restarting it with backoff when it
// fails.
func (m *Monitor) supervise(ctx context.Context, l Listener) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		err := l.Serve(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			m.log.Info("listener exited", zap.String("listener", l.Name()))
			return
		}
		m.log.Error("listener failed, restarting",
			zap.String("listener", l.Name()),
			zap.Error(err),
			zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
