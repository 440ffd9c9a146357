// Package idle implements the per-controller idle monitor: a state machine
// that turns input events and charging readings into disconnect decisions,
// and the task that drives it from a device stream.
package idle

import (
	"time"

	"github.com/padwatch/padwatch/internal/battery"
	"github.com/padwatch/padwatch/internal/config"
	"github.com/padwatch/padwatch/internal/evdev"
	"github.com/padwatch/padwatch/internal/session"
)

// Policy is the slice of configuration the machine consults. It is re-read
// before every check.
type Policy struct {
	IdleTimeout        time.Duration
	DriftThreshold     int32
	IgnoreWhenCharging bool
}

// PolicyFromConfig extracts the idle policy from a config snapshot.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		IdleTimeout:        cfg.IdleTimeout(),
		DriftThreshold:     int32(cfg.Monitor.StickDriftThreshold),
		IgnoreWhenCharging: cfg.Monitor.IgnoreIdleWhenCharging,
	}
}

// Outcome is the result of one idle check.
type Outcome int

const (
	// NotIdle: the timeout has not elapsed.
	NotIdle Outcome = iota
	// NoHardwareID: idle, but there is no address to disconnect.
	NoHardwareID
	// ChargingStopped: idle, but the controller just came off the charger;
	// the idle clock was restarted.
	ChargingStopped
	// Suppressed: idle while charging and the policy ignores that case.
	Suppressed
	// Disconnect: the link should be dropped now.
	Disconnect
)

var outcomeNames = map[Outcome]string{
	NotIdle:         "not_idle",
	NoHardwareID:    "no_hardware_id",
	ChargingStopped: "charging_stopped",
	Suppressed:      "suppressed",
	Disconnect:      "disconnect",
}

func (o Outcome) String() string {
	if n, ok := outcomeNames[o]; ok {
		return n
	}
	return "unknown"
}

// Decision describes what a check concluded.
type Decision struct {
	Outcome Outcome
	Idle    time.Duration
	Battery battery.Info
	// ChargingChanged is set when this check saw a different charging flag
	// than the previous one.
	ChargingChanged bool
	// FirstInEpisode is set for the first NoHardwareID decision of an idle
	// episode; later ones in the same episode are silent.
	FirstInEpisode bool
}

// Machine is the idle state of one controller. It is not safe for
// concurrent use; the runner owns it.
type Machine struct {
	hardwareID   string
	state        session.State
	lastInput    time.Time
	axes         map[uint16]int32
	lastCharging session.Charging
	reportedNoHW bool
}

// NewMachine starts in Active with the idle clock at now.
func NewMachine(hardwareID string, now time.Time) *Machine {
	return &Machine{
		hardwareID: hardwareID,
		state:      session.Active,
		lastInput:  now,
		axes:       make(map[uint16]int32),
	}
}

func (m *Machine) State() session.State           { return m.state }
func (m *Machine) LastInput() time.Time           { return m.lastInput }
func (m *Machine) LastCharging() session.Charging { return m.lastCharging }

// HandleEvent applies one input event and reports whether it counted as
// activity. Buttons always count; d-pad presses count; other absolute axes
// count only when they move by more than threshold since the previous
// reading on that axis.
func (m *Machine) HandleEvent(ev evdev.Event, now time.Time, threshold int32) bool {
	if m.state == session.Terminated {
		return false
	}

	active := false
	switch {
	case ev.Type == evdev.EvKey:
		active = true
	case ev.IsDPad():
		active = ev.Value != 0
	case ev.Type == evdev.EvAbs:
		prev, seen := m.axes[ev.Code]
		m.axes[ev.Code] = ev.Value
		if seen {
			delta := ev.Value - prev
			if delta < 0 {
				delta = -delta
			}
			active = delta > threshold
		}
	}

	if active {
		m.markActive(now)
	}
	return active
}

func (m *Machine) markActive(now time.Time) {
	m.lastInput = now
	m.state = session.Active
	m.reportedNoHW = false
}

// Check evaluates the idle policy at now. readBattery is only called once
// the timeout has elapsed and the controller has a hardware address.
func (m *Machine) Check(now time.Time, p Policy, readBattery func() battery.Info) Decision {
	if m.state == session.Terminated || m.state == session.Disconnecting {
		return Decision{Outcome: NotIdle}
	}

	idle := now.Sub(m.lastInput)
	if idle <= p.IdleTimeout {
		return Decision{Outcome: NotIdle, Idle: idle}
	}
	m.state = session.IdleCheck

	if m.hardwareID == "" {
		first := !m.reportedNoHW
		m.reportedNoHW = true
		return Decision{Outcome: NoHardwareID, Idle: idle, FirstInEpisode: first}
	}

	info := readBattery()
	cur := session.ChargingFrom(info.Charging)
	prev := m.lastCharging
	m.lastCharging = cur
	d := Decision{
		Idle:            idle,
		Battery:         info,
		ChargingChanged: prev.Known() && prev != cur,
	}

	if prev == session.ChargingYes && cur == session.ChargingNo {
		m.markActive(now)
		d.Outcome = ChargingStopped
		return d
	}
	if info.Charging && p.IgnoreWhenCharging {
		d.Outcome = Suppressed
		return d
	}

	m.state = session.Disconnecting
	d.Outcome = Disconnect
	return d
}

// Terminate moves the machine to its final state.
func (m *Machine) Terminate() {
	m.state = session.Terminated
}
