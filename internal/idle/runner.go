package idle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/padwatch/padwatch/internal/battery"
	"github.com/padwatch/padwatch/internal/bluez"
	"github.com/padwatch/padwatch/internal/evdev"
	"github.com/padwatch/padwatch/internal/logging"
	"github.com/padwatch/padwatch/internal/session"
)

// Stream is an open input device.
type Stream interface {
	ReadEvent() (evdev.Event, error)
	Close() error
}

// Opener opens the event stream for a device path.
type Opener func(path string) (Stream, error)

// OpenDevice opens a real evdev node.
func OpenDevice(path string) (Stream, error) {
	return evdev.Open(path)
}

// Recorder receives the machine's state so readers of the session table
// see it.
type Recorder interface {
	Touch(path string, at time.Time)
	SetState(path string, st session.State)
	SetCharging(path string, c session.Charging) session.Charging
}

// BatteryReader looks up charge state by hardware address.
type BatteryReader interface {
	Get(ctx context.Context, mac string) battery.Info
}

// ExitReason says why a runner returned.
type ExitReason int

const (
	ExitCancelled ExitReason = iota
	ExitIdleDisconnect
	ExitStreamEnded
	ExitOpenFailed
)

var exitNames = map[ExitReason]string{
	ExitCancelled:      "cancelled",
	ExitIdleDisconnect: "idle_disconnect",
	ExitStreamEnded:    "stream_ended",
	ExitOpenFailed:     "open_failed",
}

func (r ExitReason) String() string {
	if n, ok := exitNames[r]; ok {
		return n
	}
	return "unknown"
}

// DefaultCheckInterval is how often the idle clock is evaluated while no
// events arrive.
const DefaultCheckInterval = time.Second

// Runner is the monitor task for one controller.
type Runner struct {
	Session  *session.Session
	Open     Opener
	Policy   func() Policy
	Battery  BatteryReader
	Link     bluez.Controller
	Recorder Recorder

	CheckInterval time.Duration
	// Now defaults to time.Now. Every idle comparison uses readings from it.
	Now func() time.Time
	Log *zap.Logger
	// Quiet logs an open failure at debug level. Set for retries of a
	// device that already failed to open.
	Quiet bool
	// Opened, when set, is called once the stream is open.
	Opened func()
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) logger() *zap.Logger {
	l := r.Log
	if l == nil {
		l = logging.L("idle")
	}
	return l.With(
		zap.String(logging.KeyDevice, r.Session.Path),
		zap.String(logging.KeyMAC, r.Session.HardwareID),
		zap.String(logging.KeySession, r.Session.ID),
	)
}

type readResult struct {
	ev  evdev.Event
	err error
}

// Run drives the machine until the context is cancelled, the stream ends or
// an idle disconnect has been attempted. It always leaves the session in
// Terminated.
func (r *Runner) Run(ctx context.Context) ExitReason {
	log := r.logger()
	path := r.Session.Path
	defer r.Recorder.SetState(path, session.Terminated)

	stream, err := r.Open(path)
	if err != nil {
		if r.Quiet {
			log.Debug("could not open controller", zap.Error(err))
		} else {
			log.Warn("could not open controller", zap.Error(err))
		}
		return ExitOpenFailed
	}
	if r.Opened != nil {
		r.Opened()
	}

	started := r.Session.LastInputAt
	if started.IsZero() {
		started = r.now()
	}
	m := NewMachine(r.Session.HardwareID, started)
	reads := make(chan readResult, 64)
	stop := make(chan struct{})
	defer func() {
		close(stop)
		stream.Close()
	}()
	go pump(stream, reads, stop)

	interval := r.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Terminate()
			log.Debug("monitor cancelled")
			return ExitCancelled

		case rr := <-reads:
			if rr.err != nil {
				if ctx.Err() != nil {
					m.Terminate()
					return ExitCancelled
				}
				m.Terminate()
				log.Warn("controller disconnected unexpectedly", zap.Error(rr.err))
				return ExitStreamEnded
			}
			now := r.now()
			if m.HandleEvent(rr.ev, now, r.Policy().DriftThreshold) {
				r.Recorder.Touch(path, now)
			}

		case <-ticker.C:
			if reason, done := r.check(ctx, m, log); done {
				return reason
			}
		}
	}
}

// check runs one idle evaluation and performs its side effects.
func (r *Runner) check(ctx context.Context, m *Machine, log *zap.Logger) (ExitReason, bool) {
	path := r.Session.Path
	hw := r.Session.HardwareID
	before := m.State()

	d := m.Check(r.now(), r.Policy(), func() battery.Info {
		return r.Battery.Get(ctx, hw)
	})
	if d.Outcome != NotIdle && d.Outcome != NoHardwareID {
		r.Recorder.SetCharging(path, m.LastCharging())
	}
	if d.ChargingChanged {
		if d.Battery.Charging {
			log.Info("controller started charging", zap.String("battery", d.Battery.Percentage))
		} else {
			log.Info("controller stopped charging", zap.String("battery", d.Battery.Percentage))
		}
	}

	switch d.Outcome {
	case NotIdle:
		return 0, false

	case NoHardwareID:
		if before != session.IdleCheck {
			r.Recorder.SetState(path, session.IdleCheck)
		}
		if d.FirstInEpisode {
			log.Warn("controller idle but has no hardware address, cannot disconnect",
				zap.Duration("idle", d.Idle))
		}
		return 0, false

	case ChargingStopped:
		r.Recorder.Touch(path, m.LastInput())
		log.Info("idle clock restarted after charging stopped")
		return 0, false

	case Suppressed:
		if before != session.IdleCheck {
			r.Recorder.SetState(path, session.IdleCheck)
		}
		log.Debug("idle disconnect suppressed while charging", zap.Duration("idle", d.Idle))
		return 0, false
	}

	// Disconnect: exactly one attempt, then the task ends either way.
	r.Recorder.SetState(path, session.Disconnecting)
	log.Info("controller idle, disconnecting",
		zap.Duration("idle", d.Idle),
		zap.String("battery", d.Battery.Percentage))
	if err := r.Link.Disconnect(ctx, hw); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("idle disconnect interrupted by shutdown", zap.Error(err))
		} else {
			log.Error("idle disconnect failed", zap.Error(err))
		}
	} else {
		log.Info("idle disconnect issued")
	}
	m.Terminate()
	return ExitIdleDisconnect, true
}

// pump copies events from the blocking stream into reads until the stream
// fails or stop is closed.
func pump(stream Stream, reads chan<- readResult, stop <-chan struct{}) {
	for {
		ev, err := stream.ReadEvent()
		select {
		case reads <- readResult{ev: ev, err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}
