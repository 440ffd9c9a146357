// Package mock simulates DualSense controllers so the whole monitor can run
// without hardware. A Fleet acts as the device lister, the event-stream
// opener, the Bluetooth link and the battery querier at once.
package mock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/padwatch/padwatch/internal/battery"
	"github.com/padwatch/padwatch/internal/bluez"
	"github.com/padwatch/padwatch/internal/evdev"
	"github.com/padwatch/padwatch/internal/idle"
	"github.com/padwatch/padwatch/internal/inventory"
	"github.com/padwatch/padwatch/internal/logging"
)

var log = logging.L("mock")

// ErrDeviceGone is returned by reads on a stream whose controller has been
// disconnected.
var ErrDeviceGone = errors.New("mock: no such device")

// Input patterns a simulated controller can follow.
const (
	PatternSteady   = "steady"   // input on every tick
	PatternBurst    = "burst"    // short bursts, then quiet
	PatternIdle     = "idle"     // goes quiet and is eventually disconnected
	PatternCharging = "charging" // idle but on a cable
	PatternDrift    = "drift"    // stick noise below the drift threshold only
)

// DefaultTick is the simulation step used by Run.
const DefaultTick = 500 * time.Millisecond

// reconnectTicks is how long a disconnected controller stays away before
// it is "paired" again.
const reconnectTicks = 60

// Pad describes one simulated controller.
type Pad struct {
	Path     string
	Name     string
	MAC      string // empty simulates an unknown hardware address
	Pattern  string
	Battery  int
	Charging bool
}

// DefaultPads is the fleet used by `run --simulate`.
func DefaultPads() []Pad {
	return []Pad{
		{Path: "/dev/input/event21", Name: "DualSense Wireless Controller", MAC: "a0:5a:5c:00:00:01", Pattern: PatternSteady, Battery: 80},
		{Path: "/dev/input/event23", Name: "Wireless Controller", MAC: "a0:5a:5c:00:00:02", Pattern: PatternBurst, Battery: 55},
		{Path: "/dev/input/event25", Name: "DualSense Wireless Controller", MAC: "a0:5a:5c:00:00:03", Pattern: PatternIdle, Battery: 30},
		{Path: "/dev/input/event27", Name: "DualSense Edge Wireless Controller", MAC: "a0:5a:5c:00:00:04", Pattern: PatternCharging, Battery: 64, Charging: true},
		{Path: "/dev/input/event29", Name: "Wireless Controller", Pattern: PatternDrift, Battery: 90},
	}
}

type pad struct {
	Pad
	connected   bool
	trusted     bool
	awayUntil   int
	streams     map[*stream]struct{}
	stickX      int32
	level       float64
	toggleCount int
}

// Fleet is a set of simulated controllers advanced by Run.
type Fleet struct {
	mu     sync.Mutex
	pads   []*pad
	tick   int
	period time.Duration
	rng    *rand.Rand
}

func NewFleet(pads []Pad, period time.Duration) *Fleet {
	if period <= 0 {
		period = DefaultTick
	}
	f := &Fleet{
		period: period,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, p := range pads {
		f.pads = append(f.pads, &pad{
			Pad:       p,
			connected: true,
			streams:   make(map[*stream]struct{}),
			stickX:    128,
			level:     float64(p.Battery),
		})
	}
	return f
}

// Run advances the simulation every period until ctx is cancelled.
func (f *Fleet) Run(ctx context.Context) {
	ticker := time.NewTicker(f.period)
	defer ticker.Stop()
	log.Info("simulating controllers", zap.Int("count", len(f.pads)))

	for {
		select {
		case <-ctx.Done():
			f.closeAll()
			return
		case <-ticker.C:
			f.Step()
		}
	}
}

// Step advances every controller by one tick.
func (f *Fleet) Step() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick++
	for _, p := range f.pads {
		f.advance(p)
	}
}

func (f *Fleet) advance(p *pad) {
	if !p.connected {
		if f.tick >= p.awayUntil {
			p.connected = true
			log.Info("simulated controller reconnected", zap.String("device", p.Path))
		}
		return
	}

	if p.Charging {
		p.level = min(100, p.level+0.2)
	} else {
		p.level = max(1, p.level-0.02)
	}

	switch p.Pattern {
	case PatternSteady:
		p.emit(f.stickMove(p))
		if f.tick%5 == 0 {
			p.emit(button(evdev.BtnSouth, 1), button(evdev.BtnSouth, 0))
		}
	case PatternBurst:
		if f.tick%20 < 4 {
			p.emit(f.stickMove(p), dpad(1), dpad(0))
		}
	case PatternIdle:
		// a few presses right after connecting, then nothing
		if p.toggleCount < 3 {
			p.emit(button(evdev.BtnEast, 1), button(evdev.BtnEast, 0))
			p.toggleCount++
		}
	case PatternCharging:
		// silent; the monitor should suppress the disconnect
	case PatternDrift:
		p.emit(evdev.Event{Type: evdev.EvAbs, Code: evdev.AbsX, Value: 128 + int32(f.rng.Intn(5)) - 2})
	}
}

func (f *Fleet) stickMove(p *pad) evdev.Event {
	p.stickX = int32(f.rng.Intn(256))
	return evdev.Event{Type: evdev.EvAbs, Code: evdev.AbsX, Value: p.stickX}
}

func button(code uint16, v int32) evdev.Event {
	return evdev.Event{Type: evdev.EvKey, Code: code, Value: v}
}

func dpad(v int32) evdev.Event {
	return evdev.Event{Type: evdev.EvAbs, Code: evdev.AbsHat0X, Value: v}
}

func (p *pad) emit(evs ...evdev.Event) {
	now := time.Now()
	for s := range p.streams {
		if s.closed() {
			delete(p.streams, s)
			continue
		}
		for _, ev := range evs {
			ev.Time = now
			s.push(ev)
		}
	}
}

func (p *pad) drop() {
	for s := range p.streams {
		s.Close()
	}
	p.streams = make(map[*stream]struct{})
}

func (f *Fleet) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pads {
		p.drop()
	}
}

func (f *Fleet) byMAC(mac string) *pad {
	mac = inventory.NormalizeMAC(mac)
	for _, p := range f.pads {
		if p.MAC != "" && inventory.NormalizeMAC(p.MAC) == mac {
			return p
		}
	}
	return nil
}

// List reports the connected controllers.
func (f *Fleet) List(ctx context.Context) ([]inventory.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []inventory.Candidate
	for _, p := range f.pads {
		if p.connected {
			out = append(out, inventory.Candidate{Path: p.Path, Name: p.Name, HardwareID: p.MAC})
		}
	}
	return out, nil
}

// Open returns an event stream for a connected controller.
func (f *Fleet) Open(path string) (idle.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pads {
		if p.Path != path {
			continue
		}
		if !p.connected {
			return nil, fmt.Errorf("open %s: %w", path, ErrDeviceGone)
		}
		s := newStream()
		p.streams[s] = struct{}{}
		return s, nil
	}
	return nil, fmt.Errorf("open %s: %w", path, ErrDeviceGone)
}

// Disconnect drops the link: open streams fail and the controller leaves
// the listing until it reconnects.
func (f *Fleet) Disconnect(ctx context.Context, mac string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.byMAC(mac)
	if p == nil || !p.connected {
		return bluez.ErrDeviceNotFound
	}
	p.connected = false
	p.awayUntil = f.tick + reconnectTicks
	p.toggleCount = 0
	p.drop()
	log.Info("simulated controller disconnected", zap.String("device", p.Path), zap.String("mac", p.MAC))
	return nil
}

func (f *Fleet) Trust(ctx context.Context, mac string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.byMAC(mac)
	if p == nil {
		return bluez.ErrDeviceNotFound
	}
	p.trusted = true
	return nil
}

// Trusted reports whether Trust has been called for mac.
func (f *Fleet) Trusted(mac string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.byMAC(mac)
	return p != nil && p.trusted
}

// Query implements battery.Querier.
func (f *Fleet) Query(ctx context.Context, mac string) (battery.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.byMAC(mac)
	if p == nil || !p.connected {
		return battery.Info{}, battery.ErrNotFound
	}
	return battery.Info{
		Percentage: fmt.Sprintf("%d%%", int(p.level)),
		Charging:   p.Charging,
	}, nil
}

// SetCharging plugs or unplugs a simulated cable.
func (f *Fleet) SetCharging(path string, charging bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pads {
		if strings.EqualFold(p.Path, path) {
			p.Charging = charging
			return true
		}
	}
	return false
}

// stream is an in-memory event source. Events that arrive while the reader
// is behind are dropped once the buffer fills.
type stream struct {
	events chan evdev.Event
	done   chan struct{}
	once   sync.Once
}

func newStream() *stream {
	return &stream{
		events: make(chan evdev.Event, 256),
		done:   make(chan struct{}),
	}
}

func (s *stream) push(ev evdev.Event) {
	select {
	case <-s.done:
	case s.events <- ev:
	default:
	}
}

func (s *stream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *stream) ReadEvent() (evdev.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		return evdev.Event{}, ErrDeviceGone
	}
}

func (s *stream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
