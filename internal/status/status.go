// Package status builds the point-in-time view of monitored controllers
// that the socket server, the D-Bus service and the CLI hand out.
package status

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/padwatch/padwatch/internal/battery"
	"github.com/padwatch/padwatch/internal/config"
	"github.com/padwatch/padwatch/internal/session"
)

// Entry is one controller as reported to clients.
type Entry struct {
	Path          string        `json:"path"`
	HardwareID    string        `json:"mac"`
	Name          string        `json:"name"`
	Player        int           `json:"player"`
	Battery       string        `json:"battery"`
	Charging      bool          `json:"charging"`
	IdleRemaining int           `json:"idle_remaining"`
	State         session.State `json:"state"`
}

// Snapshot maps device path to entry.
type Snapshot map[string]Entry

// Sorted returns the entries ordered by player slot.
func (s Snapshot) Sorted() []Entry {
	out := make([]Entry, 0, len(s))
	for _, e := range s {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Player != out[j].Player {
			return out[i].Player < out[j].Player
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// SessionSource is the read side of the session table.
type SessionSource interface {
	Snapshot() []*session.Session
}

// BatteryReader looks up charge state by hardware address.
type BatteryReader interface {
	Get(ctx context.Context, mac string) battery.Info
}

// Aggregator answers status queries.
type Aggregator struct {
	sessions SessionSource
	battery  BatteryReader
	config   *config.Store
	now      func() time.Time
}

func NewAggregator(sessions SessionSource, b BatteryReader, cfg *config.Store) *Aggregator {
	return &Aggregator{
		sessions: sessions,
		battery:  b,
		config:   cfg,
		now:      time.Now,
	}
}

// Collect copies the session table and derives battery and idle budget for
// each session. The table lock is only held by the copy; battery lookups
// happen afterwards.
func (a *Aggregator) Collect(ctx context.Context) Snapshot {
	sessions := a.sessions.Snapshot()
	timeout := a.config.Current().IdleTimeout()
	now := a.now()

	out := make(Snapshot, len(sessions))
	for _, s := range sessions {
		info := battery.UnknownInfo
		if s.HasHardwareID() {
			info = a.battery.Get(ctx, s.HardwareID)
		}
		out[s.Path] = Entry{
			Path:          s.Path,
			HardwareID:    s.HardwareID,
			Name:          s.DisplayName,
			Player:        s.PlayerSlot,
			Battery:       info.Percentage,
			Charging:      info.Charging,
			IdleRemaining: IdleRemaining(timeout, s.IdleFor(now)),
			State:         s.State,
		}
	}
	return out
}

// IdleRemaining returns the whole seconds left before timeout, clamped to
// [0, timeout].
func IdleRemaining(timeout, idle time.Duration) int {
	if timeout < 0 {
		timeout = 0
	}
	left := timeout - idle
	if left < 0 {
		left = 0
	}
	if left > timeout {
		left = timeout
	}
	return int(left / time.Second)
}

// Toast renders the snapshot as the body of a desktop notification.
func Toast(s Snapshot) string {
	if len(s) == 0 {
		return "No controllers connected."
	}
	var b strings.Builder
	for i, e := range s.Sorted() {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Player %d: %s", e.Player, e.Name)
		if e.HardwareID != "" {
			fmt.Fprintf(&b, " (%s)", e.HardwareID)
		}
		fmt.Fprintf(&b, " | Battery %s", e.Battery)
		if e.Charging {
			b.WriteString(" | Charging")
		} else {
			fmt.Fprintf(&b, " | Idle in %ds", e.IdleRemaining)
		}
	}
	return b.String()
}
