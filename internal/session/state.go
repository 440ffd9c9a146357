package session

import (
	"encoding/json"
	"time"
)

// State is the idle-monitor lifecycle of one controller.
type State int

const (
	Active State = iota
	IdleCheck
	Disconnecting
	Terminated
)

var stateNames = map[State]string{
	Active:        "active",
	IdleCheck:     "idle_check",
	Disconnecting: "disconnecting",
	Terminated:    "terminated",
}

var stateFromName = map[string]State{
	"active":        Active,
	"idle_check":    IdleCheck,
	"disconnecting": Disconnecting,
	"terminated":    Terminated,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := stateFromName[n]; ok {
		*s = v
	}
	return nil
}

// Charging is the last charging flag observed for a controller. It starts
// out unknown so the first observation is not reported as a transition.
type Charging int8

const (
	ChargingUnknown Charging = iota
	ChargingYes
	ChargingNo
)

// ChargingFrom converts a battery reading.
func ChargingFrom(charging bool) Charging {
	if charging {
		return ChargingYes
	}
	return ChargingNo
}

func (c Charging) Known() bool { return c != ChargingUnknown }

func (c Charging) String() string {
	switch c {
	case ChargingYes:
		return "charging"
	case ChargingNo:
		return "discharging"
	default:
		return "unknown"
	}
}

// Session is one monitored controller. Values handed out by the Store are
// copies and safe to retain.
type Session struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	DisplayName string    `json:"name"`
	HardwareID  string    `json:"mac,omitempty"`
	PlayerSlot  int       `json:"player"`
	State       State     `json:"state"`
	StartedAt   time.Time `json:"startedAt"`
	// LastInputAt carries a monotonic reading; compare it only against
	// time.Now() from the same process.
	LastInputAt  time.Time `json:"lastInputAt"`
	LastCharging Charging  `json:"-"`
}

// Clone returns an independent copy.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// HasHardwareID reports whether the link can be controlled.
func (s *Session) HasHardwareID() bool {
	return s.HardwareID != ""
}

func (s *Session) IsTerminal() bool {
	return s.State == Terminated
}

// IdleFor returns how long the controller has gone without qualifying input.
func (s *Session) IdleFor(now time.Time) time.Duration {
	d := now.Sub(s.LastInputAt)
	if d < 0 {
		return 0
	}
	return d
}
