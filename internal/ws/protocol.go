package ws

import (
	"github.com/padwatch/padwatch/internal/monitor"
	"github.com/padwatch/padwatch/internal/session"
	"github.com/padwatch/padwatch/internal/status"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgDelta    MessageType = "delta"
	MsgHealth   MessageType = "health"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Controllers []status.Entry `json:"controllers"`
	IdleTimeout int            `json:"idleTimeout"`
}

// DeltaPayload lists the table changes of one reconciliation pass.
// Removed holds device paths.
type DeltaPayload struct {
	Added      []*session.Session `json:"added,omitempty"`
	Removed    []string           `json:"removed,omitempty"`
	Renumbered []*session.Session `json:"renumbered,omitempty"`
}

type HealthPayload = monitor.Health

type TimeoutRequest struct {
	Seconds int `json:"seconds"`
}

// ActionResponse is the body of every admin endpoint reply.
type ActionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}
