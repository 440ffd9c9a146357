// Package evdev reads typed events from Linux input event devices
// (/dev/input/eventN).
package evdev

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"golang.org/x/sys/unix"
)

// Event types and codes used by the idle monitor. Values match
// linux/input-event-codes.h.
const (
	EvSyn uint16 = 0x00
	EvKey uint16 = 0x01
	EvRel uint16 = 0x02
	EvAbs uint16 = 0x03
	EvMsc uint16 = 0x04

	AbsX     uint16 = 0x00
	AbsY     uint16 = 0x01
	AbsZ     uint16 = 0x02
	AbsRX    uint16 = 0x03
	AbsRY    uint16 = 0x04
	AbsRZ    uint16 = 0x05
	AbsHat0X uint16 = 0x10
	AbsHat0Y uint16 = 0x11

	BtnSouth uint16 = 0x130
	BtnEast  uint16 = 0x131
	BtnStart uint16 = 0x13b
	BtnMode  uint16 = 0x13c
)

// Event is one decoded struct input_event.
type Event struct {
	Time  time.Time
	Type  uint16
	Code  uint16
	Value int32
}

// IsDPad reports whether the event is on one of the hat axes the
// DualSense uses for its directional pad.
func (e Event) IsDPad() bool {
	return e.Type == EvAbs && (e.Code == AbsHat0X || e.Code == AbsHat0Y)
}

func (e Event) String() string {
	return fmt.Sprintf("type=%#x code=%#x value=%d", e.Type, e.Code, e.Value)
}

// rawEvent mirrors the kernel layout on the running architecture.
type rawEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// EventSize is the size in bytes of one input_event record.
var EventSize = binary.Size(rawEvent{})

// Decode reads exactly one input_event from r.
func Decode(r io.Reader) (Event, error) {
	var raw rawEvent
	if err := binary.Read(r, binary.NativeEndian, &raw); err != nil {
		return Event{}, err
	}
	return Event{
		Time:  time.Unix(raw.Time.Unix()),
		Type:  raw.Type,
		Code:  raw.Code,
		Value: raw.Value,
	}, nil
}

// Encode writes ev in the kernel layout. Used by tests and the simulator.
func Encode(w io.Writer, ev Event) error {
	raw := rawEvent{
		Time:  unix.NsecToTimeval(ev.Time.UnixNano()),
		Type:  ev.Type,
		Code:  ev.Code,
		Value: ev.Value,
	}
	return binary.Write(w, binary.NativeEndian, &raw)
}
