package battery

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

const (
	upowerBusName       = "org.freedesktop.UPower"
	upowerPath          = dbus.ObjectPath("/org/freedesktop/UPower")
	upowerDeviceIface   = "org.freedesktop.UPower.Device"
	propertiesGetAll    = "org.freedesktop.DBus.Properties.GetAll"
	upowerEnumerateCall = "org.freedesktop.UPower.EnumerateDevices"
)

// UPower device states, from the org.freedesktop.UPower.Device docs.
const (
	stateUnknown          uint32 = 0
	stateCharging         uint32 = 1
	stateDischarging      uint32 = 2
	stateEmpty            uint32 = 3
	stateFullyCharged     uint32 = 4
	statePendingCharge    uint32 = 5
	statePendingDischarge uint32 = 6
)

// chargingState reports whether a UPower state means the controller is on
// external power.
func chargingState(state uint32) bool {
	switch state {
	case stateCharging, stateFullyCharged, statePendingCharge:
		return true
	}
	return false
}

// UPowerQuerier talks to UPower on the system bus.
type UPowerQuerier struct {
	conn *dbus.Conn
}

func NewUPowerQuerier() (*UPowerQuerier, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect system bus")
	}
	return &UPowerQuerier{conn: conn}, nil
}

func (q *UPowerQuerier) Query(ctx context.Context, mac string) (Info, error) {
	var paths []dbus.ObjectPath
	obj := q.conn.Object(upowerBusName, upowerPath)
	if err := obj.CallWithContext(ctx, upowerEnumerateCall, 0).Store(&paths); err != nil {
		return Info{}, errors.Wrap(err, "enumerate upower devices")
	}

	for _, p := range paths {
		var props map[string]dbus.Variant
		call := q.conn.Object(upowerBusName, p).CallWithContext(ctx, propertiesGetAll, 0, upowerDeviceIface)
		if err := call.Store(&props); err != nil {
			return Info{}, errors.Wrapf(err, "read %s", p)
		}
		serial, _ := props["Serial"].Value().(string)
		if !strings.EqualFold(strings.TrimSpace(serial), mac) {
			continue
		}
		return infoFromProps(props), nil
	}
	return Info{}, ErrNotFound
}

func infoFromProps(props map[string]dbus.Variant) Info {
	info := Info{Percentage: Unknown}
	if v, ok := props["Percentage"].Value().(float64); ok {
		info.Percentage = formatPercent(v)
	}
	if v, ok := props["State"].Value().(uint32); ok {
		info.Charging = chargingState(v)
	}
	return info
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(v)))
}
