// Package bluez controls Bluetooth links to controllers: disconnecting idle
// ones and marking new ones trusted.
package bluez

import (
	"context"
	"errors"
)

// ErrDeviceNotFound means BlueZ has no device object for the address.
var ErrDeviceNotFound = errors.New("bluez: device not found")

// Controller performs link-layer side effects. Both calls are one-shot; the
// caller logs the outcome and never retries.
type Controller interface {
	Disconnect(ctx context.Context, mac string) error
	Trust(ctx context.Context, mac string) error
}
