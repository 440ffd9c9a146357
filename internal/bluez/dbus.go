package bluez

import (
	"context"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

const (
	BlueZBusName           = "org.bluez"
	Device1Interface       = "org.bluez.Device1"
	ObjectManagerInterface = "org.freedesktop.DBus.ObjectManager"
	PropertiesInterface    = "org.freedesktop.DBus.Properties"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// DBusController drives org.bluez.Device1 on the system bus.
type DBusController struct {
	conn *dbus.Conn
}

func NewDBusController() (*DBusController, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect system bus")
	}
	return &DBusController{conn: conn}, nil
}

func (c *DBusController) Disconnect(ctx context.Context, mac string) error {
	path, err := c.devicePath(ctx, mac)
	if err != nil {
		return err
	}
	call := c.conn.Object(BlueZBusName, path).CallWithContext(ctx, Device1Interface+".Disconnect", 0)
	if call.Err != nil {
		return errors.Wrapf(call.Err, "disconnect %s", mac)
	}
	return nil
}

func (c *DBusController) Trust(ctx context.Context, mac string) error {
	path, err := c.devicePath(ctx, mac)
	if err != nil {
		return err
	}
	call := c.conn.Object(BlueZBusName, path).CallWithContext(ctx, PropertiesInterface+".Set", 0,
		Device1Interface, "Trusted", dbus.MakeVariant(true))
	if call.Err != nil {
		return errors.Wrapf(call.Err, "trust %s", mac)
	}
	return nil
}

func (c *DBusController) devicePath(ctx context.Context, mac string) (dbus.ObjectPath, error) {
	var objects managedObjects
	call := c.conn.Object(BlueZBusName, "/").CallWithContext(ctx, ObjectManagerInterface+".GetManagedObjects", 0)
	if call.Err != nil {
		return "", errors.Wrap(call.Err, "get managed objects")
	}
	if err := call.Store(&objects); err != nil {
		return "", errors.Wrap(err, "get managed objects")
	}
	return findDevice(objects, mac)
}

// findDevice picks the Device1 object whose Address matches mac. When more
// than one adapter knows the device, the lowest object path wins.
func findDevice(objects managedObjects, mac string) (dbus.ObjectPath, error) {
	var found dbus.ObjectPath
	for path, ifaces := range objects {
		props, ok := ifaces[Device1Interface]
		if !ok {
			continue
		}
		addr, _ := props["Address"].Value().(string)
		if !strings.EqualFold(addr, mac) {
			continue
		}
		if found == "" || path < found {
			found = path
		}
	}
	if found == "" {
		return "", errors.Wrap(ErrDeviceNotFound, mac)
	}
	return found, nil
}
