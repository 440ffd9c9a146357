// Package dbusapi exports status and admin actions on the session bus as
// org.dualsense.Monitor, for desktop widgets and scripts.
package dbusapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/padwatch/padwatch/internal/control"
	"github.com/padwatch/padwatch/internal/logging"
	"github.com/padwatch/padwatch/internal/notify"
	"github.com/padwatch/padwatch/internal/session"
	"github.com/padwatch/padwatch/internal/status"
)

const (
	BusName    = "org.dualsense.Monitor"
	Interface  = BusName
	ObjectPath = dbus.ObjectPath("/org/dualsense/Monitor")

	callTimeout = 10 * time.Second
)

var log = logging.L("dbus")

// StatusSource produces the current status view.
type StatusSource interface {
	Collect(ctx context.Context) status.Snapshot
}

// Admin performs the write actions.
type Admin interface {
	SetTimeout(seconds int) error
	Disconnect(ctx context.Context, slot int) (*session.Session, error)
}

// handler carries the exported methods. godbus maps every exported method
// with a trailing *dbus.Error result onto the interface.
type handler struct {
	status   StatusSource
	admin    Admin
	notifier notify.Notifier
}

func (h *handler) GetStatus() (string, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	data, err := json.Marshal(h.status.Collect(ctx))
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return string(data), nil
}

func (h *handler) SendStatusToast() (string, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	h.notifier.Notify("DualSense Status", status.Toast(h.status.Collect(ctx)))
	return "ok", nil
}

func (h *handler) SetTimeout(seconds int32) (string, *dbus.Error) {
	err := h.admin.SetTimeout(int(seconds))
	if err != nil {
		log.Warn("SetTimeout rejected", zap.Int32("seconds", seconds), zap.Error(err))
	}
	return control.TimeoutReply(int(seconds), err), nil
}

func (h *handler) DisconnectByIndex(index int32) (string, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	s, err := h.admin.Disconnect(ctx, int(index))
	return control.DisconnectReply(int(index), s, err), nil
}

// Service owns the bus name while Serve runs.
type Service struct {
	h *handler
}

func New(source StatusSource, admin Admin, n notify.Notifier) *Service {
	if n == nil {
		n = notify.Nop{}
	}
	return &Service{h: &handler{status: source, admin: admin, notifier: n}}
}

func (s *Service) Name() string { return "dbus" }

// Serve connects to the session bus, exports the object and claims the
// bus name, then blocks until ctx is cancelled.
func (s *Service) Serve(ctx context.Context) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return errors.Wrap(err, "connect session bus")
	}
	defer conn.Close()

	if err := conn.Export(s.h, ObjectPath, Interface); err != nil {
		return errors.Wrap(err, "export object")
	}
	if err := conn.Export(introspect.NewIntrospectable(node(s.h)), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return errors.Wrap(err, "export introspection")
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return errors.Wrapf(err, "request name %s", BusName)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.Errorf("bus name %s already taken", BusName)
	}
	log.Info("dbus service registered", zap.String("name", BusName), zap.String("path", string(ObjectPath)))

	<-ctx.Done()
	if _, err := conn.ReleaseName(BusName); err != nil {
		log.Debug("release bus name", zap.Error(err))
	}
	return nil
}

func node(h *handler) *introspect.Node {
	return &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    Interface,
				Methods: introspect.Methods(h),
			},
		},
	}
}
