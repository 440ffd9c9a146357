// Package control implements the administrative actions exposed over the
// socket server, D-Bus and the CLI.
package control

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/padwatch/padwatch/internal/bluez"
	"github.com/padwatch/padwatch/internal/config"
	"github.com/padwatch/padwatch/internal/logging"
	"github.com/padwatch/padwatch/internal/notify"
	"github.com/padwatch/padwatch/internal/session"
)

var (
	ErrInvalidTimeout = errors.New("invalid timeout value")
	ErrNoSuchPlayer   = errors.New("no controller at that player slot")
	ErrNoHardwareID   = errors.New("controller has no hardware address")
)

// SessionFinder looks up a live session by player slot.
type SessionFinder interface {
	BySlot(slot int) (*session.Session, bool)
}

type Controller struct {
	config   *config.Store
	sessions SessionFinder
	link     bluez.Controller
	notifier notify.Notifier
	log      *zap.Logger
}

func New(cfg *config.Store, sessions SessionFinder, link bluez.Controller, n notify.Notifier) *Controller {
	if n == nil {
		n = notify.Nop{}
	}
	return &Controller{
		config:   cfg,
		sessions: sessions,
		link:     link,
		notifier: n,
		log:      logging.L("control"),
	}
}

// SetTimeout persists a new idle timeout. Running monitors pick it up on
// their next check.
func (c *Controller) SetTimeout(seconds int) error {
	if seconds < config.MinIdleTimeout {
		return fmt.Errorf("%w: %d is below %d", ErrInvalidTimeout, seconds, config.MinIdleTimeout)
	}
	if err := c.config.SetIdleTimeout(seconds); err != nil {
		return err
	}
	c.log.Info("idle timeout changed", zap.Int("seconds", seconds))
	c.notifier.Notify(notify.SummaryTimeoutChanged, fmt.Sprintf("Idle timeout set to %ds", seconds))
	return nil
}

// Disconnect drops the link of the controller in slot. The lookup copies
// the session under the table lock; the link call happens after it is
// released. The monitor notices the vanished device on its own.
func (c *Controller) Disconnect(ctx context.Context, slot int) (*session.Session, error) {
	s, ok := c.sessions.BySlot(slot)
	if !ok {
		return nil, ErrNoSuchPlayer
	}
	if !s.HasHardwareID() {
		return s, ErrNoHardwareID
	}

	log := c.log.With(
		zap.Int(logging.KeyPlayer, slot),
		zap.String(logging.KeyDevice, s.Path),
		zap.String(logging.KeyMAC, s.HardwareID),
	)
	if err := c.link.Disconnect(ctx, s.HardwareID); err != nil {
		log.Error("manual disconnect failed", zap.Error(err))
		return s, err
	}
	log.Info("manual disconnect issued")
	c.notifier.Notify(notify.SummaryDisconnected, fmt.Sprintf("Disconnected %s (Player %d)", s.DisplayName, slot))
	return s, nil
}
