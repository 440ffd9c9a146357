// Package notify posts desktop notifications through the freedesktop
// notification service on the session bus.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/padwatch/padwatch/internal/logging"
)

const (
	AppName = "padwatch"

	notifyDest  = "org.freedesktop.Notifications"
	notifyPath  = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyCall  = notifyDest + ".Notify"
	sendTimeout = 2 * time.Second
)

// Common summaries.
const (
	SummaryStarting       = "Starting"
	SummaryConnected      = "Controller Connected"
	SummaryDisconnected   = "Disconnected"
	SummaryTimeoutChanged = "Idle Timeout Changed"
	SummaryClosing        = "Closing process"
	SummaryAlreadyRunning = "Already Running"
	SummaryStopped        = "Stopped"
)

// Notifier shows a short message to the user. Delivery is best effort.
type Notifier interface {
	Notify(summary, body string)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(string, string) {}

// sendFunc delivers one notification, replacing replaceID when non-zero,
// and returns the id the server assigned.
type sendFunc func(ctx context.Context, replaceID uint32, summary, body string) (uint32, error)

// DBusNotifier rate-limits notifications and keeps replacing the previous
// bubble so a burst of events shows as one updating message.
type DBusNotifier struct {
	send     sendFunc
	cooldown time.Duration
	now      func() time.Time
	log      *zap.Logger

	mu      sync.Mutex
	lastAt  time.Time // last successful send
	lastID  uint32
	sending bool
}

func NewDBusNotifier(cooldown time.Duration) (*DBusNotifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect session bus")
	}
	obj := conn.Object(notifyDest, notifyPath)
	send := func(ctx context.Context, replaceID uint32, summary, body string) (uint32, error) {
		hints := map[string]dbus.Variant{
			"urgency":       dbus.MakeVariant(byte(1)),
			"category":      dbus.MakeVariant("device"),
			"desktop-entry": dbus.MakeVariant(AppName),
		}
		var id uint32
		err := obj.CallWithContext(ctx, notifyCall, 0,
			AppName, replaceID, "input-gaming", "", formatBody(summary, body),
			[]string{}, hints, int32(-1),
		).Store(&id)
		return id, err
	}
	return newDBusNotifier(send, cooldown), nil
}

func newDBusNotifier(send sendFunc, cooldown time.Duration) *DBusNotifier {
	return &DBusNotifier{
		send:     send,
		cooldown: cooldown,
		now:      time.Now,
		log:      logging.L("notify"),
	}
}

// formatBody puts the summary in bold on the first line; some servers hide
// the summary field entirely.
func formatBody(summary, body string) string {
	if body == "" {
		return fmt.Sprintf("<b>%s</b>", summary)
	}
	return fmt.Sprintf("<b>%s</b>\n%s", summary, body)
}

// Notify sends one notification unless another is in flight or the last
// successful one is younger than the cooldown. The lock is not held during
// the bus call; a failed send does not start the cooldown.
func (n *DBusNotifier) Notify(summary, body string) {
	n.mu.Lock()
	now := n.now()
	if n.sending || (!n.lastAt.IsZero() && now.Sub(n.lastAt) < n.cooldown) {
		n.mu.Unlock()
		n.log.Debug("notification dropped", zap.String("summary", summary))
		return
	}
	n.sending = true
	replaceID := n.lastID
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	id, err := n.send(ctx, replaceID, summary, body)
	cancel()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.sending = false
	if err != nil {
		n.log.Warn("notification failed", zap.String("summary", summary), zap.Error(err))
		return
	}
	n.lastAt = now
	n.lastID = id
}
