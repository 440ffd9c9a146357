package dbusapi

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padwatch/padwatch/internal/control"
	"github.com/padwatch/padwatch/internal/session"
	"github.com/padwatch/padwatch/internal/status"
)

type staticSource status.Snapshot

func (s staticSource) Collect(context.Context) status.Snapshot { return status.Snapshot(s) }

type fakeAdmin struct {
	timeouts []int
}

func (a *fakeAdmin) SetTimeout(seconds int) error {
	if seconds < 5 {
		return control.ErrInvalidTimeout
	}
	a.timeouts = append(a.timeouts, seconds)
	return nil
}

func (a *fakeAdmin) Disconnect(_ context.Context, slot int) (*session.Session, error) {
	if slot == 1 {
		return &session.Session{DisplayName: "DualSense", PlayerSlot: 1}, nil
	}
	return nil, control.ErrNoSuchPlayer
}

type recordingNotifier struct {
	summary, body string
}

func (r *recordingNotifier) Notify(summary, body string) {
	r.summary, r.body = summary, body
}

func newHandler() (*handler, *fakeAdmin, *recordingNotifier) {
	src := staticSource{
		"/dev/input/event5": {Path: "/dev/input/event5", HardwareID: "aa:bb:cc:dd:ee:01", Name: "DualSense", Player: 1, Battery: "80%", IdleRemaining: 30},
	}
	admin := &fakeAdmin{}
	n := &recordingNotifier{}
	s := New(src, admin, n)
	return s.h, admin, n
}

func TestGetStatus(t *testing.T) {
	h, _, _ := newHandler()
	out, dbusErr := h.GetStatus()
	require.Nil(t, dbusErr)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	entry := decoded["/dev/input/event5"]
	assert.Equal(t, "aa:bb:cc:dd:ee:01", entry["mac"])
	assert.Equal(t, float64(1), entry["player"])
	assert.Equal(t, float64(30), entry["idle_remaining"])
}

func TestSetTimeout(t *testing.T) {
	h, admin, _ := newHandler()

	out, dbusErr := h.SetTimeout(4)
	require.Nil(t, dbusErr)
	assert.Equal(t, "Invalid timeout value", out)

	out, _ = h.SetTimeout(45)
	assert.Equal(t, "Idle timeout set to 45s", out)
	assert.Equal(t, []int{45}, admin.timeouts)
}

func TestDisconnectByIndex(t *testing.T) {
	h, _, _ := newHandler()
	out, _ := h.DisconnectByIndex(1)
	assert.Equal(t, "Disconnected DualSense (Player 1)", out)
	out, _ = h.DisconnectByIndex(3)
	assert.Equal(t, "No controller found at index 3", out)
}

func TestSendStatusToast(t *testing.T) {
	h, _, n := newHandler()
	out, _ := h.SendStatusToast()
	assert.Equal(t, "ok", out)
	assert.Equal(t, "DualSense Status", n.summary)
	assert.Contains(t, n.body, "Player 1: DualSense (aa:bb:cc:dd:ee:01)")
}

func TestIntrospectionListsMethods(t *testing.T) {
	h, _, _ := newHandler()
	n := node(h)
	require.Len(t, n.Interfaces, 2)

	var names []string
	for _, m := range n.Interfaces[1].Methods {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"DisconnectByIndex", "GetStatus", "SendStatusToast", "SetTimeout"}, names)
}
