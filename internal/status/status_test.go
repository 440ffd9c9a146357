package status

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padwatch/padwatch/internal/battery"
	"github.com/padwatch/padwatch/internal/config"
	"github.com/padwatch/padwatch/internal/session"
)

type staticSessions []*session.Session

func (s staticSessions) Snapshot() []*session.Session { return s }

type fakeBattery struct {
	info  map[string]battery.Info
	calls []string
}

func (f *fakeBattery) Get(_ context.Context, mac string) battery.Info {
	f.calls = append(f.calls, mac)
	if info, ok := f.info[mac]; ok {
		return info
	}
	return battery.UnknownInfo
}

func TestIdleRemainingClamped(t *testing.T) {
	timeout := 60 * time.Second
	tests := []struct {
		idle time.Duration
		want int
	}{
		{0, 60},
		{10 * time.Second, 50},
		{59500 * time.Millisecond, 0},
		{61 * time.Second, 0},
		{time.Hour, 0},
		{-5 * time.Second, 60},
	}
	for _, tt := range tests {
		got := IdleRemaining(timeout, tt.idle)
		assert.Equal(t, tt.want, got, "idle=%s", tt.idle)
		assert.GreaterOrEqual(t, got, 0)
		assert.LessOrEqual(t, got, 60)
	}
}

func TestCollect(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions := staticSessions{
		{Path: "/dev/input/event5", DisplayName: "DualSense Wireless Controller", HardwareID: "aa:bb:cc:dd:ee:01", PlayerSlot: 1, State: session.Active, LastInputAt: now.Add(-15 * time.Second)},
		{Path: "/dev/input/event9", DisplayName: "Wireless Controller", PlayerSlot: 2, State: session.IdleCheck, LastInputAt: now.Add(-2 * time.Minute)},
	}
	bat := &fakeBattery{info: map[string]battery.Info{
		"aa:bb:cc:dd:ee:01": {Percentage: "80%", Charging: true},
	}}
	agg := NewAggregator(sessions, bat, config.NewStaticStore(config.Default()))
	agg.now = func() time.Time { return now }

	snap := agg.Collect(context.Background())
	require.Len(t, snap, 2)

	first := snap["/dev/input/event5"]
	assert.Equal(t, "aa:bb:cc:dd:ee:01", first.HardwareID)
	assert.Equal(t, 1, first.Player)
	assert.Equal(t, "80%", first.Battery)
	assert.True(t, first.Charging)
	assert.Equal(t, 45, first.IdleRemaining)

	second := snap["/dev/input/event9"]
	assert.Equal(t, battery.Unknown, second.Battery)
	assert.False(t, second.Charging)
	assert.Equal(t, 0, second.IdleRemaining)
	assert.Equal(t, session.IdleCheck, second.State)

	// Sessions without an address are never looked up.
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:01"}, bat.calls)
}

func TestCollectFollowsTimeoutChanges(t *testing.T) {
	now := time.Now()
	sessions := staticSessions{
		{Path: "/dev/input/event5", HardwareID: "aa:bb:cc:dd:ee:01", PlayerSlot: 1, LastInputAt: now.Add(-10 * time.Second)},
	}
	store := config.NewStaticStore(config.Default())
	agg := NewAggregator(sessions, &fakeBattery{}, store)
	agg.now = func() time.Time { return now }

	require.NoError(t, store.SetIdleTimeout(300))
	assert.Equal(t, 290, agg.Collect(context.Background())["/dev/input/event5"].IdleRemaining)
}

func TestSnapshotJSONKeys(t *testing.T) {
	snap := Snapshot{"/dev/input/event5": {
		Path: "/dev/input/event5", HardwareID: "aa:bb:cc:dd:ee:01", Name: "DualSense",
		Player: 1, Battery: "55%", IdleRemaining: 12, State: session.Active,
	}}
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	entry := decoded["/dev/input/event5"]
	for _, key := range []string{"mac", "name", "player", "battery", "charging", "idle_remaining"} {
		assert.Contains(t, entry, key)
	}
	assert.Equal(t, "active", entry["state"])
}

func TestSortedByPlayer(t *testing.T) {
	snap := Snapshot{
		"/dev/input/event9": {Path: "/dev/input/event9", Player: 2},
		"/dev/input/event3": {Path: "/dev/input/event3", Player: 1},
	}
	sorted := snap.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, 1, sorted[0].Player)
	assert.Equal(t, 2, sorted[1].Player)
}

func TestToast(t *testing.T) {
	assert.Equal(t, "No controllers connected.", Toast(nil))

	body := Toast(Snapshot{
		"/dev/input/event9": {Path: "/dev/input/event9", Name: "Wireless Controller", Player: 2, Battery: battery.Unknown, IdleRemaining: 30},
		"/dev/input/event3": {Path: "/dev/input/event3", Name: "DualSense", HardwareID: "aa:bb:cc:dd:ee:01", Player: 1, Battery: "90%", Charging: true},
	})
	lines := strings.Split(body, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Player 1: DualSense (aa:bb:cc:dd:ee:01) | Battery 90% | Charging", lines[0])
	assert.Equal(t, "Player 2: Wireless Controller | Battery Unknown | Idle in 30s", lines[1])
}
