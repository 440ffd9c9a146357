package battery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockQuerier struct {
	mock.Mock
}

func (m *mockQuerier) Query(ctx context.Context, mac string) (Info, error) {
	args := m.Called(ctx, mac)
	return args.Get(0).(Info), args.Error(1)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(q Querier, ttl time.Duration) (*Cache, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	c := NewCache(q, ttl)
	c.now = clk.Now
	return c, clk
}

func TestCacheHitWithinTTL(t *testing.T) {
	q := &mockQuerier{}
	q.On("Query", mock.Anything, "a0:ab:51:00:00:01").Return(Info{Percentage: "80%", Charging: false}, nil).Once()

	c, clk := newTestCache(q, 10*time.Second)
	ctx := context.Background()

	first := c.Get(ctx, "A0:AB:51:00:00:01")
	clk.Advance(9 * time.Second)
	second := c.Get(ctx, "a0:ab:51:00:00:01")

	assert.Equal(t, Info{Percentage: "80%"}, first)
	assert.Equal(t, first, second)
	q.AssertNumberOfCalls(t, "Query", 1)
}

func TestCacheRefreshesAfterTTL(t *testing.T) {
	q := &mockQuerier{}
	q.On("Query", mock.Anything, "a0:ab:51:00:00:01").Return(Info{Percentage: "80%"}, nil).Once()
	q.On("Query", mock.Anything, "a0:ab:51:00:00:01").Return(Info{Percentage: "75%", Charging: true}, nil).Once()

	c, clk := newTestCache(q, 10*time.Second)
	ctx := context.Background()

	require.Equal(t, "80%", c.Get(ctx, "a0:ab:51:00:00:01").Percentage)
	clk.Advance(10 * time.Second)
	got := c.Get(ctx, "a0:ab:51:00:00:01")

	assert.Equal(t, Info{Percentage: "75%", Charging: true}, got)
	q.AssertNumberOfCalls(t, "Query", 2)
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	q := &mockQuerier{}
	q.On("Query", mock.Anything, "a0:ab:51:00:00:02").Return(Info{}, errors.New("upower not running")).Once()
	q.On("Query", mock.Anything, "a0:ab:51:00:00:02").Return(Info{Percentage: "40%"}, nil).Once()

	c, clk := newTestCache(q, 10*time.Second)
	ctx := context.Background()

	assert.Equal(t, Info{Percentage: Unknown, Charging: false}, c.Get(ctx, "a0:ab:51:00:00:02"))

	clk.Advance(time.Millisecond)
	assert.Equal(t, Info{Percentage: "40%"}, c.Get(ctx, "a0:ab:51:00:00:02"))
	q.AssertNumberOfCalls(t, "Query", 2)
}

func TestCacheNotFoundIsUnknown(t *testing.T) {
	q := &mockQuerier{}
	q.On("Query", mock.Anything, "a0:ab:51:00:00:03").Return(Info{}, ErrNotFound)

	c, _ := newTestCache(q, 0)
	assert.Equal(t, UnknownInfo, c.Get(context.Background(), "a0:ab:51:00:00:03"))
	assert.Equal(t, UnknownInfo, c.Get(context.Background(), "a0:ab:51:00:00:03"))
	q.AssertNumberOfCalls(t, "Query", 2)
}

func TestCacheEmptyAddress(t *testing.T) {
	q := &mockQuerier{}
	c, _ := newTestCache(q, 0)
	assert.Equal(t, UnknownInfo, c.Get(context.Background(), "  "))
	q.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
}

// blockingQuerier counts calls and holds each one until release is closed.
type blockingQuerier struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (b *blockingQuerier) Query(ctx context.Context, mac string) (Info, error) {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()
	if first {
		close(b.started)
	}
	<-b.release
	return Info{Percentage: "55%"}, nil
}

func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	bq := &blockingQuerier{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCache(bq, time.Minute)

	var wg sync.WaitGroup
	results := make([]Info, 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = c.Get(context.Background(), "a0:ab:51:00:00:05")
	}()
	<-bq.started
	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Get(context.Background(), "a0:ab:51:00:00:05")
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(bq.release)
	wg.Wait()

	for i, r := range results {
		assert.Equal(t, "55%", r.Percentage, "result %d", i)
	}
	bq.mu.Lock()
	defer bq.mu.Unlock()
	assert.LessOrEqual(t, bq.calls, 2)
}

// ctxQuerier blocks until release, or fails when its context ends first.
type ctxQuerier struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (q *ctxQuerier) Query(ctx context.Context, mac string) (Info, error) {
	q.once.Do(func() { close(q.started) })
	select {
	case <-ctx.Done():
		return Info{}, ctx.Err()
	case <-q.release:
		return Info{Percentage: "55%"}, nil
	}
}

func TestCancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	q := &ctxQuerier{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCache(q, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan Info, 1)
	go func() { first <- c.Get(ctx, "a0:ab:51:00:00:06") }()
	<-q.started

	second := make(chan Info, 1)
	go func() { second <- c.Get(context.Background(), "a0:ab:51:00:00:06") }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case got := <-first:
		assert.Equal(t, UnknownInfo, got)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(q.release)
	select {
	case got := <-second:
		assert.Equal(t, "55%", got.Percentage)
	case <-time.After(time.Second):
		t.Fatal("second caller never got the shared result")
	}
	assert.Equal(t, "55%", c.Get(context.Background(), "a0:ab:51:00:00:06").Percentage)
}

func TestInfoFromProps(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]dbus.Variant
		want  Info
	}{
		{
			name: "discharging",
			props: map[string]dbus.Variant{
				"Percentage": dbus.MakeVariant(72.0),
				"State":      dbus.MakeVariant(uint32(2)),
			},
			want: Info{Percentage: "72%"},
		},
		{
			name: "charging",
			props: map[string]dbus.Variant{
				"Percentage": dbus.MakeVariant(49.6),
				"State":      dbus.MakeVariant(uint32(1)),
			},
			want: Info{Percentage: "50%", Charging: true},
		},
		{
			name: "fully charged counts as charging",
			props: map[string]dbus.Variant{
				"Percentage": dbus.MakeVariant(100.0),
				"State":      dbus.MakeVariant(uint32(4)),
			},
			want: Info{Percentage: "100%", Charging: true},
		},
		{
			name:  "missing properties",
			props: map[string]dbus.Variant{},
			want:  Info{Percentage: Unknown},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, infoFromProps(tt.props))
		})
	}
}
