package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/padwatch/padwatch/internal/config"
	"github.com/padwatch/padwatch/internal/logging"
	"github.com/padwatch/padwatch/internal/monitor"
	"github.com/padwatch/padwatch/internal/session"
	"github.com/padwatch/padwatch/internal/status"
)

// ErrTooManyConnections is returned by AddClient when the connection limit
// is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

const (
	writeWait      = 5 * time.Second
	collectTimeout = 5 * time.Second
)

var log = logging.L("ws")

// SnapshotSource produces the current status view.
type SnapshotSource interface {
	Collect(ctx context.Context) status.Snapshot
}

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster pushes status to websocket clients: a full snapshot on
// connect and periodically, plus a throttled delta after reconciliation
// passes that changed the table. It implements monitor.Observer.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int

	source         SnapshotSource
	config         *config.Store
	throttle       time.Duration
	snapshotTicker *time.Ticker
	stop           chan struct{}
	stopOnce       sync.Once

	flushMu    sync.Mutex
	pending    DeltaPayload
	flushTimer *time.Timer

	seq atomic.Uint64
}

// NewBroadcaster starts the snapshot loop. maxConns <= 0 means unlimited.
func NewBroadcaster(source SnapshotSource, cfg *config.Store, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	b := &Broadcaster{
		clients:        make(map[*client]bool),
		maxConns:       maxConns,
		source:         source,
		config:         cfg,
		throttle:       throttle,
		snapshotTicker: time.NewTicker(snapshotInterval),
		stop:           make(chan struct{}),
	}
	go b.snapshotLoop()
	return b
}

// Stop ends the snapshot loop and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.snapshotTicker.Stop()
		b.flushMu.Lock()
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}
		b.flushMu.Unlock()

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			close(c.send)
		}
		b.mu.Unlock()
	})
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()

	// The greeting reuses the current seq so other clients see no gap.
	if data, err := b.encodeAt(b.snapshotMessage(), b.seq.Load()); err == nil {
		b.mu.RLock()
		if b.clients[c] {
			select {
			case c.send <- data:
			default:
				// Client too slow, drop the snapshot
			}
		}
		b.mu.RUnlock()
	}
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// TableChanged queues the events of one reconciliation pass.
func (b *Broadcaster) TableChanged(events []session.Event) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	for _, ev := range events {
		switch ev.Type {
		case session.EventAdded:
			b.pending.Added = append(b.pending.Added, ev.Session)
		case session.EventRemoved:
			b.pending.Removed = append(b.pending.Removed, ev.Session.Path)
		case session.EventRenumbered:
			b.pending.Renumbered = append(b.pending.Renumbered, ev.Session)
		}
	}

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// HealthChanged pushes a health transition immediately.
func (b *Broadcaster) HealthChanged(h monitor.Health) {
	b.broadcast(WSMessage{Type: MsgHealth, Payload: HealthPayload(h)})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	delta := b.pending
	b.pending = DeltaPayload{}
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(delta.Added) == 0 && len(delta.Removed) == 0 && len(delta.Renumbered) == 0 {
		return
	}
	b.broadcast(WSMessage{Type: MsgDelta, Payload: delta})
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.stop:
			return
		case <-b.snapshotTicker.C:
			if b.ClientCount() == 0 {
				continue
			}
			b.broadcast(b.snapshotMessage())
		}
	}
}

func (b *Broadcaster) snapshotMessage() WSMessage {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()
	return WSMessage{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Controllers: b.source.Collect(ctx).Sorted(),
			IdleTimeout: b.config.Current().Monitor.IdleTimeout,
		},
	}
}

func (b *Broadcaster) encode(msg WSMessage) ([]byte, error) {
	return b.encodeAt(msg, b.seq.Add(1))
}

func (b *Broadcaster) encodeAt(msg WSMessage, seq uint64) ([]byte, error) {
	msg.Seq = seq
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error("broadcast marshal error", zap.Error(err))
	}
	return data, err
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := b.encode(msg)
	if err != nil {
		return
	}

	// Sends happen under the read lock so RemoveClient cannot close a
	// channel mid-send.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		// Client can't keep up, disconnect it
		log.Warn("ws client too slow, disconnecting")
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
