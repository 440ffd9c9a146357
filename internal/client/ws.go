package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/padwatch/padwatch/internal/logging"
	"github.com/padwatch/padwatch/internal/monitor"
	"github.com/padwatch/padwatch/internal/ws"
)

var log = logging.L("client")

var errNotConnected = errors.New("not connected to padwatch")

const (
	retryMin     = time.Second
	retryMax     = 30 * time.Second
	pingEvery    = 30 * time.Second
	readIdle     = 2 * pingEvery
	pingDeadline = 10 * time.Second
)

// envelope is ws.WSMessage with the payload left undecoded.
type envelope struct {
	Type    ws.MessageType  `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// Bubble Tea messages produced by WSClient.
type (
	WSConnectedMsg    struct{}
	WSDisconnectedMsg struct{ Err error }
	WSSnapshotMsg     struct{ Payload ws.SnapshotPayload }
	WSDeltaMsg        struct{ Payload ws.DeltaPayload }
	WSHealthMsg       struct{ Payload monitor.Health }
)

// link is one live connection and its keepalive.
type link struct {
	conn *websocket.Conn
	stop context.CancelFunc
}

func (l *link) close() {
	l.stop()
	l.conn.Close()
}

// keepalive pings until ctx ends or a ping cannot be written. Pongs push
// the read deadline forward.
func (l *link) keepalive(ctx context.Context) {
	l.conn.SetReadDeadline(time.Now().Add(readIdle))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(readIdle))
	})

	t := time.NewTicker(pingEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			// WriteControl is safe alongside the reader goroutine.
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingDeadline)); err != nil {
				log.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// WSClient follows the daemon's status stream.
type WSClient struct {
	dialer *websocket.Dialer
	url    string

	mu   sync.Mutex
	cur  *link
	seq  uint64
	gaps int
}

func NewWSClient(socketPath string) *WSClient {
	return &WSClient{
		dialer: &websocket.Dialer{
			NetDialContext:   dialSocket(socketPath),
			HandshakeTimeout: 5 * time.Second,
		},
		url: "ws://" + socketHost + "/ws",
	}
}

// Listen returns a command that dials until a connection is up or ctx
// ends. Failed dials back off exponentially.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		for wait := retryMin; ; wait = min(2*wait, retryMax) {
			conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
			if err == nil {
				c.attach(ctx, conn)
				return WSConnectedMsg{}
			}
			log.Debug("dial failed", zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}
	}
}

func (c *WSClient) attach(ctx context.Context, conn *websocket.Conn) {
	kctx, stop := context.WithCancel(ctx)
	l := &link{conn: conn, stop: stop}

	c.mu.Lock()
	if c.cur != nil {
		c.cur.close()
	}
	c.cur = l
	c.seq = 0
	c.mu.Unlock()

	go l.keepalive(kctx)
}

func (c *WSClient) current() *link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// ReadLoop returns a command yielding the next message the model cares
// about. The model re-issues it after every message.
func (c *WSClient) ReadLoop() tea.Cmd {
	return func() tea.Msg {
		l := c.current()
		if l == nil {
			return WSDisconnectedMsg{Err: errNotConnected}
		}
		for {
			env, err := readEnvelope(l.conn)
			if err != nil {
				c.detach(l)
				return WSDisconnectedMsg{Err: err}
			}
			c.observe(env.Seq)
			if msg := decode(env); msg != nil {
				return msg
			}
		}
	}
}

func (c *WSClient) detach(l *link) {
	c.mu.Lock()
	if c.cur == l {
		c.cur = nil
	}
	c.mu.Unlock()
	l.close()
}

// observe records seq and counts jumps. The daemon drops slow clients
// rather than skipping messages, so a gap means messages were lost.
func (c *WSClient) observe(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq != 0 && seq != c.seq+1 {
		c.gaps++
		log.Debug("sequence gap", zap.Uint64("after", c.seq), zap.Uint64("got", seq))
	}
	c.seq = seq
}

func readEnvelope(conn *websocket.Conn) (envelope, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return envelope{}, err
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Debug("skipping malformed message", zap.Error(err))
			continue
		}
		return env, nil
	}
}

// Close drops the current connection, if any.
func (c *WSClient) Close() {
	c.mu.Lock()
	l := c.cur
	c.cur = nil
	c.mu.Unlock()
	if l != nil {
		l.close()
	}
}

// Seq is the sequence number of the last message read.
func (c *WSClient) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Gaps counts sequence jumps seen since the client was created.
func (c *WSClient) Gaps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gaps
}

func decode(env envelope) tea.Msg {
	var (
		msg tea.Msg
		err error
	)
	switch env.Type {
	case ws.MsgSnapshot:
		var p ws.SnapshotPayload
		err = json.Unmarshal(env.Payload, &p)
		msg = WSSnapshotMsg{Payload: p}
	case ws.MsgDelta:
		var p ws.DeltaPayload
		err = json.Unmarshal(env.Payload, &p)
		msg = WSDeltaMsg{Payload: p}
	case ws.MsgHealth:
		var p monitor.Health
		err = json.Unmarshal(env.Payload, &p)
		msg = WSHealthMsg{Payload: p}
	default:
		return nil
	}
	if err != nil {
		log.Debug("bad payload", zap.String("type", string(env.Type)), zap.Error(err))
		return nil
	}
	return msg
}
