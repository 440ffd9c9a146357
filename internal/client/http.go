// Package client talks to a running daemon over its status socket: plain
// HTTP for queries and admin actions, a websocket for live updates.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/padwatch/padwatch/internal/monitor"
	"github.com/padwatch/padwatch/internal/session"
	"github.com/padwatch/padwatch/internal/status"
	"github.com/padwatch/padwatch/internal/ws"
)

// socketHost is the placeholder host used in URLs; the transport always
// dials the unix socket.
const socketHost = "padwatch"

// ActionError is a failed admin action. Message is the daemon's reply text.
type ActionError struct {
	Code    int
	Message string
}

func (e *ActionError) Error() string {
	return e.Message
}

// IsUnavailable reports whether err means no daemon is listening.
func IsUnavailable(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED)
}

func dialSocket(path string) func(ctx context.Context, _, _ string) (net.Conn, error) {
	return func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", path)
	}
}

// HTTPClient makes REST calls to the daemon.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the daemon listening on socketPath.
func NewHTTPClient(socketPath string) *HTTPClient {
	return &HTTPClient{
		baseURL: "http://" + socketHost,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: &http.Transport{DialContext: dialSocket(socketPath)},
		},
	}
}

// Status fetches /api/status.
func (c *HTTPClient) Status(ctx context.Context) (status.Snapshot, error) {
	var s status.Snapshot
	if err := c.get(ctx, "/api/status", &s); err != nil {
		return nil, err
	}
	return s, nil
}

// Sessions fetches /api/sessions.
func (c *HTTPClient) Sessions(ctx context.Context) ([]*session.Session, error) {
	var out []*session.Session
	if err := c.get(ctx, "/api/sessions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health fetches /api/health.
func (c *HTTPClient) Health(ctx context.Context) (*monitor.Health, error) {
	var h monitor.Health
	if err := c.get(ctx, "/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// SetTimeout sends POST /api/timeout and returns the daemon's reply text.
func (c *HTTPClient) SetTimeout(ctx context.Context, seconds int) (string, error) {
	return c.action(ctx, "/api/timeout", ws.TimeoutRequest{Seconds: seconds})
}

// Disconnect sends POST /api/players/{slot}/disconnect.
func (c *HTTPClient) Disconnect(ctx context.Context, slot int) (string, error) {
	return c.action(ctx, "/api/players/"+strconv.Itoa(slot)+"/disconnect", nil)
}

func (c *HTTPClient) action(ctx context.Context, path string, body interface{}) (string, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return "", err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ws.ActionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("POST %s: %d: %w", path, resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || !out.OK {
		return out.Message, &ActionError{Code: resp.StatusCode, Message: out.Message}
	}
	return out.Message, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
