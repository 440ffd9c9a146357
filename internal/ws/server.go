package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/padwatch/padwatch/internal/control"
	"github.com/padwatch/padwatch/internal/monitor"
	"github.com/padwatch/padwatch/internal/session"
	"github.com/padwatch/padwatch/internal/status"
)

// Admin performs the write actions behind the POST endpoints.
type Admin interface {
	SetTimeout(seconds int) error
	Disconnect(ctx context.Context, slot int) (*session.Session, error)
}

// Server is the HTTP and websocket API on the status socket.
type Server struct {
	socketPath  string
	status      SnapshotSource
	sessions    status.SessionSource
	admin       Admin
	health      func() monitor.Health
	broadcaster *Broadcaster
}

func NewServer(socketPath string, source SnapshotSource, sessions status.SessionSource, admin Admin, health func() monitor.Health, broadcaster *Broadcaster) *Server {
	return &Server{
		socketPath:  socketPath,
		status:      source,
		sessions:    sessions,
		admin:       admin,
		health:      health,
		broadcaster: broadcaster,
	}
}

func (s *Server) Name() string { return "status-server" }

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/timeout", s.handleTimeout)
	mux.HandleFunc("POST /api/players/{slot}/disconnect", s.handleDisconnect)
}

// Handler returns the routed API with security headers applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

// Serve listens on the unix socket until ctx is cancelled. The socket file
// is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := Listen(s.socketPath)
	if err != nil {
		return err
	}
	defer os.Remove(s.socketPath)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info("status server listening", zap.String("socket", s.socketPath))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("status server shutdown", zap.Error(err))
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Listen opens the unix socket at path, replacing a stale socket file left
// by a crashed daemon. It refuses to steal a socket that still answers.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		if conn, err := net.DialTimeout("unix", path, 500*time.Millisecond); err == nil {
			conn.Close()
			return nil, fmt.Errorf("socket %s is in use by another process", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, err
	}
	return &ownerListener{Listener: ln, uid: uint32(os.Getuid())}, nil
}

var errNoPeerCred = errors.New("peer credentials not supported on this platform")

// ownerListener drops connections from other users.
type ownerListener struct {
	net.Listener
	uid uint32
}

func (l *ownerListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		uid, err := peerUID(conn)
		if err != nil {
			if errors.Is(err, errNoPeerCred) {
				return conn, nil
			}
			log.Warn("rejecting connection without peer credentials", zap.Error(err))
			conn.Close()
			continue
		}
		if uid != l.uid && uid != 0 {
			log.Warn("rejecting connection from another user", zap.Uint32("uid", uid))
			conn.Close()
			continue
		}
		return conn, nil
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("ws upgrade error", zap.Error(err))
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}
	log.Debug("websocket client connected")

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Debug("websocket client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Collect(r.Context()))
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		http.Error(w, "health not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.health())
}

func (s *Server) handleTimeout(w http.ResponseWriter, r *http.Request) {
	var req TimeoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ActionResponse{Message: "invalid request body"})
		return
	}
	err := s.admin.SetTimeout(req.Seconds)
	writeJSON(w, statusFor(err), ActionResponse{
		OK:      err == nil,
		Message: control.TimeoutReply(req.Seconds, err),
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil || slot < 1 {
		writeJSON(w, http.StatusBadRequest, ActionResponse{Message: "invalid player slot"})
		return
	}
	sess, err := s.admin.Disconnect(r.Context(), slot)
	writeJSON(w, statusFor(err), ActionResponse{
		OK:      err == nil,
		Message: control.DisconnectReply(slot, sess, err),
	})
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, control.ErrInvalidTimeout):
		return http.StatusBadRequest
	case errors.Is(err, control.ErrNoSuchPlayer):
		return http.StatusNotFound
	case errors.Is(err, control.ErrNoHardwareID):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("write response", zap.Error(err))
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// checkOrigin accepts non-browser clients and pages served from the same
// host or localhost.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Hostname()
	if parsed.Host == r.Host {
		return true
	}
	return host == "localhost" || host == "127.0.0.1" || host == "::1" || strings.HasSuffix(host, ".localhost")
}
