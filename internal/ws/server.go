package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/hangwatch/backend/internal/config"
	"github.com/hangwatch/backend/internal/session"
	"github.com/hangwatch/backend/internal/stats"
)

const (
	maxObserveBody  = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Observer accepts result batches pushed by event-source collaborators.
type Observer interface {
	Observe(ctx context.Context, batch []session.RawResult) error
}

// HealthFunc reports the current search health.
type HealthFunc func() SearchHealthPayload

type Server struct {
	store          *session.Store
	broadcaster    *Broadcaster
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	observer       Observer
	tracker        *stats.Tracker
	health         HealthFunc
	started        time.Time
	logger         *slog.Logger
}

func NewServer(cfg *config.Config, store *session.Store, broadcaster *Broadcaster, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:          store,
		broadcaster:    broadcaster,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
		started:        time.Now(),
		logger:         logger.With("component", "http"),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetObserver enables POST /api/observe. Must be called before SetupRoutes.
func (s *Server) SetObserver(o Observer) {
	s.observer = o
}

// SetStatsTracker configures the tracker used by /api/stats.
func (s *Server) SetStatsTracker(tracker *stats.Tracker) {
	s.tracker = tracker
}

// SetHealthSource configures the search health reported by /api/status.
func (s *Server) SetHealthSource(fn HealthFunc) {
	s.health = fn
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSession)
	mux.HandleFunc("/api/count", s.handleCount)
	mux.HandleFunc("/api/observe", s.handleObserve)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/status", s.handleStatus)
}

// Handler wraps mux with the security headers every response carries.
func (s *Server) Handler(mux *http.ServeMux) http.Handler {
	return securityHeaders(mux)
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

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		s.logger.Warn("ws client rejected", "remote", r.RemoteAddr, "error", err)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	clientID := uuid.NewString()
	s.logger.Info("ws client connected", "client", clientID, "remote", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.logger.Info("ws client disconnected", "client", clientID)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, s.broadcaster.FilterSessions(s.store.GetAll()))
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, struct {
		Count  int            `json:"count"`
		Signal session.Signal `json:"signal"`
	}{
		Count:  s.store.Count(),
		Signal: s.store.Signal(),
	})
}

// handleSession serves /api/sessions/{id}. Every id is a valid path segment.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/sessions/"))
	if err != nil || id == "" || strings.Contains(id, "/") {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	rec, ok := s.store.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	visible := s.broadcaster.FilterSessions([]*session.Record{rec})
	if len(visible) == 0 {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, visible[0])
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.observer == nil {
		http.Error(w, "observe not available", http.StatusServiceUnavailable)
		return
	}

	var batch []session.RawResult
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxObserveBody)).Decode(&batch); err != nil {
		http.Error(w, fmt.Sprintf("invalid batch: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.observer.Observe(r.Context(), batch); err != nil {
		http.Error(w, "observe failed", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if s.tracker == nil {
		http.Error(w, "stats not available", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, s.tracker.Stats())
}

// StatusPayload is the body of GET /api/status.
type StatusPayload struct {
	Search        *SearchHealthPayload `json:"search,omitempty"`
	Sessions      int                  `json:"sessions"`
	Clients       int                  `json:"clients"`
	UptimeSeconds float64              `json:"uptimeSeconds"`
	Process       *ProcessStats        `json:"process,omitempty"`
}

type ProcessStats struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	status := StatusPayload{
		Sessions:      s.store.Count(),
		Clients:       s.broadcaster.ClientCount(),
		UptimeSeconds: time.Since(s.started).Seconds(),
	}
	if s.health != nil {
		h := s.health()
		status.Search = &h
	}
	if ps, err := processStats(r.Context()); err != nil {
		s.logger.Debug("process stats unavailable", "error", err)
	} else {
		status.Process = ps
	}

	writeJSON(w, status)
}

func processStats(ctx context.Context) (*ProcessStats, error) {
	pid := int32(os.Getpid())
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, errors.Wrap(err, "opening own process")
	}
	cpu, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading cpu")
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading memory")
	}
	return &ProcessStats{PID: pid, CPUPercent: cpu, RSSBytes: mem.RSS}, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Hangwatch-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	for _, local := range []string{"localhost", "127.0.0.1", "[::1]"} {
		if host == local || strings.HasPrefix(host, local+":") {
			return true
		}
	}
	return host == "::1"
}

// ListenAndServe serves handler until ctx is done, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, host string, port int, handler http.Handler, logger *slog.Logger) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "listening on %s", addr)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return errors.Wrap(err, "shutting down server")
		}
		return nil
	}
}
