package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vigil-sec/vigil/internal/classify"
	"github.com/vigil-sec/vigil/internal/core"
)

// Version is reported by /api/v1/status.
var Version = "dev"

// Analyzer produces classifier reports for on-demand checks.
type Analyzer interface {
	Report(path string) (classify.Report, error)
}

// Server is the local status API.
type Server struct {
	engine   *core.Engine
	analyzer Analyzer
	server   *http.Server
	logger   zerolog.Logger
}

// NewServer creates the API server. analyzer may be nil, which disables
// /api/v1/classify.
func NewServer(engine *core.Engine, analyzer Analyzer) *Server {
	s := &Server{
		engine:   engine,
		analyzer: analyzer,
		logger:   engine.RootLogger().With().Str("component", "api_server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/alerts", s.handleAlerts)
	mux.HandleFunc("/api/v1/classify", s.handleClassify)
	mux.Handle("/metrics", promhttp.HandlerFor(engine.Metrics.Registry, promhttp.HandlerOpts{}))

	// logging -> rate limit -> auth -> handler
	handler := loggingMiddleware(
		rateLimitMiddleware(
			authMiddleware(mux, engine.Config, s.logger),
			20,
		),
		s.logger,
	)

	s.server = &http.Server{
		Addr:         net.JoinHostPort(engine.Config.Server.Host, strconv.Itoa(engine.Config.Server.Port)),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the full middleware chain, for embedding and tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.server.Addr }

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", s.server.Addr, err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("API server starting")
	if s.engine.Config.AuthEnabled() {
		s.logger.Info().Int("keys", len(s.engine.Config.Server.APIKeys)).Msg("API authentication enabled")
	} else {
		s.logger.Warn().Msg("API authentication disabled, set server.api_keys or VIGIL_API_KEY")
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]interface{}{
		"version":        Version,
		"status":         "starting",
		"uptime_seconds": int64(s.engine.Uptime().Seconds()),
		"sources":        s.engine.Registry.Names(),
		"min_severity":   s.engine.Config.MinSeverityLevel().String(),
		"alert_method":   s.engine.Config.Alerts.AlertMethod,
		"bus_connected":  s.engine.Bus != nil && s.engine.Bus.Conn() != nil && s.engine.Bus.Conn().IsConnected(),
		"timestamp":      time.Now().UTC(),
	}
	if d := s.engine.Dispatcher; d != nil {
		status["status"] = "running"
		status["channels"] = d.ChannelNames()
		status["dispatcher"] = d.Stats()
		status["cooldown_entries"] = d.CooldownSize()
	}
	if s.engine.AlertLog != nil {
		status["alert_log"] = s.engine.AlertLog.Path()
		status["alert_log_lines"] = s.engine.AlertLog.LinesWritten()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d := s.engine.Dispatcher
	if d == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "engine not started"})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}

	records := d.History().Recent(limit)
	if sev := r.URL.Query().Get("min_severity"); sev != "" {
		floor, ok := core.ParseSeverity(sev)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown severity " + strconv.Quote(sev)})
			return
		}
		kept := records[:0]
		for _, rec := range records {
			if rec.Severity.AtLeast(floor) {
				kept = append(kept, rec)
			}
		}
		records = kept
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": records,
		"total":  len(records),
	})
}

type classifyRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.analyzer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "classifier not available"})
		return
	}

	var req classifyRequest
	// Limit body size to 64KB; the request only carries a path.
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "path is required"})
		return
	}

	report, err := s.analyzer.Report(req.Path)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func authMiddleware(next http.Handler, cfg *core.Config, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || !cfg.AuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "missing authentication: provide Authorization: Bearer <key> or X-API-Key header",
			})
			return
		}
		if !cfg.ValidateAPIKey(key) {
			logger.Warn().Str("path", r.URL.Path).Str("ip", r.RemoteAddr).Msg("invalid API key")
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	rps      int
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if len(l.limiters) > 1024 {
		cutoff := now.Add(-10 * time.Minute)
		for k, seen := range l.lastSeen {
			if seen.Before(cutoff) {
				delete(l.limiters, k)
				delete(l.lastSeen, k)
			}
		}
	}
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.rps*2)
		l.limiters[ip] = lim
	}
	l.lastSeen[ip] = now
	return lim
}

// rateLimitMiddleware applies a per-IP token bucket with a burst of twice
// the rate.
func rateLimitMiddleware(next http.Handler, requestsPerSecond int) http.Handler {
	limiter := &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rps:      requestsPerSecond,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !limiter.get(ip).Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded, try again shortly",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
