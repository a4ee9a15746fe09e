// Package server exposes guard status, recent executor attempts and
// Prometheus metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/rebootguard/internal/attach"
	"github.com/HerbHall/rebootguard/internal/executor"
	"github.com/HerbHall/rebootguard/internal/host"
	"github.com/HerbHall/rebootguard/internal/version"
)

// GuardSource reports the installed guards.
type GuardSource interface {
	Installed() map[string]attach.Point
}

// Requester injects reboot requests into a simulated host.
type Requester interface {
	Reboot(reason *string, confirm bool) error
	Shutdown(reason *string, confirm bool) error
	UIReboot(reason *string, confirm bool) error
	LowLevel() []host.LowLevelCall
}

// Server is the rebootguard status server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *zap.Logger
	guards     GuardSource
	attempts   *AttemptLog
	requester  Requester
	limiter    *rate.Limiter
}

// Option configures a Server.
type Option func(*Server)

// WithRequestLimit bounds how often requests may be injected. Every
// suppressed request starts the privileged action, so injection is
// limited to one per second with a burst of 3 by default.
func WithRequestLimit(r rate.Limit, burst int) Option {
	return func(s *Server) { s.limiter = rate.NewLimiter(r, burst) }
}

// New creates a Server. requester may be nil, which disables request
// injection.
func New(addr string, guards GuardSource, attempts *AttemptLog, gatherer prometheus.Gatherer, requester Requester, logger *zap.Logger, opts ...Option) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		mux:       mux,
		logger:    logger.Named("server"),
		guards:    guards,
		attempts:  attempts,
		requester: requester,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 3),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/guards", s.handleGuards)
	s.mux.HandleFunc("GET /api/v1/attempts", s.handleAttempts)
	s.mux.HandleFunc("GET /api/v1/attempts/{id}", s.handleAttempt)
	s.mux.HandleFunc("POST /api/v1/requests", s.handleRequest)
	if gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Rebootguard-Version", version.Short())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	installed := s.guards.Installed()
	status := "ok"
	if len(installed) == 0 {
		// Nothing is broken, but nothing is intercepted either.
		status = "pass_through"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"service": "rebootguard",
		"guards":  len(installed),
		"version": version.Map(),
	})
}

type guardResponse struct {
	Chain     string   `json:"chain"`
	Location  string   `json:"location"`
	Priority  int      `json:"priority"`
	Signature []string `json:"signature"`
}

func (s *Server) handleGuards(w http.ResponseWriter, r *http.Request) {
	installed := s.guards.Installed()
	out := make([]guardResponse, 0, len(installed))
	for chain, p := range installed {
		out = append(out, guardResponse{
			Chain:     chain,
			Location:  p.Location,
			Priority:  p.Priority,
			Signature: p.Signature,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Chain < out[b].Chain })
	writeJSON(w, http.StatusOK, out)
}

type attemptResponse struct {
	ID          string    `json:"id"`
	Tag         string    `json:"tag"`
	Command     []string  `json:"command"`
	Pid         int       `json:"pid,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	Polls       int       `json:"polls"`
	ExitStatus  *int      `json:"exit_status,omitempty"`
	TimedOut    bool      `json:"timed_out"`
	OutputLines int       `json:"output_lines"`
	State       string    `json:"state"`
	Error       string    `json:"error,omitempty"`
}

func toAttemptResponse(a executor.Attempt) attemptResponse {
	resp := attemptResponse{
		ID:          a.ID,
		Tag:         a.Tag,
		Command:     a.Command,
		Pid:         a.Pid,
		StartedAt:   a.StartedAt,
		Polls:       len(a.PollTimes),
		ExitStatus:  a.ExitStatus,
		TimedOut:    a.TimedOut,
		OutputLines: a.OutputLines,
		State:       string(a.State),
	}
	if a.Err != nil {
		resp.Error = a.Err.Error()
	}
	return resp
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	list := s.attempts.List()
	out := make([]attemptResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAttemptResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAttempt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, ok := s.attempts.Get(id)
	if !ok {
		NotFound(w, fmt.Sprintf("attempt %s not found", id), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, toAttemptResponse(a))
}

// injectRequest is the body of POST /api/v1/requests.
type injectRequest struct {
	Entry   string  `json:"entry"` // reboot, shutdown, ui-reboot
	Reason  *string `json:"reason"`
	Confirm bool    `json:"confirm"`
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if s.requester == nil {
		NoHost(w, r.URL.Path)
		return
	}
	if !s.limiter.Allow() {
		RateLimited(w, "request injection rate exceeded", r.URL.Path)
		return
	}

	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body: "+err.Error(), r.URL.Path)
		return
	}

	var call func(*string, bool) error
	switch req.Entry {
	case "reboot", "":
		call = s.requester.Reboot
	case "shutdown":
		call = s.requester.Shutdown
	case "ui-reboot":
		call = s.requester.UIReboot
	default:
		BadRequest(w, fmt.Sprintf("unknown entry %q", req.Entry), r.URL.Path)
		return
	}

	before := len(s.requester.LowLevel())
	if err := call(req.Reason, req.Confirm); err != nil {
		s.logger.Error("injected request failed", zap.String("entry", req.Entry), zap.Error(err))
		InternalError(w, err.Error(), r.URL.Path)
		return
	}
	reached := len(s.requester.LowLevel()) > before

	writeJSON(w, http.StatusOK, map[string]any{
		"entry":          req.Entry,
		"reached_kernel": reached,
		"suppressed":     !reached,
	})
}
