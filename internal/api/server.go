// Package api exposes the read and command surface over HTTP JSON.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"sol-beast/internal/detection"
	"sol-beast/internal/domain"
	"sol-beast/internal/engine"
	"sol-beast/internal/observability"
	"sol-beast/internal/state"
)

const maxBodyBytes = 1 << 20

// Server serves the consumer API for one engine.
type Server struct {
	engine *engine.Engine
	store  *state.Store
	logger *log.Logger
}

// NewServer creates an API server.
func NewServer(e *engine.Engine, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{engine: e, store: e.Store(), logger: logger}
}

// Handler returns the routed handler, including /health and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handleUpdateSettings)
	mux.HandleFunc("GET /api/detections", s.handleDetections)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/mode", s.handleMode)
	return mux
}

// StateResponse is the JSON body of GET /api/state.
type StateResponse struct {
	Mode          domain.Mode               `json:"mode"`
	Running       bool                      `json:"running"`
	Status        string                    `json:"status"`
	Subscriptions map[string]string         `json:"subscriptions"`
	Metrics       detection.MetricsSnapshot `json:"metrics"`
}

// CommandResponse reports the outcome of a command.
type CommandResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	run := s.store.RunState()
	writeJSON(w, http.StatusOK, StateResponse{
		Mode:          run.Mode,
		Running:       run.Running,
		Status:        run.Status(),
		Subscriptions: s.engine.States(),
		Metrics:       s.engine.Metrics(),
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Settings())
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	tokens := s.store.Detections()
	if tokens == nil {
		tokens = []domain.DetectedToken{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries := s.store.Logs()
	if entries == nil {
		entries = []domain.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	// fields absent from the body keep their current values
	next := s.store.Settings()
	if err := decodeBody(r, &next); err != nil {
		s.command(w, err)
		return
	}
	s.command(w, s.store.UpdateSettings(next))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.engine.Start(r.Context()))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.engine.Stop())
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeBody(r, &req); err != nil {
		s.command(w, err)
		return
	}
	s.command(w, s.store.SetMode(req.Mode))
}

// command writes a CommandResponse with a status derived from err.
func (s *Server) command(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, CommandResponse{OK: true})
		return
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("[api] command failed: %v", err)
	}
	writeJSON(w, status, CommandResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrAlreadyRunning), errors.Is(err, state.ErrNotRunning), errors.Is(err, state.ErrModeLocked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON body; malformed input is a ValidationError.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
