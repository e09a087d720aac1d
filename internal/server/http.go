package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", s.hub)
	mux.HandleFunc("GET /pose", s.handlePose)
	mux.HandleFunc("GET /scene", s.handleScene)
	mux.HandleFunc("GET /diagnostics", s.handleDiagnostics)
	mux.HandleFunc("POST /reload", s.handleReload)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

type reloadResponse struct {
	Reloaded    bool   `json:"reloaded"`
	Fingerprint string `json:"fingerprint"`
}

// handlePose solves ?angle= (radians) on the probe solver. Without an angle
// it returns the last streamed frame.
func (s *Server) handlePose(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("angle")
	if raw == "" {
		s.writeJSON(w, http.StatusOK, s.engine.Latest())
		return
	}
	angle, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(angle) || math.IsInf(angle, 0) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: ErrInvalidAngle.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.PoseAt(angle))
}

func (s *Server) handleScene(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Scene())
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Diagnostics())
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	reloaded, err := s.Reload()
	if err != nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, reloadResponse{
		Reloaded:    reloaded,
		Fingerprint: s.engine.Scene().Fingerprint,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.running.Load() {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: ErrServerNotRunning.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("Failed to write response", log.Error(err))
	}
}
