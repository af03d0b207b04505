package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/point10890-crypto/closing-bet-sub002/internal/application/pipeline"
	"github.com/point10890-crypto/closing-bet-sub002/internal/regime"
	"github.com/point10890-crypto/closing-bet-sub002/internal/risk"
)

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Timestamp   time.Time          `json:"timestamp"`
	Coordinator pipeline.Status    `json:"coordinator"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// GateResponse is the body of GET /status/gate
type GateResponse struct {
	Latest  *regime.Result      `json:"latest,omitempty"`
	Stable  bool                `json:"stable"`
	Counts  map[string]int      `json:"counts"`
	Changes []regime.GateChange `json:"changes"`
}

// RiskResponse is the body of GET /status/risk
type RiskResponse struct {
	Risk          risk.Status         `json:"risk"`
	OpenPositions []pipeline.Position `json:"open_positions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, r, http.StatusServiceUnavailable, "no_coordinator", "No coordinator is attached")
		return
	}

	resp := StatusResponse{
		Timestamp:   time.Now().UTC(),
		Coordinator: s.status.Status(),
	}
	if s.metrics != nil {
		resp.Metrics = s.metrics.Summary()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, r, http.StatusServiceUnavailable, "no_coordinator", "No coordinator is attached")
		return
	}

	st := s.status.Status()
	writeJSON(w, http.StatusOK, GateResponse{
		Latest:  st.Market,
		Stable:  st.MarketStable,
		Counts:  st.GateCounts,
		Changes: st.GateChanges,
	})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, r, http.StatusServiceUnavailable, "no_coordinator", "No coordinator is attached")
		return
	}

	st := s.status.Status()
	writeJSON(w, http.StatusOK, RiskResponse{Risk: st.Risk, OpenPositions: st.OpenPositions})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}
