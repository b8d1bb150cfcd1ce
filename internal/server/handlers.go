package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raaihank/report-sentinel/internal/feedback"
	"github.com/raaihank/report-sentinel/internal/privacy"
	"go.uber.org/zap"
)

var errEmptyBody = errors.New("request body is empty")

type detectRequest struct {
	Text    string `json:"text"`
	Backend string `json:"backend,omitempty"`
}

type redactOneRequest struct {
	Text      string            `json:"text"`
	Detection privacy.Detection `json:"detection"`
}

type redactOneResponse struct {
	Text string `json:"text"`
}

type feedbackRequest struct {
	Kind    string `json:"kind"`
	Text    string `json:"text"`
	Type    string `json:"type"`
	Context string `json:"context,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	opts := s.detector.Options()
	info := map[string]interface{}{
		"name":             "report-sentinel",
		"version":          version,
		"privacy_enabled":  s.config.Privacy.Enabled,
		"backend":          opts.Backend,
		"enabled_rules":    s.detector.GetEnabledRules(),
		"debounce_ms":      s.detector.Debounce().Milliseconds(),
		"feedback_enabled": s.feedback != nil,
	}
	if s.wsHub != nil {
		info["websocket"] = s.wsHub.GetStats()
	}
	writeJSON(w, http.StatusOK, info)
}

// handleDetect runs one detection pass over the posted text
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !s.decode(w, r, &req) {
		return
	}

	opts := s.detector.Options()
	if req.Backend != "" {
		opts.Backend = req.Backend
	}

	result := s.detector.DetectWith(r.Context(), req.Text, opts)
	if result.Unavailable {
		s.logger.WithRequestID(getRequestID(r.Context())).Warn("Detection unavailable, returning empty result",
			zap.String("backend", opts.Backend))
	}

	writeJSON(w, http.StatusOK, result)
}

// handleRedactOne replaces a single detection in text with its placeholder
func (s *Server) handleRedactOne(w http.ResponseWriter, r *http.Request) {
	var req redactOneRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Detection.Placeholder == "" {
		writeError(w, http.StatusBadRequest, "detection.placeholder is required")
		return
	}

	writeJSON(w, http.StatusOK, redactOneResponse{Text: privacy.RedactOne(req.Text, req.Detection)})
}

// handleFeedback queues a false-positive or false-negative report
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !s.decode(w, r, &req) {
		return
	}

	kind, err := feedback.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	if s.feedback == nil {
		writeError(w, http.StatusServiceUnavailable, "feedback recording is disabled")
		return
	}

	s.feedback.RecordFeedback(kind, req.Text, req.Type, req.Context)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// decode reads a JSON body into v, writing the error response on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if s.config.Server.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	}

	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		err = errEmptyBody
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}

	s.logger.WithRequestID(getRequestID(r.Context())).Debug("Rejected request body", zap.Error(err))
	writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
