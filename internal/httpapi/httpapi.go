// Package httpapi serves the frame/calibration/preferences HTTP surface
// the web UI and Cedar Aim poll, replacing the donor pipeline's job HTTP
// server (internal/server) with Cedar's own resources. Routing follows
// the donor's gorilla/mux one-handler-per-resource shape; the frame
// stream endpoint is Server-Sent Events, the same long-poll-to-push
// pattern the donor used for job-result streaming (internal/pipeline's
// Subscribe/broadcast) adapted to Cedar's single-latest-frame model.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"cedar/internal/camera"
	"cedar/internal/orchestrator"
	"cedar/internal/preferences"
	"cedar/internal/rpc"
)

// Server serves Cedar's HTTP API.
type Server struct {
	solve        rpc.SolveSource
	orchestrator *orchestrator.Orchestrator
	prefs        *preferences.Store
	logger       *slog.Logger
}

// New returns a Server bound to the pipeline's published state.
func New(solve rpc.SolveSource, orch *orchestrator.Orchestrator, prefs *preferences.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{solve: solve, orchestrator: orch, prefs: prefs, logger: logger}
}

// Router returns the mux.Router serving every HTTP resource.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/frame", s.handleFrame).Methods(http.MethodGet)
	r.HandleFunc("/api/frame/stream", s.handleFrameStream).Methods(http.MethodGet)
	r.HandleFunc("/api/calibrate", s.handleCalibrateStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/calibrate", s.handleCalibrateStart).Methods(http.MethodPost)
	r.HandleFunc("/api/prefs", s.handlePrefsGet).Methods(http.MethodGet)
	r.HandleFunc("/api/prefs", s.handlePrefsPut).Methods(http.MethodPut)
	return r
}

func parseFrameQuery(r *http.Request) (camera.FrameID, bool) {
	q := r.URL.Query().Get("prev_frame_id")
	if q == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(q, 10, 64)
	if err != nil {
		return 0, false
	}
	return camera.FrameID(id), true
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	prevID, havePrev := parseFrameQuery(r)
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	sol, err := s.solve.GetNextResult(ctx, prevID, havePrev)
	if err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}
	writeJSON(w, rpc.BuildFrameResponse(sol, nil))
}

func (s *Server) handleFrameStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	prevID, havePrev := parseFrameQuery(r)
	for {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		sol, err := s.solve.GetNextResult(ctx, prevID, havePrev)
		cancel()
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			continue
		}
		payload, _ := json.Marshal(rpc.BuildFrameResponse(sol, nil))
		if _, err := w.Write([]byte("data: ")); err != nil {
			return
		}
		if _, err := w.Write(payload); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return
		}
		flusher.Flush()
		prevID = sol.DetectResult.FrameID
		havePrev = true
	}
}

func (s *Server) handleCalibrateStatus(w http.ResponseWriter, r *http.Request) {
	calibrating, estimated, elapsed, lastErr := s.orchestrator.CalibrationStatus()
	resp := map[string]any{
		"calibrating":  calibrating,
		"estimated_ms": estimated.Milliseconds(),
		"elapsed_ms":   elapsed.Milliseconds(),
	}
	if lastErr != nil {
		resp["last_error"] = lastErr.Error()
	}
	writeJSON(w, resp)
}

func (s *Server) handleCalibrateStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TargetMode string `json:"target_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	target := orchestrator.ModeOperate
	switch body.TargetMode {
	case "align":
		target = orchestrator.ModeSetupAlign
	case "daylight":
		target = orchestrator.ModeSetupDaylight
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.orchestrator.RequestMode(ctx, target); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePrefsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.prefs.Get())
}

func (s *Server) handlePrefsPut(w http.ResponseWriter, r *http.Request) {
	var p preferences.Prefs
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.prefs.Save(p); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
