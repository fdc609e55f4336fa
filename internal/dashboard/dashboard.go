// Package dashboard implements the operator websocket feed: calibration
// phase/progress, detect and solve worker health, and LX200/Alpaca
// adapter connection status, pushed to every connected client whenever
// any of them changes. It is the gorilla/websocket-based replacement for
// the donor pipeline's job-progress hub (internal/web), adapted from a
// per-job broadcast to Cedar's fixed set of operator-facing gauges.
package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cedar/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AdapterStatus reports a protocol adapter's last-known connection state.
type AdapterStatus struct {
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
}

// Snapshot is one pushed dashboard update.
type Snapshot struct {
	Mode              string        `json:"mode"`
	Calibrating       bool          `json:"calibrating"`
	CalibrationEtaMs  int64         `json:"calibration_eta_ms,omitempty"`
	CalibrationElapsedMs int64      `json:"calibration_elapsed_ms,omitempty"`
	CalibrationError  string        `json:"calibration_error,omitempty"`
	DetectHealthy     bool          `json:"detect_healthy"`
	SolveHealthy      bool          `json:"solve_healthy"`
	LX200             AdapterStatus `json:"lx200"`
	Alpaca            AdapterStatus `json:"alpaca"`
}

// Hub tracks connected clients and the adapter status they report.
type Hub struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	lx200   AdapterStatus
	alpaca  AdapterStatus

	workerMu      sync.Mutex
	detectHealthy bool
	solveHealthy  bool
}

// New returns a Hub bound to the orchestrator's mode/calibration state.
func New(orch *orchestrator.Orchestrator, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		orch:          orch,
		logger:        logger,
		clients:       make(map[*websocket.Conn]struct{}),
		detectHealthy: true,
		solveHealthy:  true,
	}
}

// ServeWS upgrades the request to a websocket and registers the
// connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("dashboard websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	h.sendTo(conn, h.snapshot())

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// SetAdapterStatus records a protocol adapter's connection state and
// broadcasts the change.
func (h *Hub) SetAdapterStatus(adapter string, connected bool) {
	h.mu.Lock()
	status := AdapterStatus{Connected: connected, LastSeen: time.Now()}
	switch adapter {
	case "lx200":
		h.lx200 = status
	case "alpaca":
		h.alpaca = status
	}
	h.mu.Unlock()
	h.Broadcast()
}

// SetWorkerHealth records whether the detect or solve worker loop is
// currently running without a respawn in the last health window.
func (h *Hub) SetWorkerHealth(worker string, healthy bool) {
	h.workerMu.Lock()
	switch worker {
	case "detect":
		h.detectHealthy = healthy
	case "solve":
		h.solveHealthy = healthy
	}
	h.workerMu.Unlock()
	h.Broadcast()
}

func (h *Hub) snapshot() Snapshot {
	calibrating, eta, elapsed, lastErr := h.orch.CalibrationStatus()
	h.workerMu.Lock()
	detectHealthy, solveHealthy := h.detectHealthy, h.solveHealthy
	h.workerMu.Unlock()

	h.mu.Lock()
	lx200, alpaca := h.lx200, h.alpaca
	h.mu.Unlock()

	snap := Snapshot{
		Mode:          h.orch.Mode().String(),
		Calibrating:   calibrating,
		DetectHealthy: detectHealthy,
		SolveHealthy:  solveHealthy,
		LX200:         lx200,
		Alpaca:        alpaca,
	}
	if calibrating {
		snap.CalibrationEtaMs = eta.Milliseconds()
		snap.CalibrationElapsedMs = elapsed.Milliseconds()
	}
	if lastErr != nil {
		snap.CalibrationError = lastErr.Error()
	}
	return snap
}

// Broadcast pushes the current snapshot to every connected client.
func (h *Hub) Broadcast() {
	snap := h.snapshot()
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.sendTo(c, snap)
	}
}

func (h *Hub) sendTo(conn *websocket.Conn, snap Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}
}

// Run periodically broadcasts the current snapshot (calibration progress
// changes even with no explicit SetWorkerHealth/SetAdapterStatus calls)
// until stop is closed.
func (h *Hub) Run(tick time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.Broadcast()
		}
	}
}
