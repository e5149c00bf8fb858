package rpc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/replsetd/replsetd/pkg/repl"
	"github.com/replsetd/replsetd/pkg/rmetrics"
)

// HealthServer serves /health, /ready and /metrics for a node.
type HealthServer struct {
	coordinator *repl.Coordinator
	mux         *http.ServeMux
}

// NewHealthServer builds a health check HTTP server bound to coordinator.
func NewHealthServer(coordinator *repl.Coordinator) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{coordinator: coordinator, mux: mux}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", rmetrics.Handler())

	return hs
}

// Start runs the health check HTTP server until it fails or is closed.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// Handler exposes the mux for embedding in another server.
func (hs *HealthServer) Handler() http.Handler { return hs.mux }

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type readyResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	MemberState string    `json:"memberState"`
	SetName     string    `json:"setName,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// healthHandler is a liveness check: 200 as long as the process is up.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now()})
}

// readyHandler reports ready (200) only while the node is PRIMARY or
// SECONDARY, and not ready (503) in every other member state.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := hs.coordinator.CurrentMemberState()
	cfg := hs.coordinator.GetReplicaSetConfig()

	ready := state.Primary() || state.Secondary()
	status := "ready"
	code := http.StatusOK
	message := ""
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
		message = "node has not reached PRIMARY or SECONDARY"
	}

	writeJSON(w, code, readyResponse{
		Status:      status,
		Timestamp:   time.Now(),
		MemberState: string(state),
		SetName:     cfg.SetName,
		Message:     message,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
