package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker backs /healthz (liveness) and /readyz (readiness).
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
	}
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// LivenessHandler always returns 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// Register mounts both probes on mux.
func (h *HealthChecker) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.LivenessHandler)
	mux.HandleFunc("/readyz", h.ReadinessHandler)
}

// ReadinessHandler returns 200 once snapshot restore and replay have
// finished, 503 before.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.ready.Load() {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "not_ready",
		})
	}
}
