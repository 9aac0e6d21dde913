// Package health provides liveness and readiness probes for the tenant-facing
// server. The gateway serves its own bare health endpoint; it has no
// dependencies worth probing.
package health

import (
	"encoding/json"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// CheckFunc probes one dependency. It returns nil when healthy.
type CheckFunc func() error

// Handler exposes health endpoints and tracks registered dependency checks.
type Handler struct {
	service   string
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func New(service string) *Handler {
	return &Handler{
		service:   service,
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

// RegisterCheck adds a named dependency check for the readiness probe.
func (h *Handler) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Register mounts the health routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.HandleStatus)
	r.Get("/healthz/ready", h.HandleReadiness)
}

// HandleStatus always answers 200 while the process is alive.
func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        h.service,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// HandleReadiness runs every registered check and answers 503 when any fails.
func (h *Handler) HandleReadiness(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	maps.Copy(checks, h.checks)
	h.mu.RUnlock()

	status := http.StatusOK
	results := make(map[string]string, len(checks))
	for name, check := range checks {
		if err := check(); err != nil {
			results[name] = "down: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			results[name] = "up"
		}
	}

	body := map[string]any{"status": "ready", "checks": results}
	if status != http.StatusOK {
		body["status"] = "not_ready"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
