package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/carelink/pillwise/pkg/circuitbreaker"
)

// Check reports whether one dependency is usable
type Check func(ctx context.Context) error

// HealthHandler serves liveness and readiness
type HealthHandler struct {
	checks   map[string]Check
	breakers *circuitbreaker.Manager
	timeout  time.Duration
}

// NewHealthHandler creates a health handler; breakers may be nil
func NewHealthHandler(checks map[string]Check, breakers *circuitbreaker.Manager) *HealthHandler {
	return &HealthHandler{checks: checks, breakers: breakers, timeout: 2 * time.Second}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// ReadyResponse is the body of GET /ready
type ReadyResponse struct {
	Status   string                        `json:"status"`
	Checks   map[string]string             `json:"checks"`
	Breakers []circuitbreaker.HealthStatus `json:"breakers,omitempty"`
}

// Ready handles GET /ready. An open breaker is reported but does not fail
// readiness; the dependency checks do.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(h.checks))}
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	code := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "not ready"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	if h.breakers != nil {
		resp.Breakers = h.breakers.HealthStatus()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
