package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ReadinessProbe checks a downstream dependency during readiness evaluation.
type ReadinessProbe func(ctx context.Context) error

// HealthHandlers serves liveness and readiness endpoints.
type HealthHandlers struct {
	clock     func() time.Time
	startedAt time.Time
	version   string
	probe     ReadinessProbe
}

// HealthOption customises HealthHandlers behaviour.
type HealthOption func(*HealthHandlers)

// WithHealthClock injects the time source, primarily for testing.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthVersion attaches a build version to health payloads.
func WithHealthVersion(version string) HealthOption {
	return func(h *HealthHandlers) {
		h.version = version
	}
}

// WithReadinessProbe wires a dependency check into the /readyz endpoint.
func WithReadinessProbe(probe ReadinessProbe) HealthOption {
	return func(h *HealthHandlers) {
		h.probe = probe
	}
}

// NewHealthHandlers constructs health endpoints with sensible defaults.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock:     time.Now,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.startedAt = h.clock()
	return h
}

// Healthz responds with a simple liveness payload for monitoring.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock()
	payload := map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.startedAt).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	if h.version != "" {
		payload["version"] = h.version
	}
	writeHealthJSON(w, http.StatusOK, payload)
}

// Readyz evaluates downstream dependencies before reporting readiness.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	payload := map[string]any{
		"status":    "ok",
		"timestamp": now.UTC().Format(time.RFC3339),
	}

	if h.probe != nil {
		if err := h.probe(r.Context()); err != nil {
			payload["status"] = "unavailable"
			payload["error"] = err.Error()
			writeHealthJSON(w, http.StatusServiceUnavailable, payload)
			return
		}
	}

	writeHealthJSON(w, http.StatusOK, payload)
}

func writeHealthJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
