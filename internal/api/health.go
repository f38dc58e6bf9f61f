package api

import (
	"context"
	"net/http"
	"time"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// ConnStatus reports a long-lived connection.
type ConnStatus interface {
	IsConnected() bool
}

// HealthDeps are the optional subjects of the health check. Nil fields
// report "not_configured" (or "memory" for the template store).
type HealthDeps struct {
	Database Pinger
	MQTT     ConnStatus
	// Tools maps an external binary name to whether it was found on PATH.
	Tools         map[string]bool
	Vision        bool
	Transcription string
	SnippetStore  string
}

type HealthHandler struct {
	deps      HealthDeps
	version   string
	startTime time.Time
}

func NewHealthHandler(deps HealthDeps, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{deps: deps, version: version, startTime: startTime}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}

	// Template store check
	if h.deps.Database == nil {
		checks["database"] = "memory"
	} else if err := h.deps.Database.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// MQTT check
	if h.deps.MQTT != nil {
		if h.deps.MQTT.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			degrade()
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	for name, found := range h.deps.Tools {
		if found {
			checks[name] = "ok"
		} else {
			checks[name] = "missing"
			degrade()
		}
	}

	if h.deps.Vision {
		checks["vision"] = "ok"
	} else {
		checks["vision"] = "not_configured"
	}
	if h.deps.Transcription != "" {
		checks["transcription"] = h.deps.Transcription
	} else {
		checks["transcription"] = "not_configured"
	}
	if h.deps.SnippetStore != "" {
		checks["snippet_store"] = h.deps.SnippetStore
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
