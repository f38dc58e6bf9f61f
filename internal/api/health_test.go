package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakePinger struct{ err error }

func (f fakePinger) HealthCheck(context.Context) error { return f.err }

type fakeConn bool

func (f fakeConn) IsConnected() bool { return bool(f) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		deps       HealthDeps
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "memory_store_no_optional_services",
			deps:       HealthDeps{},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"database": "memory", "mqtt": "not_configured", "vision": "not_configured", "transcription": "not_configured"},
		},
		{
			name:       "database_down_is_unhealthy",
			deps:       HealthDeps{Database: fakePinger{err: errors.New("connection refused")}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"database": "error"},
		},
		{
			name:       "missing_tool_degrades",
			deps:       HealthDeps{Database: fakePinger{}, Tools: map[string]bool{"tesseract": true, "ffmpeg": false}},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantChecks: map[string]string{"database": "ok", "tesseract": "ok", "ffmpeg": "missing"},
		},
		{
			name:       "mqtt_disconnected_degrades",
			deps:       HealthDeps{MQTT: fakeConn(false), Vision: true, Transcription: "google", SnippetStore: "local"},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantChecks: map[string]string{"mqtt": "disconnected", "vision": "ok", "transcription": "google", "snippet_store": "local"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.deps, "v1.0.0", time.Now().Add(-time.Minute))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var resp HealthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Version != "v1.0.0" {
				t.Errorf("version = %q", resp.Version)
			}
			if resp.UptimeSeconds < 59 {
				t.Errorf("uptime = %d, want >= 59", resp.UptimeSeconds)
			}
			for k, want := range tt.wantChecks {
				if got := resp.Checks[k]; got != want {
					t.Errorf("checks[%s] = %q, want %q", k, got, want)
				}
			}
		})
	}
}
