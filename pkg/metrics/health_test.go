package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mjasion/balena-home/bthome/pkg/buffer"
	"github.com/mjasion/balena-home/bthome/pkg/types"
)

func getHealth(t *testing.T, hc *HealthChecker) (int, HealthStatus) {
	t.Helper()

	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	return rec.Code, status
}

func TestHealthChecker(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		started    time.Time
		lastPush   time.Time
		wantCode   int
		wantStatus string
	}{
		{
			name:       "just started, nothing pushed",
			started:    now.Add(-time.Minute),
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "nothing pushed since start",
			started:    now.Add(-4 * time.Minute),
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
		{
			name:       "recent push",
			started:    now.Add(-time.Hour),
			lastPush:   now.Add(-time.Minute),
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "stale push",
			started:    now.Add(-time.Hour),
			lastPush:   now.Add(-4 * time.Minute),
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := buffer.New[types.Reading](2, zap.NewNop())
			buf.AddMultiple([]types.Reading{{SensorID: 1}, {SensorID: 2}, {SensorID: 3}})

			pusher := New(Config{URL: "http://127.0.0.1:1", PushInterval: time.Minute, BatchSize: 10}, buf, zap.NewNop())
			pusher.lastPush = tt.lastPush

			hc := NewHealthChecker(buf, pusher, 8080, zap.NewNop())
			hc.now = func() time.Time { return now }
			hc.started = tt.started

			code, status := getHealth(t, hc)
			if code != tt.wantCode {
				t.Errorf("Expected status code %d, got %d", tt.wantCode, code)
			}
			if status.Status != tt.wantStatus {
				t.Errorf("Expected status %q, got %q", tt.wantStatus, status.Status)
			}
			if status.BufferedReadings != 2 {
				t.Errorf("Expected 2 buffered readings, got %d", status.BufferedReadings)
			}
			if status.DroppedReadings != 1 {
				t.Errorf("Expected 1 dropped reading, got %d", status.DroppedReadings)
			}
		})
	}
}

func TestHealthChecker_WithoutPusher(t *testing.T) {
	hc := NewHealthChecker(buffer.New[types.Reading](1, zap.NewNop()), nil, 8080, zap.NewNop())

	code, status := getHealth(t, hc)
	if code != http.StatusOK || status.Status != "healthy" {
		t.Errorf("Expected healthy 200, got %d %q", code, status.Status)
	}
	if !status.LastPushTime.IsZero() {
		t.Errorf("Expected zero last push time, got %v", status.LastPushTime)
	}
}
