package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mjasion/balena-home/bthome/pkg/buffer"
	"github.com/mjasion/balena-home/bthome/pkg/types"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status           string    `json:"status"`
	LastPushTime     time.Time `json:"lastPushTime"`
	BufferedReadings int       `json:"bufferedReadings"`
	DroppedReadings  uint64    `json:"droppedReadings"`
}

// HealthChecker serves /health. The service is unhealthy once the last
// successful push, or the checker's start when nothing was pushed yet, is
// older than three push intervals.
type HealthChecker struct {
	buffer  *buffer.RingBuffer[types.Reading]
	pusher  *Pusher // nil when remote_write is disabled
	server  *http.Server
	logger  *zap.Logger
	now     func() time.Time
	started time.Time
}

// NewHealthChecker creates a health check server listening on port.
func NewHealthChecker(buf *buffer.RingBuffer[types.Reading], pusher *Pusher, port int, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		buffer: buf,
		pusher: pusher,
		logger: logger,
		now:    time.Now,
	}
	hc.started = hc.now()

	hc.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      hc.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	return hc
}

// Handler returns the HTTP handler serving /health.
func (hc *HealthChecker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hc.handleHealth)
	return mux
}

// Start serves the health endpoint until Stop is called.
func (hc *HealthChecker) Start() error {
	hc.logger.Info("starting health check server", zap.String("addr", hc.server.Addr))
	if err := hc.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health check server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the health check server
func (hc *HealthChecker) Stop(ctx context.Context) error {
	return hc.server.Shutdown(ctx)
}

// Check computes the current status.
func (hc *HealthChecker) Check() HealthStatus {
	status := HealthStatus{
		Status:           "healthy",
		BufferedReadings: hc.buffer.Size(),
		DroppedReadings:  hc.buffer.Dropped(),
	}

	if hc.pusher != nil {
		status.LastPushTime = hc.pusher.LastPushTime()

		since := status.LastPushTime
		if since.IsZero() {
			since = hc.started
		}
		if hc.now().Sub(since) > 3*hc.pusher.pushInterval {
			status.Status = "unhealthy"
		}
	}

	return status
}

func (hc *HealthChecker) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hc.Check()

	w.Header().Set("Content-Type", "application/json")
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		hc.logger.Debug("failed to write health response", zap.Error(err))
	}
}
