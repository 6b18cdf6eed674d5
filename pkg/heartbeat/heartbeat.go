package heartbeat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Config contains dead man's switch configuration
type Config struct {
	URL        string
	Period     time.Duration
	MaxSilence time.Duration // no ping once the newest reading is older than this
	Timeout    time.Duration
}

// Heartbeat pings a monitoring URL on a cron schedule, but only while sensor
// readings keep arriving. A silent scanner therefore trips the remote alert.
type Heartbeat struct {
	cfg      Config
	cron     *cron.Cron
	client   *http.Client
	logger   *zap.Logger
	lastSeen atomic.Int64
	now      func() time.Time
}

// New creates a stopped heartbeat.
func New(cfg Config, logger *zap.Logger) *Heartbeat {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Heartbeat{
		cfg:  cfg,
		cron: cron.New(),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		now:    time.Now,
	}
}

// Touch records that a reading arrived at t.
func (h *Heartbeat) Touch(t time.Time) {
	h.lastSeen.Store(t.UnixNano())
}

// Start schedules the ping every configured period.
func (h *Heartbeat) Start() error {
	if h.cfg.Period < time.Second {
		return fmt.Errorf("heartbeat period must be at least 1s, got %s", h.cfg.Period)
	}

	schedule := "@every " + h.cfg.Period.String()
	if _, err := h.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.client.Timeout)
		defer cancel()

		if _, err := h.Ping(ctx); err != nil {
			h.logger.Warn("heartbeat ping failed", zap.String("url", h.cfg.URL), zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule heartbeat %q: %w", schedule, err)
	}

	h.cron.Start()
	h.logger.Info("heartbeat started",
		zap.Duration("period", h.cfg.Period),
		zap.Duration("max_silence", h.cfg.MaxSilence),
	)
	return nil
}

// Stop stops the schedule and waits for a running ping to finish or ctx to end.
func (h *Heartbeat) Stop(ctx context.Context) {
	select {
	case <-h.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Ping calls the URL when the newest reading is fresh. It reports whether a
// request was sent.
func (h *Heartbeat) Ping(ctx context.Context) (bool, error) {
	last := h.lastSeen.Load()
	if last == 0 {
		h.logger.Debug("heartbeat skipped, no readings yet")
		return false, nil
	}
	if age := h.now().Sub(time.Unix(0, last)); age > h.cfg.MaxSilence {
		h.logger.Warn("heartbeat skipped, readings are stale", zap.Duration("age", age))
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return true, fmt.Errorf("received non-2xx status code: %d", resp.StatusCode)
	}

	h.logger.Debug("heartbeat sent", zap.String("url", h.cfg.URL), zap.String("status", resp.Status))
	return true, nil
}
