package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/bthome/pkg/buffer"
	"github.com/mjasion/balena-home/bthome/pkg/telemetry"
	"github.com/mjasion/balena-home/bthome/pkg/types"
)

const pushAttempts = 3

// TimeSeriesBuilder converts readings to Prometheus time series
type TimeSeriesBuilder func(ctx context.Context, readings []types.Reading) ([]prompb.TimeSeries, error)

// Pusher drains the reading buffer into a Prometheus remote_write endpoint.
type Pusher struct {
	url          string
	username     string
	password     string
	client       *http.Client
	logger       *zap.Logger
	buffer       *buffer.RingBuffer[types.Reading]
	pushInterval time.Duration
	batchSize    int
	retryBackoff time.Duration
	tsBuilder    TimeSeriesBuilder

	mu       sync.Mutex
	lastPush time.Time
}

// Config contains configuration for the Prometheus pusher
type Config struct {
	URL               string
	Username          string
	Password          string
	PushInterval      time.Duration
	BatchSize         int
	Timeout           time.Duration
	RetryBackoff      time.Duration // first retry delay, doubled per attempt; defaults to 1s
	TimeSeriesBuilder TimeSeriesBuilder
}

// New creates a pusher whose HTTP client is traced with otelhttp.
func New(cfg Config, buf *buffer.RingBuffer[types.Reading], logger *zap.Logger) *Pusher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	builder := cfg.TimeSeriesBuilder
	if builder == nil {
		builder = CombineBuilders(BuildMeasurementTimeSeries, BuildSignalTimeSeries)
	}

	return &Pusher{
		url:      cfg.URL,
		username: cfg.Username,
		password: cfg.Password,
		client: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(
				http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(string, *http.Request) string {
					return "prometheus.remote_write"
				}),
			),
		},
		logger:       logger,
		buffer:       buf,
		pushInterval: cfg.PushInterval,
		batchSize:    batchSize,
		retryBackoff: backoff,
		tsBuilder:    builder,
		lastPush:     time.Now(),
	}
}

// Start flushes the buffer every push interval until ctx is cancelled.
func (p *Pusher) Start(ctx context.Context) {
	ticker := time.NewTicker(p.pushInterval)
	defer ticker.Stop()

	p.logger.Info("prometheus pusher started",
		zap.Duration("push_interval", p.pushInterval),
		zap.Int("batch_size", p.batchSize),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("prometheus pusher stopping")
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.logger.Error("failed to flush readings", zap.Error(err))
			}
		}
	}
}

// Flush pushes everything currently buffered in batches. When a batch fails,
// it and all following readings go back into the buffer.
func (p *Pusher) Flush(ctx context.Context) error {
	readings := p.buffer.GetAllAndClear()
	if len(readings) == 0 {
		p.logger.Debug("no readings to push")
		return nil
	}

	totalBatches := (len(readings) + p.batchSize - 1) / p.batchSize
	for batchNum := 0; batchNum < totalBatches; batchNum++ {
		start := batchNum * p.batchSize
		end := min(start+p.batchSize, len(readings))

		if err := p.Push(ctx, readings[start:end]); err != nil {
			p.buffer.AddMultiple(readings[start:])
			return fmt.Errorf("batch %d/%d failed, %d readings re-queued: %w",
				batchNum+1, totalBatches, len(readings)-start, err)
		}
	}

	return nil
}

// Push sends readings with up to three attempts and exponential backoff.
func (p *Pusher) Push(ctx context.Context, readings []types.Reading) error {
	ctx, span := otel.Tracer("metrics").Start(ctx, "metrics.Push",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("metrics.total_readings", len(readings))),
	)
	defer span.End()

	logger := telemetry.WithTraceContext(ctx, p.logger)

	if len(readings) == 0 {
		span.SetStatus(codes.Ok, "no readings to push")
		return nil
	}

	encrypted := 0
	for _, r := range readings {
		if r.Encrypted {
			encrypted++
		}
	}
	span.SetAttributes(attribute.Int("metrics.encrypted_readings", encrypted))

	writeReq, err := p.buildWriteRequest(ctx, readings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build write request")
		return fmt.Errorf("failed to build write request: %w", err)
	}
	if len(writeReq.Timeseries) == 0 {
		span.SetStatus(codes.Ok, "no time series to push")
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= pushAttempts; attempt++ {
		err := p.pushOnce(ctx, writeReq)
		if err == nil {
			p.mu.Lock()
			p.lastPush = time.Now()
			p.mu.Unlock()

			logger.Info("successfully pushed metrics",
				zap.Int("readings", len(readings)),
				zap.Int("encrypted_readings", encrypted),
				zap.Int("time_series", len(writeReq.Timeseries)),
				zap.Int("attempt", attempt),
			)
			span.SetAttributes(attribute.Int("metrics.successful_attempt", attempt))
			span.SetStatus(codes.Ok, "metrics pushed successfully")
			return nil
		}

		lastErr = err
		logger.Warn("failed to push metrics, will retry",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		span.AddEvent("push attempt failed", trace.WithAttributes(
			attribute.Int("metrics.attempt", attempt),
			attribute.String("error", err.Error()),
		))

		if attempt < pushAttempts {
			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, "context cancelled")
				return ctx.Err()
			case <-time.After(p.retryBackoff << (attempt - 1)):
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "failed after retries")
	return fmt.Errorf("failed to push metrics after %d attempts: %w", pushAttempts, lastErr)
}

func (p *Pusher) buildWriteRequest(ctx context.Context, readings []types.Reading) (*prompb.WriteRequest, error) {
	timeSeries, err := p.tsBuilder(ctx, readings)
	if err != nil {
		return nil, fmt.Errorf("time series builder failed: %w", err)
	}
	return &prompb.WriteRequest{Timeseries: timeSeries}, nil
}

func (p *Pusher) pushOnce(ctx context.Context, writeReq *prompb.WriteRequest) error {
	data, err := proto.Marshal(writeReq)
	if err != nil {
		return fmt.Errorf("failed to marshal protobuf: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.username != "" && p.password != "" {
		req.SetBasicAuth(p.username, p.password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("received non-2xx status code: %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// LastPushTime returns the time of the last successful push
func (p *Pusher) LastPushTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPush
}
