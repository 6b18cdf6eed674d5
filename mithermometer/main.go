package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/bthome/mithermometer/config"
	"github.com/mjasion/balena-home/bthome/mithermometer/replay"
	"github.com/mjasion/balena-home/bthome/mithermometer/scanner"
	"github.com/mjasion/balena-home/bthome/pkg/bthome"
	"github.com/mjasion/balena-home/bthome/pkg/buffer"
	"github.com/mjasion/balena-home/bthome/pkg/heartbeat"
	pkgmetrics "github.com/mjasion/balena-home/bthome/pkg/metrics"
	"github.com/mjasion/balena-home/bthome/pkg/mqtt"
	"github.com/mjasion/balena-home/bthome/pkg/profiling"
	"github.com/mjasion/balena-home/bthome/pkg/telemetry"
	"github.com/mjasion/balena-home/bthome/pkg/types"
)

const meterName = "github.com/mjasion/balena-home/bthome"

func main() {
	// Parse command-line flags
	configPath := flag.String("c", "config.yaml", "Path to configuration file")
	replayPath := flag.String("replay", "", "Decode a capture file offline and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *replayPath != "" {
		if err := runReplay(cfg, *replayPath, logger); err != nil {
			logger.Error("replay failed", zap.Error(err))
			logger.Sync()
			os.Exit(1)
		}
		return
	}

	logger.Info("starting BTHome monitoring service")
	cfg.PrintConfig(logger)

	// Initialize Pyroscope profiling
	profiler, err := profiling.Start(&cfg.Profiling, logger)
	if err != nil {
		logger.Error("failed to initialize profiler", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			logger.Error("failed to shutdown profiler", zap.Error(err))
		}
	}()

	// Initialize OpenTelemetry providers
	ctx := context.Background()
	otelProviders, err := telemetry.InitProviders(ctx, &cfg.OpenTelemetry, logger)
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry providers", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if otelProviders != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := otelProviders.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown OpenTelemetry providers", zap.Error(err))
			}
		}
	}()

	tracer := otel.Tracer("main")
	ctx, mainSpan := tracer.Start(ctx, "main.run")
	defer mainSpan.End()

	pipeline, err := newPipeline(cfg, logger)
	if err != nil {
		logger.Error("failed to create BTHome pipeline", zap.Error(err))
		os.Exit(1)
	}

	ringBuffer := buffer.New[types.Reading](cfg.Prometheus.BufferSize, logger)
	logger.Info("ring buffer created", zap.Int("capacity", ringBuffer.Capacity()))

	var scannerOpts []scanner.Option

	// Optional MQTT publisher
	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		publisher = mqtt.NewPublisher(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			Retain:      cfg.MQTT.Retain,
			QueueSize:   cfg.MQTT.QueueSize,
		}, logger)

		connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
		err := publisher.Connect(connectCtx)
		connectCancel()
		if err != nil {
			// paho keeps retrying in the background
			logger.Warn("mqtt broker not reachable yet", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		}
		defer publisher.Close()

		scannerOpts = append(scannerOpts, scanner.WithPublisher(publisher))
	} else {
		logger.Info("mqtt publishing disabled")
	}

	// Optional dead man's switch
	if cfg.Heartbeat.Enabled {
		hb := heartbeat.New(heartbeat.Config{
			URL:        cfg.Heartbeat.URL,
			Period:     cfg.Heartbeat.Period,
			MaxSilence: cfg.Heartbeat.MaxSilence,
		}, logger)
		if err := hb.Start(); err != nil {
			logger.Error("failed to start heartbeat", zap.Error(err))
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			hb.Stop(stopCtx)
		}()

		scannerOpts = append(scannerOpts, scanner.WithHeartbeat(hb))
	}

	bleScanner, err := scanner.New(cfg.BLE.Adapter, scannerSensors(cfg), pipeline, ringBuffer, logger, scannerOpts...)
	if err != nil {
		logger.Error("failed to create BLE scanner", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bleScanner.Start(ctx); err != nil {
			logger.Error("BLE scanner failed", zap.Error(err))
			cancel()
		}
	}()

	var pusher *pkgmetrics.Pusher
	if cfg.Prometheus.Enabled {
		pusher = pkgmetrics.New(pkgmetrics.Config{
			URL:          cfg.Prometheus.URL,
			Username:     cfg.Prometheus.Username,
			Password:     cfg.Prometheus.Password,
			PushInterval: time.Duration(cfg.Prometheus.PushIntervalSeconds) * time.Second,
			BatchSize:    cfg.Prometheus.BatchSize,
			TimeSeriesBuilder: pkgmetrics.CombineBuilders(
				pkgmetrics.BuildMeasurementTimeSeries,
				pkgmetrics.BuildSignalTimeSeries,
			),
		}, ringBuffer, logger)
		logger.Info("prometheus pusher initialized", zap.String("url", cfg.Prometheus.URL))

		if cfg.Prometheus.StartAtEvenSecond {
			now := time.Now()
			nextEvenSecond := now.Truncate(time.Second).Add(time.Second)
			waitDuration := nextEvenSecond.Sub(now)
			logger.Info("waiting to start at even second",
				zap.Duration("wait_duration", waitDuration),
				zap.Time("next_even_second", nextEvenSecond),
			)
			time.Sleep(waitDuration)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			pusher.Start(ctx)
		}()
	} else {
		logger.Info("prometheus remote_write disabled")
	}

	var healthChecker *pkgmetrics.HealthChecker
	if cfg.Health.Enabled {
		healthChecker = pkgmetrics.NewHealthChecker(ringBuffer, pusher, cfg.Health.Port, logger)
		go func() {
			if err := healthChecker.Start(); err != nil {
				logger.Error("health check server error", zap.Error(err))
			}
		}()
	}

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	cancel()

	logger.Info("stopping BLE scanner")
	if err := bleScanner.Stop(); err != nil {
		logger.Error("failed to stop BLE scanner", zap.Error(err))
	}

	if healthChecker != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := healthChecker.Stop(stopCtx); err != nil {
			logger.Error("failed to stop health check server", zap.Error(err))
		}
		stopCancel()
	}

	logger.Info("waiting for goroutines to finish")
	wg.Wait()

	if pusher != nil {
		logger.Info("performing final metrics push", zap.Int("reading_count", ringBuffer.Size()))
		finalCtx, finalCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pusher.Flush(finalCtx); err != nil {
			logger.Error("failed final metrics push", zap.Error(err))
		}
		finalCancel()
	}

	logger.Info("BTHome monitoring service stopped",
		zap.Uint64("readings_dropped", ringBuffer.Dropped()),
	)
}

func newPipeline(cfg *config.Config, logger *zap.Logger) (*bthome.Pipeline, error) {
	devices, err := cfg.Devices()
	if err != nil {
		return nil, err
	}
	return bthome.NewPipeline(devices,
		bthome.WithLogger(logger),
		bthome.WithMeter(otel.Meter(meterName)),
	)
}

func scannerSensors(cfg *config.Config) []scanner.SensorConfig {
	sensors := make([]scanner.SensorConfig, len(cfg.BLE.Sensors))
	for i, sensor := range cfg.BLE.Sensors {
		sensors[i] = scanner.SensorConfig{
			Name:       sensor.Name,
			ID:         sensor.ID,
			MACAddress: sensor.MACAddress,
		}
	}
	return sensors
}

// runReplay decodes a capture file with the configured sensors and logs every
// record's outcome.
func runReplay(cfg *config.Config, path string, logger *zap.Logger) error {
	captures, err := replay.Load(path)
	if err != nil {
		return err
	}

	pipeline, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}

	// The scanner is only used for its sensor lookup; the adapter is never enabled.
	lookup, err := scanner.New(cfg.BLE.Adapter, scannerSensors(cfg), pipeline,
		buffer.New[types.Reading](1, zap.NewNop()), logger)
	if err != nil {
		return err
	}

	results, err := replay.Run(captures, pipeline, lookup, time.Now())
	if err != nil {
		return err
	}

	for _, r := range results {
		fields := []zap.Field{
			zap.Int("capture", r.Capture),
			zap.String("mac", r.MAC),
			zap.String("uuid", fmt.Sprintf("0x%04X", r.UUID)),
			zap.String("outcome", r.Outcome),
		}
		if r.Reading != nil {
			fields = append(fields,
				zap.String("sensor_name", r.Reading.SensorName),
				zap.Int("frame_counter", r.Reading.FrameCounter),
			)
			fields = append(fields, measurementFields(*r.Reading)...)
		}
		if r.Err != nil {
			fields = append(fields, zap.Error(r.Err))
		}
		logger.Info("replayed record", fields...)
	}

	summary := replay.Summary(results)
	outcomes := make([]string, 0, len(summary))
	for outcome := range summary {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)

	fields := []zap.Field{zap.Int("records", len(results))}
	for _, outcome := range outcomes {
		fields = append(fields, zap.Int(outcome, summary[outcome]))
	}
	logger.Info("replay finished", fields...)
	return nil
}

func measurementFields(r types.Reading) []zap.Field {
	var fields []zap.Field
	if r.Temperature != nil {
		fields = append(fields, zap.Float64("temperature_celsius", *r.Temperature))
	}
	if r.Humidity != nil {
		fields = append(fields, zap.Float64("humidity_percent", *r.Humidity))
	}
	if r.BatteryLevel != nil {
		fields = append(fields, zap.Float64("battery_percent", *r.BatteryLevel))
	}
	if r.BatteryVoltage != nil {
		fields = append(fields, zap.Float64("battery_volts", *r.BatteryVoltage))
	}
	return fields
}
