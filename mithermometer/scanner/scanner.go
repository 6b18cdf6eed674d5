package scanner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/mjasion/balena-home/bthome/pkg/bthome"
	"github.com/mjasion/balena-home/bthome/pkg/buffer"
	"github.com/mjasion/balena-home/bthome/pkg/types"
)

// SensorInfo contains metadata about a sensor
type SensorInfo struct {
	Name string
	ID   int
}

// SensorConfig represents configuration for a single sensor
type SensorConfig struct {
	Name       string
	ID         int
	MACAddress string
}

// Publisher receives every decoded reading, e.g. an MQTT publisher. Enqueue
// runs inside the BLE scan callback and must not block.
type Publisher interface {
	Enqueue(r types.Reading) bool
}

// Heartbeat is told when a reading arrives.
type Heartbeat interface {
	Touch(t time.Time)
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithPublisher forwards readings to p in addition to the buffer.
func WithPublisher(p Publisher) Option {
	return func(s *Scanner) {
		s.publisher = p
	}
}

// WithHeartbeat touches h for every reading.
func WithHeartbeat(h Heartbeat) Option {
	return func(s *Scanner) {
		s.heartbeat = h
	}
}

// Scanner listens for BTHome advertisements of the configured sensors and
// feeds decoded readings into the ring buffer.
type Scanner struct {
	adapterID string
	adapter   *bluetooth.Adapter
	sensors   map[bthome.Address]SensorInfo
	pipeline  *bthome.Pipeline
	buffer    *buffer.RingBuffer[types.Reading]
	publisher Publisher
	heartbeat Heartbeat
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a scanner for the given sensors. adapterID selects the HCI
// adapter on Linux; empty means the default one.
func New(adapterID string, sensors []SensorConfig, pipeline *bthome.Pipeline, buf *buffer.RingBuffer[types.Reading], logger *zap.Logger, opts ...Option) (*Scanner, error) {
	sensorMap := make(map[bthome.Address]SensorInfo, len(sensors))
	for _, sensor := range sensors {
		addr, err := bthome.ParseAddress(sensor.MACAddress)
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", sensor.Name, err)
		}
		if !pipeline.Tracks(addr) {
			return nil, fmt.Errorf("sensor %s (%s) is not configured in the pipeline", sensor.Name, addr)
		}
		sensorMap[addr] = SensorInfo{Name: sensor.Name, ID: sensor.ID}
	}

	s := &Scanner{
		adapterID: adapterID,
		sensors:   sensorMap,
		pipeline:  pipeline,
		buffer:    buf,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sensor returns the configured metadata of addr.
func (s *Scanner) Sensor(addr bthome.Address) (SensorInfo, bool) {
	info, ok := s.sensors[addr]
	return info, ok
}

// Start enables the adapter and scans until ctx is cancelled or Stop is called.
func (s *Scanner) Start(ctx context.Context) error {
	s.adapter = newAdapter(s.adapterID)

	s.logger.Info("initializing BLE adapter", zap.String("adapter", s.adapterID))
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = s.adapter.StopScan()
	}()

	s.logger.Info("starting BLE scan", zap.Int("sensor_count", len(s.sensors)))

	// Scan blocks until StopScan.
	err := s.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr, err := bthome.ParseAddress(result.Address.String())
		if err != nil || !s.pipeline.Tracks(addr) {
			return
		}
		s.HandleAdvertisement(toAdvertisement(addr, result))
	})
	if err != nil {
		return fmt.Errorf("failed to start BLE scan: %w", err)
	}

	return nil
}

// Stop stops the BLE scan
func (s *Scanner) Stop() error {
	if s.adapter == nil {
		return nil
	}

	s.logger.Info("stopping BLE scan")
	if err := s.adapter.StopScan(); err != nil {
		return fmt.Errorf("failed to stop BLE scan: %w", err)
	}
	return nil
}

// HandleAdvertisement decodes one advertisement and delivers the resulting
// readings to the buffer, the publisher and the heartbeat.
func (s *Scanner) HandleAdvertisement(adv bthome.Advertisement) []types.Reading {
	info, ok := s.sensors[adv.Address]
	if !ok {
		return nil
	}

	frames, ok := s.pipeline.Process(adv)
	if !ok {
		return nil
	}

	now := s.now()
	readings := make([]types.Reading, 0, len(frames))
	for _, frame := range frames {
		reading := types.NewReading(frame, info.Name, info.ID, now)
		readings = append(readings, reading)

		s.buffer.Add(reading)
		if s.publisher != nil {
			s.publisher.Enqueue(reading)
		}

		s.logger.Info("sensor_reading", readingFields(reading)...)
	}

	if s.heartbeat != nil {
		s.heartbeat.Touch(now)
	}

	return readings
}

func toAdvertisement(addr bthome.Address, result bluetooth.ScanResult) bthome.Advertisement {
	adv := bthome.Advertisement{Address: addr, RSSI: result.RSSI}
	for _, sd := range result.ServiceData() {
		if !sd.UUID.Is16Bit() {
			continue
		}
		adv.ServiceData = append(adv.ServiceData, bthome.ServiceData{
			UUID: sd.UUID.Get16Bit(),
			Data: sd.Data,
		})
	}
	return adv
}

func readingFields(r types.Reading) []zap.Field {
	fields := []zap.Field{
		zap.String("sensor_name", r.SensorName),
		zap.Int("sensor_id", r.SensorID),
		zap.String("mac", r.MAC),
		zap.Bool("encrypted", r.Encrypted),
		zap.Int("frame_counter", r.FrameCounter),
		zap.Int16("rssi_dbm", r.RSSI),
	}
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
