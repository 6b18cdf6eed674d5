package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/bthome/pkg/types"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"

	defaultQueueSize = 100
)

// Config contains MQTT publisher configuration
type Config struct {
	Broker         string // e.g. tcp://mosquitto:1883
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	Retain         bool
	PublishTimeout time.Duration
	QueueSize      int // readings waiting for the publish worker; defaults to 100
}

// State is the JSON document published for every reading.
type State struct {
	MAC            string    `json:"mac"`
	SensorName     string    `json:"sensor_name"`
	SensorID       int       `json:"sensor_id"`
	Timestamp      time.Time `json:"timestamp"`
	Encrypted      bool      `json:"encrypted"`
	FrameCounter   int       `json:"frame_counter"`
	RSSI           int16     `json:"rssi_dbm"`
	Temperature    *float64  `json:"temperature_celsius,omitempty"`
	Humidity       *float64  `json:"humidity_percent,omitempty"`
	BatteryLevel   *float64  `json:"battery_percent,omitempty"`
	BatteryVoltage *float64  `json:"battery_volts,omitempty"`
}

// NewState converts a reading to its published form.
func NewState(r types.Reading) State {
	return State{
		MAC:            r.MAC,
		SensorName:     r.SensorName,
		SensorID:       r.SensorID,
		Timestamp:      r.Timestamp,
		Encrypted:      r.Encrypted,
		FrameCounter:   r.FrameCounter,
		RSSI:           r.RSSI,
		Temperature:    r.Temperature,
		Humidity:       r.Humidity,
		BatteryLevel:   r.BatteryLevel,
		BatteryVoltage: r.BatteryVoltage,
	}
}

// Publisher publishes readings to an MQTT broker. The broker's last will marks
// <prefix>/status offline when the connection drops. Enqueue hands readings to
// a single worker so callers never wait on the broker.
type Publisher struct {
	client paho.Client
	cfg    Config
	logger *zap.Logger

	queue   chan types.Reading
	dropped atomic.Uint64
	wg      sync.WaitGroup

	stopCh   chan struct{}
	stopOnce sync.Once
}

func newPublisher(cfg Config, logger *zap.Logger) *Publisher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = defaultQueueSize
	}

	return &Publisher{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan types.Reading, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}
}

// NewPublisher creates a publisher with auto-reconnect enabled. Call Connect
// before publishing.
func NewPublisher(cfg Config, logger *zap.Logger) *Publisher {
	p := newPublisher(cfg, logger)
	cfg = p.cfg

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWill(p.StatusTopic(), statusOffline, cfg.QoS, true)

	opts.SetOnConnectHandler(func(c paho.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
		c.Publish(p.StatusTopic(), cfg.QoS, true, statusOnline)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	p.client = paho.NewClient(opts)
	p.startWorker()
	return p
}

func newPublisherWithClient(client paho.Client, cfg Config, logger *zap.Logger) *Publisher {
	p := newPublisher(cfg, logger)
	p.client = client
	p.startWorker()
	return p
}

func (p *Publisher) startWorker() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case r := <-p.queue:
				p.publishQueued(r)
			case <-p.stopCh:
				p.drain()
				return
			}
		}
	}()
}

// drain publishes what is still queued at Close.
func (p *Publisher) drain() {
	for {
		select {
		case r := <-p.queue:
			p.publishQueued(r)
		default:
			return
		}
	}
}

func (p *Publisher) publishQueued(r types.Reading) {
	if err := p.Publish(r); err != nil {
		p.logger.Warn("failed to publish reading",
			zap.String("sensor_name", r.SensorName),
			zap.Error(err),
		)
	}
}

// Enqueue queues a reading for publishing without blocking. It returns false
// when the queue is full or the publisher is closed; the reading is dropped.
func (p *Publisher) Enqueue(r types.Reading) bool {
	select {
	case <-p.stopCh:
		return false
	default:
	}

	select {
	case p.queue <- r:
		return true
	default:
		dropped := p.dropped.Add(1)
		p.logger.Warn("mqtt publish queue full, dropping reading",
			zap.String("sensor_name", r.SensorName),
			zap.Int("queue_size", p.cfg.QueueSize),
			zap.Uint64("dropped_total", dropped),
		)
		return false
	}
}

// Dropped returns how many readings Enqueue rejected because the queue was full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Connect waits for the initial connection, giving up when ctx is done or the
// publisher is closed.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("mqtt publisher closed")
	default:
	}

	if p.client.IsConnected() {
		return nil
	}

	token := p.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return fmt.Errorf("mqtt publisher closed")
		default:
		}
	}
}

// StateTopic returns the topic a sensor's readings are published on.
func (p *Publisher) StateTopic(sensorName string) string {
	return fmt.Sprintf("%s/%s/state", p.cfg.TopicPrefix, sensorName)
}

// StatusTopic returns the availability topic.
func (p *Publisher) StatusTopic() string {
	return p.cfg.TopicPrefix + "/status"
}

// Publish sends one reading as JSON and waits for the broker, up to
// PublishTimeout. Absent measurements are omitted.
func (p *Publisher) Publish(r types.Reading) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	data, err := json.Marshal(NewState(r))
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	topic := p.StateTopic(r.SensorName)
	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retain, data)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.logger.Debug("published reading",
		zap.String("topic", topic),
		zap.String("mac", r.MAC),
		zap.Int("frame_counter", r.FrameCounter),
	)
	return nil
}

// Close publishes what is still queued, then the offline status, and
// disconnects. Safe to call more than once.
func (p *Publisher) Close() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()

		if p.client.IsConnected() {
			token := p.client.Publish(p.StatusTopic(), p.cfg.QoS, true, statusOffline)
			token.WaitTimeout(p.cfg.PublishTimeout)
		}
		p.client.Disconnect(250)
		p.logger.Info("mqtt disconnected")
	})
}
