package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/bthome/pkg/bthome"
	pkgconfig "github.com/mjasion/balena-home/bthome/pkg/config"
)

// Config represents the application configuration
type Config struct {
	BLE           BLEConfig                     `yaml:"ble"`
	Prometheus    PrometheusConfig              `yaml:"prometheus"`
	MQTT          MQTTConfig                    `yaml:"mqtt"`
	Heartbeat     HeartbeatConfig               `yaml:"heartbeat"`
	Health        HealthConfig                  `yaml:"health"`
	Logging       pkgconfig.LoggingConfig       `yaml:"logging"`
	OpenTelemetry pkgconfig.OpenTelemetryConfig `yaml:"opentelemetry"`
	Profiling     pkgconfig.ProfilingConfig     `yaml:"profiling"`
}

// BLEConfig contains BLE scanning configuration
type BLEConfig struct {
	Adapter string         `yaml:"adapter" env:"BLE_ADAPTER"`
	Sensors []SensorConfig `yaml:"sensors"`
}

// SensorConfig contains configuration for a single sensor. BindKey is the
// 32 hex character AES key; leave it empty for sensors sending plaintext.
type SensorConfig struct {
	Name       string `yaml:"name"`
	ID         int    `yaml:"id"`
	MACAddress string `yaml:"macAddress"`
	BindKey    string `yaml:"bindKey"`
}

// PrometheusConfig contains Prometheus remote_write configuration
type PrometheusConfig struct {
	Enabled             bool   `yaml:"enabled" env:"PROMETHEUS_ENABLED" env-default:"true"`
	PushIntervalSeconds int    `yaml:"pushIntervalSeconds" env:"PUSH_INTERVAL_SECONDS" env-default:"15"`
	URL                 string `yaml:"prometheusUrl" env:"PROMETHEUS_URL"`
	Username            string `yaml:"prometheusUsername" env:"PROMETHEUS_USERNAME"`
	Password            string `yaml:"prometheusPassword" env:"PROMETHEUS_PASSWORD"`
	StartAtEvenSecond   bool   `yaml:"startAtEvenSecond" env:"START_AT_EVEN_SECOND" env-default:"true"`
	BufferSize          int    `yaml:"bufferSize" env:"BUFFER_SIZE" env-default:"1000"`
	BatchSize           int    `yaml:"batchSize" env:"BATCH_SIZE" env-default:"500"`
}

// MQTTConfig contains MQTT publishing configuration
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" env:"MQTT_ENABLED" env-default:"false"`
	Broker      string `yaml:"broker" env:"MQTT_BROKER"`
	ClientID    string `yaml:"clientId" env:"MQTT_CLIENT_ID" env-default:"mithermometer"`
	Username    string `yaml:"username" env:"MQTT_USERNAME"`
	Password    string `yaml:"password" env:"MQTT_PASSWORD"`
	TopicPrefix string `yaml:"topicPrefix" env:"MQTT_TOPIC_PREFIX" env-default:"bthome"`
	QoS         int    `yaml:"qos" env:"MQTT_QOS" env-default:"1"`
	Retain      bool   `yaml:"retain" env:"MQTT_RETAIN" env-default:"false"`
	QueueSize   int    `yaml:"queueSize" env:"MQTT_QUEUE_SIZE" env-default:"100"`
}

// HeartbeatConfig contains the dead man's switch configuration
type HeartbeatConfig struct {
	Enabled    bool          `yaml:"enabled" env:"HEARTBEAT_ENABLED" env-default:"false"`
	URL        string        `yaml:"url" env:"HEARTBEAT_URL"`
	Period     time.Duration `yaml:"period" env:"HEARTBEAT_PERIOD" env-default:"1m"`
	MaxSilence time.Duration `yaml:"maxSilence" env:"HEARTBEAT_MAX_SILENCE" env-default:"5m"`
}

// HealthConfig contains the health check endpoint configuration
type HealthConfig struct {
	Enabled bool `yaml:"enabled" env:"HEALTH_CHECK_ENABLED" env-default:"true"`
	Port    int  `yaml:"port" env:"HEALTH_CHECK_PORT" env-default:"8080"`
}

// Load loads configuration from a YAML file with environment variable overrides
func Load(configPath string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.BLE.Sensors) == 0 {
		return fmt.Errorf("at least one sensor must be configured")
	}

	seenIDs := make(map[int]bool)
	seenMACs := make(map[bthome.Address]bool)

	for i, sensor := range c.BLE.Sensors {
		if sensor.Name == "" {
			return fmt.Errorf("sensor %d: name is required", i)
		}

		if sensor.ID < 1 {
			return fmt.Errorf("sensor %s: ID must be >= 1, got %d", sensor.Name, sensor.ID)
		}
		if seenIDs[sensor.ID] {
			return fmt.Errorf("sensor %s: duplicate ID %d", sensor.Name, sensor.ID)
		}
		seenIDs[sensor.ID] = true

		addr, err := bthome.ParseAddress(sensor.MACAddress)
		if err != nil {
			return fmt.Errorf("sensor %s: invalid MAC address format: %s (expected format: XX:XX:XX:XX:XX:XX)", sensor.Name, sensor.MACAddress)
		}
		if seenMACs[addr] {
			return fmt.Errorf("sensor %s: duplicate MAC address %s", sensor.Name, sensor.MACAddress)
		}
		seenMACs[addr] = true

		if sensor.BindKey != "" {
			if _, err := bthome.ParseBindKeyStrict(sensor.BindKey); err != nil {
				return fmt.Errorf("sensor %s: %w", sensor.Name, err)
			}
		}
	}

	if c.Prometheus.Enabled {
		if err := validateURL("prometheus URL", c.Prometheus.URL, "http", "https"); err != nil {
			return err
		}
		if c.Prometheus.PushIntervalSeconds < 1 {
			return fmt.Errorf("push interval must be at least 1 second")
		}
		if c.Prometheus.BatchSize < 1 {
			return fmt.Errorf("batch size must be at least 1")
		}
	}
	if c.Prometheus.BufferSize < 1 {
		return fmt.Errorf("buffer size must be at least 1")
	}

	if c.MQTT.Enabled {
		if err := validateURL("mqtt broker", c.MQTT.Broker, "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts"); err != nil {
			return err
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
		c.MQTT.TopicPrefix = strings.TrimSuffix(c.MQTT.TopicPrefix, "/")
		if c.MQTT.TopicPrefix == "" {
			return fmt.Errorf("mqtt topic prefix is required")
		}
	}

	if c.Heartbeat.Enabled {
		if err := validateURL("heartbeat URL", c.Heartbeat.URL, "http", "https"); err != nil {
			return err
		}
		if c.Heartbeat.Period < time.Second {
			return fmt.Errorf("heartbeat period must be at least 1s, got %s", c.Heartbeat.Period)
		}
		if c.Heartbeat.MaxSilence < c.Heartbeat.Period {
			return fmt.Errorf("heartbeat maxSilence (%s) must not be shorter than period (%s)", c.Heartbeat.MaxSilence, c.Heartbeat.Period)
		}
	}

	if c.Health.Enabled && (c.Health.Port <= 0 || c.Health.Port > 65535) {
		return fmt.Errorf("health check port must be between 1 and 65535, got %d", c.Health.Port)
	}

	if err := pkgconfig.ValidateLogging(&c.Logging); err != nil {
		return err
	}
	if err := pkgconfig.ValidateOpenTelemetry(&c.OpenTelemetry); err != nil {
		return err
	}
	return pkgconfig.ValidateProfiling(&c.Profiling)
}

func validateURL(name, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute URL with scheme %s, got %q", name, strings.Join(schemes, "/"), raw)
}

// Devices converts the sensor list into pipeline devices. Sensors without a
// bind key get the zero key and can only decode plaintext frames.
func (c *Config) Devices() ([]bthome.Device, error) {
	devices := make([]bthome.Device, 0, len(c.BLE.Sensors))
	for _, sensor := range c.BLE.Sensors {
		addr, err := bthome.ParseAddress(sensor.MACAddress)
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", sensor.Name, err)
		}

		var key bthome.BindKey
		if sensor.BindKey != "" {
			key, err = bthome.ParseBindKeyStrict(sensor.BindKey)
			if err != nil {
				return nil, fmt.Errorf("sensor %s: %w", sensor.Name, err)
			}
		}

		devices = append(devices, bthome.Device{Address: addr, BindKey: key})
	}
	return devices, nil
}

// NewLogger creates the application logger
func (c *Config) NewLogger() (*zap.Logger, error) {
	return pkgconfig.NewLogger(&c.Logging)
}

// PrintConfig logs the configuration with secrets masked
func (c *Config) PrintConfig(logger *zap.Logger) {
	sensorInfo := make([]string, len(c.BLE.Sensors))
	for i, sensor := range c.BLE.Sensors {
		sensorInfo[i] = fmt.Sprintf("%s (ID:%d, MAC:%s, encrypted:%t)",
			sensor.Name, sensor.ID, sensor.MACAddress, sensor.BindKey != "")
	}

	logger.Info("configuration loaded",
		zap.String("ble_adapter", c.BLE.Adapter),
		zap.Int("sensor_count", len(c.BLE.Sensors)),
		zap.Strings("sensors", sensorInfo),
		zap.Bool("prometheus_enabled", c.Prometheus.Enabled),
		zap.Int("push_interval_seconds", c.Prometheus.PushIntervalSeconds),
		zap.String("prometheus_url", c.Prometheus.URL),
		zap.String("prometheus_username", c.Prometheus.Username),
		zap.Bool("prometheus_password_set", c.Prometheus.Password != ""),
		zap.Int("buffer_size", c.Prometheus.BufferSize),
		zap.Int("batch_size", c.Prometheus.BatchSize),
		zap.Bool("mqtt_enabled", c.MQTT.Enabled),
		zap.String("mqtt_broker", c.MQTT.Broker),
		zap.String("mqtt_topic_prefix", c.MQTT.TopicPrefix),
		zap.Bool("mqtt_password_set", c.MQTT.Password != ""),
		zap.Bool("heartbeat_enabled", c.Heartbeat.Enabled),
		zap.Duration("heartbeat_period", c.Heartbeat.Period),
		zap.Bool("health_check_enabled", c.Health.Enabled),
		zap.Int("health_check_port", c.Health.Port),
		zap.String("log_format", c.Logging.Format),
		zap.String("log_level", c.Logging.Level),
		zap.String("log_file", c.Logging.File.Path),
		zap.Bool("opentelemetry_enabled", c.OpenTelemetry.Enabled),
		zap.Bool("profiling_enabled", c.Profiling.Enabled),
	)
}
