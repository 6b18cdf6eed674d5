package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mjasion/balena-home/bthome/pkg/bthome"
)

const validConfig = `
ble:
  sensors:
    - name: living_room
      id: 1
      macAddress: "A4:C1:38:12:34:56"
      bindKey: "231d39c1d7cc1ab1aee224cd096db932"
    - name: bedroom
      id: 2
      macAddress: "a4:c1:38:00:00:02"
prometheus:
  pushIntervalSeconds: 15
  prometheusUrl: "https://prometheus-prod-01-eu-west-0.grafana.net/api/prom/push"
  prometheusUsername: "123456"
  prometheusPassword: "test-password"
  bufferSize: 100
mqtt:
  enabled: true
  broker: "tcp://mosquitto:1883"
  topicPrefix: "home/bthome/"
heartbeat:
  enabled: true
  url: "https://hc-ping.com/abc"
  period: 30s
  maxSilence: 2m
logging:
  logFormat: "json"
  logLevel: "debug"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(cfg.BLE.Sensors) != 2 {
		t.Fatalf("Expected 2 sensors, got %d", len(cfg.BLE.Sensors))
	}
	if cfg.BLE.Sensors[0].BindKey != "231d39c1d7cc1ab1aee224cd096db932" {
		t.Errorf("Unexpected bind key %q", cfg.BLE.Sensors[0].BindKey)
	}
	if !cfg.Prometheus.Enabled {
		t.Error("Expected prometheus to be enabled by default")
	}
	if cfg.Prometheus.BatchSize != 500 {
		t.Errorf("Expected default batch size 500, got %d", cfg.Prometheus.BatchSize)
	}
	if cfg.MQTT.TopicPrefix != "home/bthome" {
		t.Errorf("Expected trailing slash trimmed, got %q", cfg.MQTT.TopicPrefix)
	}
	if cfg.MQTT.QoS != 1 || cfg.MQTT.ClientID != "mithermometer" || cfg.MQTT.QueueSize != 100 {
		t.Errorf("Unexpected MQTT defaults: qos=%d client=%q queue=%d", cfg.MQTT.QoS, cfg.MQTT.ClientID, cfg.MQTT.QueueSize)
	}
	if cfg.Heartbeat.Period != 30*time.Second || cfg.Heartbeat.MaxSilence != 2*time.Minute {
		t.Errorf("Unexpected heartbeat durations: %s / %s", cfg.Heartbeat.Period, cfg.Heartbeat.MaxSilence)
	}
	if !cfg.Health.Enabled || cfg.Health.Port != 8080 {
		t.Errorf("Unexpected health defaults %+v", cfg.Health)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Errorf("Unexpected logging config %+v", cfg.Logging)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestDevices(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	devices, err := cfg.Devices()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(devices))
	}

	if devices[0].Address != bthome.MustParseAddress("A4:C1:38:12:34:56") {
		t.Errorf("Unexpected address %s", devices[0].Address)
	}
	if devices[0].BindKey.IsZero() {
		t.Error("Expected bind key for first sensor")
	}
	if devices[1].Address.String() != "A4:C1:38:00:00:02" {
		t.Errorf("Expected normalized address, got %s", devices[1].Address)
	}
	if !devices[1].BindKey.IsZero() {
		t.Error("Expected zero bind key for plaintext sensor")
	}
}

func validBase() Config {
	return Config{
		BLE: BLEConfig{Sensors: []SensorConfig{
			{Name: "living_room", ID: 1, MACAddress: "A4:C1:38:12:34:56"},
		}},
		Prometheus: PrometheusConfig{
			Enabled:             true,
			URL:                 "https://prom.example.com/api/v1/write",
			PushIntervalSeconds: 15,
			BufferSize:          100,
			BatchSize:           10,
		},
		Health: HealthConfig{Enabled: true, Port: 8080},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no sensors", mutate: func(c *Config) { c.BLE.Sensors = nil }, wantErr: "at least one sensor"},
		{
			name:    "missing name",
			mutate:  func(c *Config) { c.BLE.Sensors[0].Name = "" },
			wantErr: "name is required",
		},
		{
			name:    "bad id",
			mutate:  func(c *Config) { c.BLE.Sensors[0].ID = 0 },
			wantErr: "ID must be >= 1",
		},
		{
			name:    "bad MAC",
			mutate:  func(c *Config) { c.BLE.Sensors[0].MACAddress = "A4:C1:38" },
			wantErr: "invalid MAC address",
		},
		{
			name: "duplicate MAC in other case",
			mutate: func(c *Config) {
				c.BLE.Sensors = append(c.BLE.Sensors, SensorConfig{Name: "copy", ID: 2, MACAddress: "a4:c1:38:12:34:56"})
			},
			wantErr: "duplicate MAC",
		},
		{
			name: "duplicate ID",
			mutate: func(c *Config) {
				c.BLE.Sensors = append(c.BLE.Sensors, SensorConfig{Name: "copy", ID: 1, MACAddress: "A4:C1:38:00:00:09"})
			},
			wantErr: "duplicate ID",
		},
		{
			name:    "short bind key",
			mutate:  func(c *Config) { c.BLE.Sensors[0].BindKey = "231d39c1" },
			wantErr: "bind key must be 32 hex characters",
		},
		{
			name:    "non hex bind key",
			mutate:  func(c *Config) { c.BLE.Sensors[0].BindKey = strings.Repeat("zz", 16) },
			wantErr: "not valid hex",
		},
		{
			name:    "missing prometheus url",
			mutate:  func(c *Config) { c.Prometheus.URL = "" },
			wantErr: "prometheus URL is required",
		},
		{
			name:   "prometheus disabled",
			mutate: func(c *Config) { c.Prometheus.Enabled = false; c.Prometheus.URL = "" },
		},
		{
			name:    "relative prometheus url",
			mutate:  func(c *Config) { c.Prometheus.URL = "/api/v1/write" },
			wantErr: "must be an absolute URL",
		},
		{
			name:    "bad health port",
			mutate:  func(c *Config) { c.Health.Port = 70000 },
			wantErr: "health check port",
		},
		{
			name:   "health disabled ignores port",
			mutate: func(c *Config) { c.Health.Enabled = false; c.Health.Port = 0 },
		},
		{
			name:    "zero buffer",
			mutate:  func(c *Config) { c.Prometheus.BufferSize = 0 },
			wantErr: "buffer size",
		},
		{
			name: "mqtt bad qos",
			mutate: func(c *Config) {
				c.MQTT = MQTTConfig{Enabled: true, Broker: "tcp://broker:1883", TopicPrefix: "bthome", QoS: 3}
			},
			wantErr: "qos",
		},
		{
			name: "mqtt bad scheme",
			mutate: func(c *Config) {
				c.MQTT = MQTTConfig{Enabled: true, Broker: "http://broker:1883", TopicPrefix: "bthome"}
			},
			wantErr: "mqtt broker",
		},
		{
			name: "heartbeat silence shorter than period",
			mutate: func(c *Config) {
				c.Heartbeat = HeartbeatConfig{Enabled: true, URL: "https://hc-ping.com/x", Period: time.Minute, MaxSilence: time.Second}
			},
			wantErr: "maxSilence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBase()
			cfg.Logging.Format = "console"
			cfg.Logging.Level = "info"
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
