package types

import (
	"time"

	"github.com/mjasion/balena-home/bthome/pkg/bthome"
)

// Reading is one decoded BTHome frame of a configured sensor.
// Measurement fields are nil when the frame's layout does not carry them.
type Reading struct {
	Timestamp    time.Time
	MAC          string
	SensorName   string // Friendly name from config
	SensorID     int    // Numeric ID from config
	Encrypted    bool
	FrameCounter int
	RSSI         int16

	Temperature    *float64 // °C
	Humidity       *float64 // %
	BatteryLevel   *float64 // %
	BatteryVoltage *float64 // V
}

// NewReading builds a reading from a decoded frame.
func NewReading(frame bthome.Frame, name string, id int, ts time.Time) Reading {
	return Reading{
		Timestamp:      ts,
		MAC:            frame.Address.String(),
		SensorName:     name,
		SensorID:       id,
		Encrypted:      frame.Encrypted,
		FrameCounter:   int(frame.FrameCounter),
		RSSI:           frame.RSSI,
		Temperature:    frame.Temperature,
		Humidity:       frame.Humidity,
		BatteryLevel:   frame.BatteryLevel,
		BatteryVoltage: frame.BatteryVoltage,
	}
}

// HasMeasurements reports whether at least one measurement is present.
func (r Reading) HasMeasurements() bool {
	return r.Temperature != nil || r.Humidity != nil || r.BatteryLevel != nil || r.BatteryVoltage != nil
}
