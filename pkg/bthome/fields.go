package bthome

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Payload layouts, relative to the payload offset. All values little endian.
//
// Layout A (11 bytes):
//
//	[0..1]  temperature object header
//	[2..3]  int16  temperature x 0.01 °C
//	[4..5]  humidity object header
//	[6..7]  uint16 humidity x 0.01 %
//	[8..9]  battery object header
//	[10]    uint8  battery level %
//
// Layout B (7 bytes):
//
//	[0..2]  battery level object
//	[3..4]  voltage object header
//	[5..6]  uint16 battery voltage mV
const (
	layoutASize = 11
	layoutBSize = 7
)

// Measurements holds the values carried by one frame. A nil field is not
// present in the frame's layout, which is different from a zero reading.
type Measurements struct {
	Temperature    *float64 `json:"temperature_celsius,omitempty"`
	Humidity       *float64 `json:"humidity_percent,omitempty"`
	BatteryLevel   *float64 `json:"battery_percent,omitempty"`
	BatteryVoltage *float64 `json:"battery_volts,omitempty"`
}

// Empty reports whether no field is present.
func (m Measurements) Empty() bool {
	return m.Temperature == nil && m.Humidity == nil && m.BatteryLevel == nil && m.BatteryVoltage == nil
}

// DecodeFields decodes a plaintext payload. For encrypted frames payload is the
// decrypted data (record minus trailer), for plaintext frames the whole record.
func DecodeFields(payload []byte, offset int) (Measurements, error) {
	var m Measurements

	if offset < 0 {
		return m, errors.Wrapf(ErrLayoutMismatch, "negative payload offset %d", offset)
	}

	switch len(payload) {
	case offset + layoutASize:
		data := payload[offset:]

		temperature := float64(int16(binary.LittleEndian.Uint16(data[2:4]))) / 100
		humidity := float64(binary.LittleEndian.Uint16(data[6:8])) / 100
		battery := float64(data[10])

		m.Temperature = &temperature
		m.Humidity = &humidity
		m.BatteryLevel = &battery

	case offset + layoutBSize:
		data := payload[offset:]

		voltage := float64(binary.LittleEndian.Uint16(data[5:7])) / 1000
		m.BatteryVoltage = &voltage

	default:
		return m, errors.Wrapf(ErrLayoutMismatch, "payload has wrong size (%d)", len(payload)-offset)
	}

	return m, nil
}
