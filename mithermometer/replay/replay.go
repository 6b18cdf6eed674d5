// Package replay decodes recorded advertisements offline through the same
// pipeline the scanner uses.
package replay

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mjasion/balena-home/bthome/mithermometer/scanner"
	"github.com/mjasion/balena-home/bthome/pkg/bthome"
	"github.com/mjasion/balena-home/bthome/pkg/types"
)

// File is a capture file:
//
//	captures:
//	  - mac: "A4:C1:38:12:34:56"
//	    rssi: -70
//	    timestamp: 2026-03-01T12:00:00Z
//	    serviceData:
//	      - uuid: 0x181E
//	        data: "ede94752a135994ed4b2b72a0000001c4972d1"
type File struct {
	Captures []Capture `yaml:"captures"`
}

// Capture is one recorded advertisement.
type Capture struct {
	MAC         string        `yaml:"mac"`
	RSSI        int16         `yaml:"rssi"`
	Timestamp   time.Time     `yaml:"timestamp"`
	ServiceData []ServiceData `yaml:"serviceData"`
}

// ServiceData is one recorded service-data record.
type ServiceData struct {
	UUID UUID    `yaml:"uuid"`
	Data HexData `yaml:"data"`
}

// UUID is a 16-bit service UUID written as decimal or 0x-prefixed hex.
type UUID uint16

// UnmarshalYAML implements yaml.Unmarshaler.
func (u *UUID) UnmarshalYAML(value *yaml.Node) error {
	v, err := strconv.ParseUint(strings.TrimSpace(value.Value), 0, 16)
	if err != nil {
		return fmt.Errorf("line %d: invalid service UUID %q: %w", value.Line, value.Value, err)
	}
	*u = UUID(v)
	return nil
}

// HexData is a byte string written as hex. Spaces, ':' and '-' are ignored.
type HexData []byte

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *HexData) UnmarshalYAML(value *yaml.Node) error {
	s := strings.NewReplacer(" ", "", ":", "", "-", "").Replace(value.Value)
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid hex data: %w", value.Line, err)
	}
	*h = b
	return nil
}

// Load reads a capture file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture file: %w", err)
	}
	return Decode(bytes.NewReader(data))
}

// Decode parses a capture file. Unknown keys are rejected.
func Decode(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse capture file: %w", err)
	}
	return &f, nil
}

// Result is the outcome of one recorded service-data record.
type Result struct {
	Capture int // index in File.Captures
	MAC     string
	UUID    uint16
	Outcome string
	Err     error
	Reading *types.Reading // set when Outcome is bthome.OutcomeDecoded
}

// SensorLookup resolves sensor metadata; *scanner.Scanner implements it.
type SensorLookup interface {
	Sensor(addr bthome.Address) (scanner.SensorInfo, bool)
}

// Run decodes every record of f in order. Captures without a timestamp are
// stamped with now.
func Run(f *File, pipeline *bthome.Pipeline, sensors SensorLookup, now time.Time) ([]Result, error) {
	var results []Result
	for i, c := range f.Captures {
		addr, err := bthome.ParseAddress(c.MAC)
		if err != nil {
			return nil, fmt.Errorf("capture %d: %w", i, err)
		}

		ts := c.Timestamp
		if ts.IsZero() {
			ts = now
		}
		info, _ := sensors.Sensor(addr)

		for _, sd := range c.ServiceData {
			frame, err := pipeline.DecodeServiceData(addr, bthome.ServiceData{UUID: uint16(sd.UUID), Data: sd.Data})
			res := Result{
				Capture: i,
				MAC:     addr.String(),
				UUID:    uint16(sd.UUID),
				Outcome: bthome.OutcomeOf(err),
				Err:     err,
			}
			if err == nil {
				frame.RSSI = c.RSSI
				reading := types.NewReading(frame, info.Name, info.ID, ts)
				res.Reading = &reading
			}
			results = append(results, res)
		}
	}
	return results, nil
}

// Summary counts results by outcome.
func Summary(results []Result) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		counts[r.Outcome]++
	}
	return counts
}
