//go:build !linux

package scanner

import "tinygo.org/x/bluetooth"

// Adapter selection is only supported by the BlueZ backend.
func newAdapter(string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}
