package bthome

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 48-bit BLE device address, most significant byte first
// (the order it is printed in, A4:C1:38:...).
type Address [6]byte

// ParseAddress parses an address in XX:XX:XX:XX:XX:XX form (case insensitive,
// '-' separators are accepted too).
func ParseAddress(s string) (Address, error) {
	var addr Address

	s = strings.TrimSpace(s)
	clean := strings.NewReplacer(":", "", "-", "").Replace(s)
	if len(clean) != 12 {
		return addr, fmt.Errorf("invalid MAC address %q: expected 6 bytes", s)
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return addr, fmt.Errorf("invalid MAC address %q: %w", s, err)
	}
	copy(addr[:], raw)

	return addr, nil
}

// MustParseAddress is like ParseAddress but panics on error. Intended for tests and constants.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// String returns the address as uppercase XX:XX:XX:XX:XX:XX.
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Uint64 returns the address packed into the low 48 bits of a uint64.
func (a Address) Uint64() uint64 {
	var v uint64
	for _, b := range a {
		v = v<<8 | uint64(b)
	}
	return v
}
