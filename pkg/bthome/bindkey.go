package bthome

import (
	"encoding/hex"
	"fmt"
)

// BindKeySize is the AES-128 key length in bytes.
const BindKeySize = 16

// BindKey is the per-device AES key provisioned out of band.
type BindKey [BindKeySize]byte

// ParseBindKey decodes a 32 character hex string. Anything else, including
// invalid hex digits, yields the all-zero key. Use ParseBindKeyStrict when a
// malformed key should be reported instead.
func ParseBindKey(s string) BindKey {
	key, err := ParseBindKeyStrict(s)
	if err != nil {
		return BindKey{}
	}
	return key
}

// ParseBindKeyStrict decodes a 32 character hex string and reports malformed input.
func ParseBindKeyStrict(s string) (BindKey, error) {
	var key BindKey

	if len(s) != 2*BindKeySize {
		return key, fmt.Errorf("bind key must be %d hex characters, got %d", 2*BindKeySize, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("bind key is not valid hex: %w", err)
	}
	copy(key[:], raw)

	return key, nil
}

// IsZero reports whether the key is all zeros, which is what a missing or
// malformed key decodes to.
func (k BindKey) IsZero() bool {
	return k == BindKey{}
}
