package bthome

import "encoding/binary"

// NonceSize is the CCM nonce length used by BTHome encrypted advertisements.
const NonceSize = 12

// AssociatedData is the single AAD byte of a BTHome encrypted advertisement.
var AssociatedData = []byte{0x11}

// BuildNonce assembles the CCM nonce: device address (MSB first), the
// encrypted service UUID in little-endian byte order, then the 4 raw frame
// counter bytes copied from the record trailer.
func BuildNonce(addr Address, counter [4]byte) [NonceSize]byte {
	var nonce [NonceSize]byte

	copy(nonce[0:6], addr[:])
	binary.LittleEndian.PutUint16(nonce[6:8], UUIDEncrypted)
	copy(nonce[8:12], counter[:])

	return nonce
}
