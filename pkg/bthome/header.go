package bthome

import (
	"github.com/pkg/errors"
)

// Service data UUIDs of BTHome v1 advertisements.
const (
	UUIDPlain     uint16 = 0x181C
	UUIDEncrypted uint16 = 0x181E
)

const (
	// plainPayloadOffset skips the packet id object: length/type byte, reserved 0x00, counter.
	plainPayloadOffset = 3
	// trailerSize is the 4-byte frame counter plus the 4-byte CCM tag of encrypted records.
	trailerSize = 8
)

// ServiceData is one service-data structure of an advertisement.
type ServiceData struct {
	UUID uint16
	Data []byte
}

// Classification is what the header tells us about a record.
type Classification struct {
	Encrypted     bool
	PayloadOffset int
	FrameCounter  byte
}

// Classify inspects the service UUID and the header bytes of a record. It does
// not consult the duplicate filter; the pipeline does that right after.
func Classify(sd ServiceData) (Classification, error) {
	raw := sd.Data

	switch sd.UUID {
	case UUIDEncrypted:
		if len(raw) < trailerSize {
			return Classification{}, errors.Wrapf(ErrMalformedHeader, "encrypted record too short (%d bytes)", len(raw))
		}
		return Classification{
			Encrypted:     true,
			PayloadOffset: 0,
			FrameCounter:  raw[len(raw)-trailerSize],
		}, nil

	case UUIDPlain:
		if len(raw) < plainPayloadOffset {
			return Classification{}, errors.Wrapf(ErrMalformedHeader, "plaintext record too short (%d bytes)", len(raw))
		}
		if raw[1] != 0x00 {
			return Classification{}, errors.Wrapf(ErrMalformedHeader, "can't find packet id, reserved byte is 0x%02X", raw[1])
		}
		return Classification{
			Encrypted:     false,
			PayloadOffset: plainPayloadOffset,
			FrameCounter:  raw[2],
		}, nil

	default:
		return Classification{}, errors.Wrapf(ErrNotApplicable, "service data UUID 0x%04X", sd.UUID)
	}
}
