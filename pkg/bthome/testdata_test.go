package bthome

// Known-answer vectors computed independently with an RFC 3610 CCM implementation.
var (
	testAddress = MustParseAddress("A4:C1:38:12:34:56")
	testKey     = ParseBindKey("231d39c1d7cc1ab1aee224cd096db932")

	// Layout A: 22.58 °C, 50.55 %, 95 %.
	plainLayoutA = []byte{
		0x23, 0x02, 0xD2, 0x08, // temperature
		0x03, 0x03, 0xBF, 0x13, // humidity
		0x02, 0x01, 0x5F, // battery level
	}

	// Layout B: battery 100 %, 3.644 V.
	plainLayoutB = []byte{
		0x02, 0x01, 0x64, // battery level
		0x03, 0x0C, 0x3C, 0x0E, // voltage
	}

	// plainLayoutA encrypted with frame counter 42.
	encryptedLayoutA = []byte{
		0xED, 0xE9, 0x47, 0x52, 0xA1, 0x35, 0x99, 0x4E, 0xD4, 0xB2, 0xB7,
		0x2A, 0x00, 0x00, 0x00, // frame counter
		0x1C, 0x49, 0x72, 0xD1, // tag
	}

	// plainLayoutB encrypted with frame counter 43.
	encryptedLayoutB = []byte{
		0x35, 0xD0, 0x02, 0x09, 0x57, 0xD4, 0x09,
		0x2B, 0x00, 0x00, 0x00, // frame counter
		0xCB, 0xE4, 0x5A, 0x3F, // tag
	}
)

// plainRecord prefixes a payload with the packet id object header and counter.
func plainRecord(counter byte, payload []byte) []byte {
	record := []byte{0x02, 0x00, counter}
	return append(record, payload...)
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
