package bthome

import (
	"errors"
	"testing"
)

func TestClassify_Plaintext(t *testing.T) {
	class, err := Classify(ServiceData{UUID: UUIDPlain, Data: plainRecord(7, plainLayoutA)})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if class.Encrypted {
		t.Error("Expected plaintext classification")
	}
	if class.PayloadOffset != 3 {
		t.Errorf("Expected payload offset 3, got %d", class.PayloadOffset)
	}
	if class.FrameCounter != 7 {
		t.Errorf("Expected frame counter 7, got %d", class.FrameCounter)
	}
}

func TestClassify_Encrypted(t *testing.T) {
	class, err := Classify(ServiceData{UUID: UUIDEncrypted, Data: encryptedLayoutA})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !class.Encrypted {
		t.Error("Expected encrypted classification")
	}
	if class.PayloadOffset != 0 {
		t.Errorf("Expected payload offset 0, got %d", class.PayloadOffset)
	}
	if class.FrameCounter != 0x2A {
		t.Errorf("Expected frame counter 0x2A, got 0x%02X", class.FrameCounter)
	}
}

func TestClassify_UnknownUUID(t *testing.T) {
	for _, uuid := range []uint16{0x0000, 0x181A, 0x181D, 0xFCD2, 0xFE95, 0xFFFF} {
		_, err := Classify(ServiceData{UUID: uuid, Data: plainRecord(1, plainLayoutA)})
		if !errors.Is(err, ErrNotApplicable) {
			t.Errorf("UUID 0x%04X: expected ErrNotApplicable, got %v", uuid, err)
		}
	}
}

func TestClassify_ReservedByte(t *testing.T) {
	for _, b := range []byte{0x01, 0x02, 0x80, 0xFF} {
		record := plainRecord(1, plainLayoutA)
		record[1] = b

		_, err := Classify(ServiceData{UUID: UUIDPlain, Data: record})
		if !errors.Is(err, ErrMalformedHeader) {
			t.Errorf("Reserved byte 0x%02X: expected ErrMalformedHeader, got %v", b, err)
		}
	}
}

func TestClassify_ShortRecords(t *testing.T) {
	tests := []struct {
		name string
		sd   ServiceData
	}{
		{name: "empty plaintext", sd: ServiceData{UUID: UUIDPlain}},
		{name: "two byte plaintext", sd: ServiceData{UUID: UUIDPlain, Data: []byte{0x02, 0x00}}},
		{name: "empty encrypted", sd: ServiceData{UUID: UUIDEncrypted}},
		{name: "seven byte encrypted", sd: ServiceData{UUID: UUIDEncrypted, Data: make([]byte, 7)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify(tt.sd)
			if !errors.Is(err, ErrMalformedHeader) {
				t.Errorf("Expected ErrMalformedHeader, got %v", err)
			}
		})
	}
}
