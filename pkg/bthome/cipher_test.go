package bthome

import (
	"bytes"
	"errors"
	"testing"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(testKey)
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}
	return c
}

func TestCipher_DecryptKnownVectors(t *testing.T) {
	c := newTestCipher(t)

	tests := []struct {
		name   string
		record []byte
		want   []byte
	}{
		{name: "layout A", record: encryptedLayoutA, want: plainLayoutA},
		{name: "layout B", record: encryptedLayoutB, want: plainLayoutB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decrypt(testAddress, tt.record)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Expected plaintext % X, got % X", tt.want, got)
			}
		})
	}
}

func TestCipher_EncryptMatchesKnownVectors(t *testing.T) {
	c := newTestCipher(t)

	got, err := c.Encrypt(testAddress, 42, plainLayoutA)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !bytes.Equal(got, encryptedLayoutA) {
		t.Errorf("Expected record % X, got % X", encryptedLayoutA, got)
	}

	got, err = c.Encrypt(testAddress, 43, plainLayoutB)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !bytes.Equal(got, encryptedLayoutB) {
		t.Errorf("Expected record % X, got % X", encryptedLayoutB, got)
	}
}

func TestCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, counter := range []uint32{0, 1, 255, 0x01020304, 0xFFFFFFFF} {
		record, err := c.Encrypt(testAddress, counter, plainLayoutA)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		if len(record) != len(plainLayoutA)+8 {
			t.Fatalf("Expected record length %d, got %d", len(plainLayoutA)+8, len(record))
		}

		plaintext, err := c.Decrypt(testAddress, record)
		if err != nil {
			t.Fatalf("Decrypt failed for counter %d: %v", counter, err)
		}
		if !bytes.Equal(plaintext, plainLayoutA) {
			t.Errorf("Counter %d: expected % X, got % X", counter, plainLayoutA, plaintext)
		}
	}
}

func TestCipher_TamperedByteFailsAuthentication(t *testing.T) {
	c := newTestCipher(t)

	for i := range encryptedLayoutA {
		record := cloneBytes(encryptedLayoutA)
		record[i] ^= 0x01

		_, err := c.Decrypt(testAddress, record)
		if !errors.Is(err, ErrAuthentication) {
			t.Errorf("Byte %d tampered: expected ErrAuthentication, got %v", i, err)
		}
	}
}

func TestCipher_WrongAddressOrKeyFails(t *testing.T) {
	c := newTestCipher(t)

	other := MustParseAddress("A4:C1:38:12:34:57")
	if _, err := c.Decrypt(other, encryptedLayoutA); !errors.Is(err, ErrAuthentication) {
		t.Errorf("Expected ErrAuthentication for wrong address, got %v", err)
	}

	zero, err := NewCipher(BindKey{})
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}
	if _, err := zero.Decrypt(testAddress, encryptedLayoutA); !errors.Is(err, ErrAuthentication) {
		t.Errorf("Expected ErrAuthentication for zero key, got %v", err)
	}
}

func TestCipher_DecryptDoesNotModifyRecord(t *testing.T) {
	c := newTestCipher(t)

	record := cloneBytes(encryptedLayoutA)
	if _, err := c.Decrypt(testAddress, record); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !bytes.Equal(record, encryptedLayoutA) {
		t.Error("Decrypt modified the input record")
	}
}

func TestCipher_WrongLengths(t *testing.T) {
	c := newTestCipher(t)

	for _, n := range []int{0, 8, 14, 16, 18, 20, 32} {
		_, err := c.Decrypt(testAddress, make([]byte, n))
		if !errors.Is(err, ErrMalformedHeader) {
			t.Errorf("Length %d: expected ErrMalformedHeader, got %v", n, err)
		}
	}

	if _, err := c.Encrypt(testAddress, 1, make([]byte, 9)); !errors.Is(err, ErrLayoutMismatch) {
		t.Errorf("Expected ErrLayoutMismatch for 9 byte plaintext, got %v", err)
	}
}
