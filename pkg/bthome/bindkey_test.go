package bthome

import (
	"strings"
	"testing"
)

func TestParseBindKey_Valid(t *testing.T) {
	key := ParseBindKey("231d39c1d7cc1ab1aee224cd096db932")

	want := BindKey{0x23, 0x1d, 0x39, 0xc1, 0xd7, 0xcc, 0x1a, 0xb1, 0xae, 0xe2, 0x24, 0xcd, 0x09, 0x6d, 0xb9, 0x32}
	if key != want {
		t.Errorf("Expected %x, got %x", want, key)
	}
	if key.IsZero() {
		t.Error("Expected non-zero key")
	}
}

func TestParseBindKey_MalformedIsZero(t *testing.T) {
	inputs := []string{
		"",
		"231d39c1d7cc1ab1aee224cd096db9",     // 30 chars
		"231d39c1d7cc1ab1aee224cd096db93200", // 34 chars
		strings.Repeat("zz", 16),             // right length, not hex
	}

	for _, input := range inputs {
		if key := ParseBindKey(input); !key.IsZero() {
			t.Errorf("Expected zero key for %q, got %x", input, key)
		}
	}
}

func TestParseBindKeyStrict(t *testing.T) {
	if _, err := ParseBindKeyStrict("231d39c1d7cc1ab1aee224cd096db932"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	_, err := ParseBindKeyStrict("1234")
	if err == nil {
		t.Fatal("Expected error for short key, got nil")
	}
	if !strings.Contains(err.Error(), "32 hex characters") {
		t.Errorf("Unexpected error message: %v", err)
	}

	if _, err := ParseBindKeyStrict(strings.Repeat("g", 32)); err == nil {
		t.Fatal("Expected error for non-hex key, got nil")
	}
}
