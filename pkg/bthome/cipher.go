package bthome

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"github.com/pion/dtls/v3/pkg/crypto/ccm"
	"github.com/pkg/errors"
)

// TagSize is the CCM authentication tag length of BTHome encrypted advertisements.
const TagSize = 4

// Supported encrypted record lengths: 7 or 11 payload bytes plus the trailer.
const (
	shortRecordSize = 7 + trailerSize
	longRecordSize  = 11 + trailerSize
)

// Cipher performs AES-128-CCM encryption and authenticated decryption of
// BTHome records for one bind key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher for the given bind key.
func NewCipher(key BindKey) (*Cipher, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "failed to create AES cipher")
	}

	aead, err := ccm.NewCCM(block, TagSize, NonceSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CCM mode")
	}

	return &Cipher{aead: aead}, nil
}

// Decrypt verifies and decrypts an encrypted record laid out as
// ciphertext | frame counter (4, LE) | tag (4). It returns the plaintext in a
// newly allocated slice of len(record)-8 bytes and never modifies record.
func (c *Cipher) Decrypt(addr Address, record []byte) ([]byte, error) {
	if len(record) != shortRecordSize && len(record) != longRecordSize {
		return nil, errors.Wrapf(ErrMalformedHeader, "encrypted record has wrong size (%d)", len(record))
	}

	dataLen := len(record) - trailerSize

	var counter [4]byte
	copy(counter[:], record[dataLen:dataLen+4])
	nonce := BuildNonce(addr, counter)

	// ccm expects the tag appended to the ciphertext.
	sealed := make([]byte, 0, dataLen+TagSize)
	sealed = append(sealed, record[:dataLen]...)
	sealed = append(sealed, record[len(record)-TagSize:]...)

	plaintext, err := c.aead.Open(nil, nonce[:], sealed, AssociatedData)
	if err != nil {
		return nil, errors.Wrapf(ErrAuthentication, "address %s, frame counter %d", addr, binary.LittleEndian.Uint32(counter[:]))
	}

	return plaintext, nil
}

// Encrypt builds an encrypted record from a 7 or 11 byte plaintext payload.
// It is the exact inverse of Decrypt.
func (c *Cipher) Encrypt(addr Address, frameCounter uint32, plaintext []byte) ([]byte, error) {
	if len(plaintext)+trailerSize != shortRecordSize && len(plaintext)+trailerSize != longRecordSize {
		return nil, errors.Wrapf(ErrLayoutMismatch, "plaintext has wrong size (%d)", len(plaintext))
	}

	var counter [4]byte
	binary.LittleEndian.PutUint32(counter[:], frameCounter)
	nonce := BuildNonce(addr, counter)

	sealed := c.aead.Seal(nil, nonce[:], plaintext, AssociatedData)

	record := make([]byte, 0, len(plaintext)+trailerSize)
	record = append(record, sealed[:len(plaintext)]...)
	record = append(record, counter[:]...)
	record = append(record, sealed[len(plaintext):]...)

	return record, nil
}
