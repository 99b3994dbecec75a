package adaptive

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for passphrase-derived keys.
const (
	SaltSize      = 16
	argonTime     = 1
	argonMemoryKB = 64 * 1024
	argonThreads  = 4
)

const envelopeVersion byte = 1

var ErrEnvelope = errors.New("adaptive: malformed envelope")

// DeriveKey stretches a passphrase into a cipher key with Argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemoryKB, argonThreads, KeySize)
}

// Seal encrypts plaintext under a passphrase.
//
// Layout: version(1) | cipher id(1) | salt(16) | nonce+ciphertext.
// The header is bound as additional data.
func Seal(passphrase, plaintext []byte) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	c, err := New(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	header := make([]byte, 0, 2+SaltSize)
	header = append(header, envelopeVersion, cipherID(c.Type()))
	header = append(header, salt...)

	sealed, err := c.Encrypt(plaintext, header)
	if err != nil {
		return nil, err
	}
	return append(header, sealed...), nil
}

// Open reverses Seal. The cipher is chosen from the envelope header, so a
// file sealed on one architecture opens on any other.
func Open(passphrase, envelope []byte) ([]byte, error) {
	if len(envelope) < 2+SaltSize {
		return nil, ErrEnvelope
	}
	if envelope[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: version %d", ErrEnvelope, envelope[0])
	}

	typ, ok := cipherByID(envelope[1])
	if !ok {
		return nil, fmt.Errorf("%w: cipher id %d", ErrEnvelope, envelope[1])
	}

	header := envelope[:2+SaltSize]
	c, err := NewWithType(DeriveKey(passphrase, header[2:]), typ)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(envelope[len(header):], header)
}

func cipherID(t CipherType) byte {
	if t == CipherChaCha20 {
		return 2
	}
	return 1
}

func cipherByID(id byte) (CipherType, bool) {
	switch id {
	case 1:
		return CipherAESGCM, true
	case 2:
		return CipherChaCha20, true
	default:
		return "", false
	}
}
