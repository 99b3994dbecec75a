package adaptive

import (
	"bytes"
	"errors"
	"testing"
)

var key32 = func() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}()

func TestNew(t *testing.T) {
	c, err := New(key32)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Should return AES-GCM on amd64/arm64, ChaCha20 otherwise
	if c.Type() != CipherAESGCM && c.Type() != CipherChaCha20 {
		t.Errorf("New() returned unknown cipher type: %s", c.Type())
	}
}

func TestNewWithType_InvalidKey(t *testing.T) {
	for _, typ := range []CipherType{CipherAESGCM, CipherChaCha20} {
		if _, err := NewWithType(make([]byte, 16), typ); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("NewWithType(16-byte key, %s) error = %v, want ErrInvalidKey", typ, err)
		}
	}

	if _, err := NewWithType(key32, "rot13"); !errors.Is(err, ErrUnknownCipher) {
		t.Errorf("unknown type error = %v", err)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	tests := []struct {
		name string
		typ  CipherType
	}{
		{"AES-GCM", CipherAESGCM},
		{"ChaCha20", CipherChaCha20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewWithType(key32, tt.typ)
			if err != nil {
				t.Fatal(err)
			}

			plaintext := []byte("node secret seed")
			aad := []byte("aad")

			ct, err := c.Encrypt(plaintext, aad)
			if err != nil {
				t.Fatal(err)
			}
			if len(ct) != len(plaintext)+c.Overhead() {
				t.Errorf("ciphertext len = %d, want %d", len(ct), len(plaintext)+c.Overhead())
			}

			pt, err := c.Decrypt(ct, aad)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(pt, plaintext) {
				t.Errorf("Decrypt() = %q, want %q", pt, plaintext)
			}

			if _, err := c.Decrypt(ct, []byte("other")); err == nil {
				t.Error("Decrypt() with wrong aad should fail")
			}
			if _, err := c.Decrypt(ct[:4], aad); !errors.Is(err, ErrCiphertextShort) {
				t.Errorf("short ciphertext error = %v", err)
			}
		})
	}
}

func TestSealOpen(t *testing.T) {
	pass := []byte("correct horse")
	payload := []byte("0123456789abcdef0123456789abcdef")

	sealed, err := Seal(pass, payload)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	got, err := Open(pass, sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("Open() returned different payload")
	}

	if _, err := Open([]byte("wrong"), sealed); err == nil {
		t.Error("Open() with wrong passphrase should fail")
	}

	tampered := append([]byte(nil), sealed...)
	tampered[2] ^= 0xff // salt byte is bound as additional data
	if _, err := Open(pass, tampered); err == nil {
		t.Error("Open() with tampered header should fail")
	}

	if _, err := Open(pass, []byte{1}); !errors.Is(err, ErrEnvelope) {
		t.Errorf("Open() short envelope error = %v", err)
	}
}
