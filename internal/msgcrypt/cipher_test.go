package msgcrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"testing"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, KeySize)
}

func newTestCipher(t *testing.T, b byte) *Cipher {
	t.Helper()
	c, err := New(testKey(b))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return c
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c := newTestCipher(t, 7)

	for _, in := range []string{"", "hello", "오늘 너무 힘들었어요", "emoji 💔 and\nnewlines", string(bytes.Repeat([]byte("x"), 5000))} {
		p, err := c.Encrypt(in)
		if err != nil {
			t.Fatalf("encrypt %q: %v", in, err)
		}
		if len(p.IV) != IVSize {
			t.Fatalf("iv length = %d", len(p.IV))
		}
		if p.Version != CurrentVersion {
			t.Fatalf("version = %d", p.Version)
		}
		out, err := c.Decrypt(p)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if out != in {
			t.Fatalf("round trip mismatch: got %q want %q", out, in)
		}
	}
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	c := newTestCipher(t, 1)

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		p, err := c.Encrypt("same text")
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		k := string(p.IV)
		if _, dup := seen[k]; dup {
			t.Fatalf("iv repeated after %d calls", i)
		}
		seen[k] = struct{}{}
	}
}

func TestDecrypt_InvalidIV(t *testing.T) {
	c := newTestCipher(t, 1)
	p, err := c.Encrypt("hello")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	for _, iv := range [][]byte{nil, []byte("short"), bytes.Repeat([]byte{1}, 17), []byte("dummy_iv")} {
		bad := p
		bad.IV = iv
		if _, err := c.Decrypt(bad); !errors.Is(err, ErrInvalidIV) {
			t.Fatalf("iv len %d: expected ErrInvalidIV, got %v", len(iv), err)
		}
	}
}

func TestDecrypt_TamperDetected(t *testing.T) {
	c := newTestCipher(t, 3)
	other := newTestCipher(t, 4)

	p, err := c.Encrypt("hello")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := other.Decrypt(p); !errors.Is(err, ErrDecryption) {
		t.Fatalf("wrong key: expected ErrDecryption, got %v", err)
	}

	for i := range p.Ciphertext {
		for bit := 0; bit < 8; bit++ {
			flipped := p
			flipped.Ciphertext = append([]byte(nil), p.Ciphertext...)
			flipped.Ciphertext[i] ^= 1 << bit
			if _, err := c.Decrypt(flipped); !errors.Is(err, ErrDecryption) {
				t.Fatalf("flip byte %d bit %d: expected ErrDecryption, got %v", i, bit, err)
			}
		}
	}

	wrongIV := p
	wrongIV.IV = append([]byte(nil), p.IV...)
	wrongIV.IV[0] ^= 0xff
	if _, err := c.Decrypt(wrongIV); !errors.Is(err, ErrDecryption) {
		t.Fatalf("wrong iv: expected ErrDecryption, got %v", err)
	}

	noTag := p
	noTag.Tag = nil
	if _, err := c.Decrypt(noTag); !errors.Is(err, ErrDecryption) {
		t.Fatalf("missing tag: expected ErrDecryption, got %v", err)
	}

	unknown := p
	unknown.Version = 9
	if _, err := c.Decrypt(unknown); !errors.Is(err, ErrDecryption) {
		t.Fatalf("unknown version: expected ErrDecryption, got %v", err)
	}
}

func TestDecrypt_LegacyRows(t *testing.T) {
	key := testKey(9)
	c, err := New(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	iv := bytes.Repeat([]byte{2}, IVSize)
	block, _ := aes.NewCipher(key)
	plain := []byte("이전 버전 메시지")
	ct := make([]byte, len(plain))
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(ct, plain)

	out, err := c.Decrypt(Payload{Ciphertext: ct, IV: iv, Version: VersionLegacyCFB})
	if err != nil {
		t.Fatalf("decrypt legacy: %v", err)
	}
	if out != string(plain) {
		t.Fatalf("legacy mismatch: %q", out)
	}

	// non-UTF-8 output is reported rather than returned
	garbage := []byte{0xff, 0xfe, 0xfd}
	ct = make([]byte, len(garbage))
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(ct, garbage)
	if _, err := c.Decrypt(Payload{Ciphertext: ct, IV: iv, Version: VersionLegacyCFB}); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption for invalid utf-8, got %v", err)
	}
}

func TestNew_KeyValidation(t *testing.T) {
	if _, err := New([]byte("too short")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := NewFromBase64("!!!"); err == nil {
		t.Fatalf("expected decode error")
	}
	c, err := NewFromBase64(base64.StdEncoding.EncodeToString(testKey(5)))
	if err != nil {
		t.Fatalf("from base64: %v", err)
	}
	if c.Version() != CurrentVersion {
		t.Fatalf("version = %d", c.Version())
	}
}
