// Package msgcrypt encrypts chat message bodies at rest.
//
// Every message gets its own random 16-byte IV. Ciphertexts are produced with
// AES-256 in CFB mode, so no padding is needed. Scheme version 2 adds an
// HMAC-SHA256 tag over the version, IV and ciphertext so that a wrong key, a
// wrong IV or a flipped bit is reported as ErrDecryption instead of turning
// into plausible garbage.
package msgcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/hkdf"
)

const (
	KeySize = 32
	IVSize  = aes.BlockSize

	// VersionLegacyCFB is plain AES-CFB with the master key. Only decrypted.
	VersionLegacyCFB = 1
	// VersionCFBHMAC is AES-CFB with derived keys and an HMAC-SHA256 tag.
	VersionCFBHMAC = 2

	CurrentVersion = VersionCFBHMAC

	// DecryptionErrorMarker replaces content that could not be decrypted.
	DecryptionErrorMarker = "[decryption error]"
)

var (
	ErrInvalidKey = errors.New("msgcrypt: key must be 32 bytes")
	ErrInvalidIV  = errors.New("msgcrypt: iv must be 16 bytes")
	ErrDecryption = errors.New("msgcrypt: decryption failed")
)

// Payload is the stored form of one encrypted message body.
type Payload struct {
	Ciphertext []byte
	IV         []byte
	Version    int
	Tag        []byte
}

type Cipher struct {
	masterKey []byte
	encKey    []byte
	macKey    []byte
}

func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	master := append([]byte(nil), key...)

	encKey, err := deriveKey(master, "chat-message/v2/enc")
	if err != nil {
		return nil, err
	}
	macKey, err := deriveKey(master, "chat-message/v2/mac")
	if err != nil {
		return nil, err
	}
	return &Cipher{masterKey: master, encKey: encKey, macKey: macKey}, nil
}

// NewFromBase64 builds a Cipher from a standard base64 encoded 32-byte key.
func NewFromBase64(encoded string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("msgcrypt: decode key: %w", err)
	}
	return New(key)
}

func deriveKey(master []byte, info string) ([]byte, error) {
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("msgcrypt: derive key: %w", err)
	}
	return out, nil
}

// Version is the scheme written by Encrypt.
func (c *Cipher) Version() int { return CurrentVersion }

func (c *Cipher) Encrypt(plaintext string) (Payload, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Payload{}, fmt.Errorf("msgcrypt: read iv: %w", err)
	}

	ciphertext, err := cfb(c.encKey, iv, []byte(plaintext), true)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Ciphertext: ciphertext,
		IV:         iv,
		Version:    CurrentVersion,
		Tag:        c.tag(CurrentVersion, iv, ciphertext),
	}, nil
}

func (c *Cipher) Decrypt(p Payload) (string, error) {
	if len(p.IV) != IVSize {
		return "", ErrInvalidIV
	}

	var (
		plain []byte
		err   error
	)
	switch p.Version {
	case VersionLegacyCFB:
		plain, err = cfb(c.masterKey, p.IV, p.Ciphertext, false)
	case VersionCFBHMAC:
		if !hmac.Equal(p.Tag, c.tag(p.Version, p.IV, p.Ciphertext)) {
			return "", ErrDecryption
		}
		plain, err = cfb(c.encKey, p.IV, p.Ciphertext, false)
	default:
		return "", fmt.Errorf("%w: unknown scheme version %d", ErrDecryption, p.Version)
	}
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plain) {
		return "", ErrDecryption
	}
	return string(plain), nil
}

func (c *Cipher) tag(version int, iv, ciphertext []byte) []byte {
	m := hmac.New(sha256.New, c.macKey)
	m.Write([]byte{byte(version)})
	m.Write(iv)
	m.Write(ciphertext)
	return m.Sum(nil)
}

func cfb(key, iv, in []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("msgcrypt: new cipher: %w", err)
	}
	out := make([]byte, len(in))
	if encrypt {
		cipher.NewCFBEncrypter(block, iv).XORKeyStream(out, in)
	} else {
		cipher.NewCFBDecrypter(block, iv).XORKeyStream(out, in)
	}
	return out, nil
}
