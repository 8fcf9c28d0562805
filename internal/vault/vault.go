// Package vault encrypts and decrypts provider API keys at rest.
//
// Two ciphertext formats are readable:
//
//	current: hex(iv[12]):hex(tag[16]):hex(ciphertext)   AES-256-GCM
//	legacy:  hex(iv[16]):hex(ciphertext)                AES-256-CBC, PKCS#7
//
// Encrypt always writes the current format. Decrypt picks the format from the
// number of colon-separated parts.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/crypto/scrypt"
)

const (
	// KeySize is the master key length in bytes (AES-256).
	KeySize = 32

	gcmIVSize  = 12
	gcmTagSize = 16
	cbcIVSize  = aes.BlockSize

	// Parameters the legacy writer used to stretch the master key.
	legacySalt = "salt"
	legacyN    = 16384
	legacyR    = 8
	legacyP    = 1
)

var (
	// ErrMissingKey is returned when no master key is configured.
	ErrMissingKey = eris.New("vault master key is not configured")

	// ErrInvalidKey is returned when the master key is not 32 bytes / 64 hex chars.
	ErrInvalidKey = eris.New("vault master key must be 32 bytes (64 hex characters)")
)

// Format identifies a ciphertext layout.
type Format string

const (
	FormatCurrent Format = "gcm"
	FormatLegacy  Format = "cbc"
)

// DecryptionError reports an unreadable ciphertext. It never carries the
// ciphertext or any plaintext.
type DecryptionError struct {
	Format Format
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("vault: decrypt: %s", e.Reason)
	}
	return fmt.Sprintf("vault: decrypt (%s): %s", e.Format, e.Reason)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Vault holds the ciphers derived from the master key. It is safe for
// concurrent use.
type Vault struct {
	aead   cipher.AEAD
	legacy cipher.Block
}

// NewFromHex builds a Vault from a 64-character hex master key.
func NewFromHex(hexKey string) (*Vault, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, ErrMissingKey
	}
	if len(hexKey) != KeySize*2 {
		return nil, eris.Wrapf(ErrInvalidKey, "got %d characters", len(hexKey))
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, eris.Wrap(ErrInvalidKey, "key is not valid hex")
	}
	return New(key)
}

// New builds a Vault from a raw 32-byte master key.
func New(key []byte) (*Vault, error) {
	if len(key) == 0 {
		return nil, ErrMissingKey
	}
	if len(key) != KeySize {
		return nil, eris.Wrapf(ErrInvalidKey, "got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create GCM")
	}

	// The legacy writer used the hex form of the key as an scrypt password.
	legacyKey, err := scrypt.Key([]byte(hex.EncodeToString(key)), []byte(legacySalt), legacyN, legacyR, legacyP, KeySize)
	if err != nil {
		return nil, eris.Wrap(err, "failed to derive legacy key")
	}
	legacy, err := aes.NewCipher(legacyKey)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create legacy cipher")
	}

	return &Vault{aead: aead, legacy: legacy}, nil
}

// GenerateKey returns a fresh random master key, hex encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", eris.Wrap(err, "failed to generate random key")
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals plaintext in the current format.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, gcmIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", eris.Wrap(err, "failed to generate iv")
	}

	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt opens a ciphertext in either format. Any failure is a
// *DecryptionError.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	format, ok := DetectFormat(ciphertext)
	if !ok {
		return "", &DecryptionError{Reason: "unrecognized ciphertext layout"}
	}

	parts := strings.Split(ciphertext, ":")
	if format == FormatLegacy {
		return v.decryptLegacy(parts[0], parts[1])
	}
	return v.decryptCurrent(parts[0], parts[1], parts[2])
}

func (v *Vault) decryptCurrent(ivHex, tagHex, ctHex string) (string, error) {
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != gcmIVSize {
		return "", &DecryptionError{Format: FormatCurrent, Reason: "invalid iv", Err: err}
	}
	tag, err := hex.DecodeString(tagHex)
	if err != nil || len(tag) != gcmTagSize {
		return "", &DecryptionError{Format: FormatCurrent, Reason: "invalid auth tag", Err: err}
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", &DecryptionError{Format: FormatCurrent, Reason: "invalid ciphertext encoding", Err: err}
	}

	plaintext, err := v.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", &DecryptionError{Format: FormatCurrent, Reason: "authentication failed", Err: err}
	}
	return string(plaintext), nil
}

func (v *Vault) decryptLegacy(ivHex, ctHex string) (string, error) {
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != cbcIVSize {
		return "", &DecryptionError{Format: FormatLegacy, Reason: "invalid iv", Err: err}
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", &DecryptionError{Format: FormatLegacy, Reason: "invalid ciphertext encoding", Err: err}
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", &DecryptionError{Format: FormatLegacy, Reason: "ciphertext is not a whole number of blocks"}
	}

	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(v.legacy, iv).CryptBlocks(out, ct)

	plaintext, err := pkcs7Unpad(out)
	if err != nil {
		return "", &DecryptionError{Format: FormatLegacy, Reason: "invalid padding", Err: err}
	}
	return string(plaintext), nil
}

// DetectFormat classifies a ciphertext by its structure alone.
func DetectFormat(ciphertext string) (Format, bool) {
	switch strings.Count(ciphertext, ":") {
	case 1:
		return FormatLegacy, true
	case 2:
		return FormatCurrent, true
	default:
		return "", false
	}
}

// IsLegacy reports whether ciphertext uses the legacy layout and should be
// re-encrypted.
func IsLegacy(ciphertext string) bool {
	f, ok := DetectFormat(ciphertext)
	return ok && f == FormatLegacy
}

var errBadPadding = eris.New("bad pkcs7 padding")

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errBadPadding
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, errBadPadding
	}
	return b[:len(b)-n], nil
}

func pkcs7Pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

// encryptLegacy writes the legacy layout. Only migration fixtures need it.
func (v *Vault) encryptLegacy(plaintext string) (string, error) {
	iv := make([]byte, cbcIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", eris.Wrap(err, "failed to generate iv")
	}
	padded := pkcs7Pad([]byte(plaintext))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(v.legacy, iv).CryptBlocks(out, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Reencrypt rewrites a legacy ciphertext in the current format. Current-format
// input is returned unchanged with rewritten false.
func (v *Vault) Reencrypt(ciphertext string) (out string, rewritten bool, err error) {
	if !IsLegacy(ciphertext) {
		return ciphertext, false, nil
	}
	plaintext, err := v.Decrypt(ciphertext)
	if err != nil {
		return "", false, err
	}
	out, err = v.Encrypt(plaintext)
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}
