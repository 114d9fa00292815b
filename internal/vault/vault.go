// Package vault seals file bytes and catalog fields with AES-256-GCM. Two
// sub-keys are derived from the master key with HKDF-SHA256 so bytes and
// metadata never share a key.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/dharsanguruparan/lockdrop/internal/errs"
)

// KeySize is the master key length in bytes.
const KeySize = 32

const (
	infoBytes = "lockdrop/bytes"
	infoField = "lockdrop/field"
)

// Vault holds the two derived AEADs. It is safe for concurrent use.
type Vault struct {
	bytes cipher.AEAD
	field cipher.AEAD
}

// New derives sub-keys from a 32 byte master key.
func New(master []byte) (*Vault, error) {
	if len(master) != KeySize {
		return nil, fmt.Errorf("vault: master key must be %d bytes, got %d", KeySize, len(master))
	}
	b, err := derive(master, infoBytes)
	if err != nil {
		return nil, err
	}
	f, err := derive(master, infoField)
	if err != nil {
		return nil, err
	}
	return &Vault{bytes: b, field: f}, nil
}

// GenerateKey returns a fresh random master key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// EncodeKey renders a key the way LOCKDROP_MASTER_KEY expects it.
func EncodeKey(key []byte) string {
	return base64.URLEncoding.EncodeToString(key)
}

func derive(master []byte, info string) (cipher.AEAD, error) {
	sub := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), sub); err != nil {
		return nil, fmt.Errorf("derive %s: %w", info, err)
	}
	block, err := aes.NewCipher(sub)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptBytes returns nonce||ciphertext.
func (v *Vault) EncryptBytes(plain []byte) ([]byte, error) {
	return seal(v.bytes, plain)
}

// DecryptBytes reverses EncryptBytes. Tampered or foreign input yields
// errs.ErrDecryption.
func (v *Vault) DecryptBytes(sealed []byte) ([]byte, error) {
	return open(v.bytes, sealed)
}

// EncryptField seals a short string into base64url text suitable for a TEXT column.
func (v *Vault) EncryptField(plain string) (string, error) {
	out, err := seal(v.field, []byte(plain))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// DecryptField reverses EncryptField.
func (v *Vault) DecryptField(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: malformed field token", errs.ErrDecryption)
	}
	out, err := open(v.field, raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func seal(aead cipher.AEAD, plain []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrEncryption, err)
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func open(aead cipher.AEAD, sealed []byte) ([]byte, error) {
	ns := aead.NonceSize()
	if len(sealed) < ns+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", errs.ErrDecryption)
	}
	out, err := aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecryption, err)
	}
	return out, nil
}
