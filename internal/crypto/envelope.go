package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	KeySize   = 32
	NonceSize = 12
)

var (
	ErrInvalidKey = errors.New("key must be 32 bytes")
	ErrDecrypt    = errors.New("decrypt failed")
)

// Key is an AES-256 key. The zero value is not usable.
type Key struct {
	raw []byte
}

func GenerateKey() (Key, error) {
	buf := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return Key{}, fmt.Errorf("generate key: %w", err)
	}
	return Key{raw: buf}, nil
}

func NewKey(raw []byte) (Key, error) {
	if len(raw) != KeySize {
		return Key{}, ErrInvalidKey
	}
	buf := make([]byte, len(raw))
	copy(buf, raw)
	return Key{raw: buf}, nil
}

func (k Key) Valid() bool {
	return len(k.raw) == KeySize
}

// Manager seals values as nonce‖ciphertext with AES-256-GCM. Every call to
// Encrypt draws a fresh random nonce.
type Manager struct {
	aead cipher.AEAD
}

func NewManager(key Key) (*Manager, error) {
	if !key.Valid() {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key.raw)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Manager{aead: aead}, nil
}

func (m *Manager) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+m.aead.Overhead())
	out = append(out, nonce...)
	return m.aead.Seal(out, nonce, plaintext, nil), nil
}

func (m *Manager) Decrypt(sealed []byte) ([]byte, error) {
	ns := m.aead.NonceSize()
	if len(sealed) < ns+m.aead.Overhead() {
		return nil, fmt.Errorf("%w: sealed value too short", ErrDecrypt)
	}
	plaintext, err := m.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

// MarshalEncryptedString returns base64(nonce‖ciphertext).
func (m *Manager) MarshalEncryptedString(value string) (string, error) {
	sealed, err := m.Encrypt([]byte(value))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (m *Manager) UnmarshalEncryptedString(raw string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: decode base64: %v", ErrDecrypt, err)
	}
	pt, err := m.Decrypt(sealed)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
