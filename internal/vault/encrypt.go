package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Encryption errors.
var (
	ErrInvalidKeySize   = errors.New("invalid key size")
	ErrCiphertextShort  = errors.New("ciphertext too short")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// EncryptedStore wraps any Store and encrypts Entry.Original at rest
// with AES-GCM, nonce prepended to the ciphertext. Tokens, entity types,
// and timestamps stay in the clear so lookup and expiry semantics are
// unchanged.
type EncryptedStore struct {
	inner Store
	gcm   cipher.AEAD
}

// NewEncryptedStore builds the wrapper. Key must be 16, 24, or 32 bytes
// for AES-128, AES-192, or AES-256.
func NewEncryptedStore(inner Store, key []byte) (*EncryptedStore, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("%w: must be 16, 24, or 32 bytes, got %d", ErrInvalidKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &EncryptedStore{inner: inner, gcm: gcm}, nil
}

func (s *EncryptedStore) Put(ctx context.Context, scopeID string, entry Entry) error {
	sealed, err := s.seal([]byte(entry.Original))
	if err != nil {
		return fmt.Errorf("encrypted store: seal: %w", err)
	}
	entry.Original = sealed
	return s.inner.Put(ctx, scopeID, entry)
}

func (s *EncryptedStore) Get(ctx context.Context, scopeID, token string) (Entry, bool, error) {
	entry, ok, err := s.inner.Get(ctx, scopeID, token)
	if err != nil || !ok {
		return Entry{}, ok, err
	}
	plain, err := s.open(entry.Original)
	if err != nil {
		return Entry{}, false, fmt.Errorf("encrypted store: open: %w", err)
	}
	entry.Original = string(plain)
	return entry, true, nil
}

func (s *EncryptedStore) Delete(ctx context.Context, scopeID string) error {
	return s.inner.Delete(ctx, scopeID)
}

func (s *EncryptedStore) seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := s.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *EncryptedStore) open(encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	nonceSize := s.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrCiphertextShort
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
