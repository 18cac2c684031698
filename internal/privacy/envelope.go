// Package privacy implements the encrypted metadata path used by the
// indexer (component C5): AES-256-GCM authenticated encryption with a
// deterministic per-wallet key derived by SHA-256 over the wallet address
// and a configured salt, and a hex-encoded JSON wire format. Grounded on the
// teacher's infrastructure/crypto/envelope.go, which uses the same stdlib
// primitives (crypto/aes, crypto/cipher, crypto/rand, crypto/sha256) behind
// a different (base64 "v1:") wire envelope.
package privacy

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/walletmemory/core/internal/domain"
	"github.com/walletmemory/core/internal/errors"
)

const (
	algorithmAESGCM = "aes-256-gcm"
	envelopeVersion = 1
)

// deriveKey computes SHA-256(walletAddress || salt), yielding a deterministic
// 32-byte AES-256 key per wallet without persisting a separate key store.
func deriveKey(walletAddress, salt string) [32]byte {
	return sha256.Sum256([]byte(walletAddress + salt))
}

// keyHash is a defense-in-depth fingerprint stored alongside the ciphertext
// so Decrypt can detect a salt/address mismatch before attempting an
// AEAD open.
func keyHash(key [32]byte) [32]byte {
	return sha256.Sum256(key[:])
}

// Encrypt produces an EncryptedPayload for plaintext under the key derived
// from (walletAddress, salt).
func Encrypt(walletAddress, salt string, plaintext []byte) (*domain.EncryptedPayload, error) {
	key := deriveKey(walletAddress, salt)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.EncryptionFailed(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.EncryptionFailed(err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.EncryptionFailed(err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext := sealed[:tagStart]
	tag := sealed[tagStart:]

	kh := keyHash(key)

	return &domain.EncryptedPayload{
		CiphertextHex: hex.EncodeToString(ciphertext),
		IVHex:         hex.EncodeToString(nonce),
		TagHex:        hex.EncodeToString(tag),
		KeyHashHex:    hex.EncodeToString(kh[:]),
		Algorithm:     algorithmAESGCM,
		Version:       envelopeVersion,
	}, nil
}

// Decrypt recovers the plaintext from payload, given (walletAddress, salt).
func Decrypt(walletAddress, salt string, payload *domain.EncryptedPayload) ([]byte, error) {
	if payload == nil {
		return nil, errors.ValidationFailed("payload is nil")
	}
	if payload.Algorithm != algorithmAESGCM {
		return nil, errors.DecryptionFailed(fmt.Errorf("unsupported algorithm %q", payload.Algorithm))
	}
	if payload.Version != envelopeVersion {
		return nil, errors.DecryptionFailed(fmt.Errorf("unsupported version %d", payload.Version))
	}

	key := deriveKey(walletAddress, salt)
	kh := keyHash(key)
	if hex.EncodeToString(kh[:]) != payload.KeyHashHex {
		return nil, errors.DecryptionFailed(fmt.Errorf("key hash mismatch"))
	}

	ciphertext, err := hex.DecodeString(payload.CiphertextHex)
	if err != nil {
		return nil, errors.DecryptionFailed(err)
	}
	nonce, err := hex.DecodeString(payload.IVHex)
	if err != nil {
		return nil, errors.DecryptionFailed(err)
	}
	tag, err := hex.DecodeString(payload.TagHex)
	if err != nil {
		return nil, errors.DecryptionFailed(err)
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.DecryptionFailed(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.DecryptionFailed(err)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, errors.DecryptionFailed(err)
	}
	return plaintext, nil
}
