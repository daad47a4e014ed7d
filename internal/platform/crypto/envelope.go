// Package crypto provides envelope encryption for source-connection
// credentials at rest. Each subject (a source connection id) gets a key
// derived from a process-wide master key via HMAC-SHA256, so compromising
// one ciphertext never reveals the master key or another subject's key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

const envelopeVersionPrefix = "v1:"

func deriveEnvelopeKey(masterKey, subject []byte, info string) ([]byte, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))
	}
	mac := hmac.New(sha256.New, masterKey)
	_, _ = mac.Write([]byte(info))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write(subject)
	return mac.Sum(nil), nil
}

func envelopeAAD(subject []byte, info string) []byte {
	aad := make([]byte, 0, len(info)+1+len(subject))
	aad = append(aad, info...)
	aad = append(aad, 0)
	aad = append(aad, subject...)
	return aad
}

// EncryptCredential encrypts plaintext credential material (an OAuth access
// or refresh token) using a key derived from masterKey + the owning source
// connection id + a field name ("access_token"/"refresh_token"). Output is
// ASCII-safe: "v1:" + base64url(nonce|ciphertext).
func EncryptCredential(masterKey []byte, sourceID, field string, plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}
	subject := []byte(sourceID)
	key, err := deriveEnvelopeKey(masterKey, subject, field)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	aad := envelopeAAD(subject, field)
	ciphertext := aead.Seal(nil, nonce, plaintext, aad)

	buf := make([]byte, 0, len(nonce)+len(ciphertext))
	buf = append(buf, nonce...)
	buf = append(buf, ciphertext...)
	return envelopeVersionPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// DecryptCredential reverses EncryptCredential.
func DecryptCredential(masterKey []byte, sourceID, field string, ciphertext string) ([]byte, error) {
	ciphertext = strings.TrimSpace(ciphertext)
	if ciphertext == "" {
		return nil, nil
	}
	encoded := strings.TrimPrefix(ciphertext, envelopeVersionPrefix)
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	subject := []byte(sourceID)
	key, err := deriveEnvelopeKey(masterKey, subject, field)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce := raw[:aead.NonceSize()]
	body := raw[aead.NonceSize():]
	aad := envelopeAAD(subject, field)

	plaintext, err := aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
