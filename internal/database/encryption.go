package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"receiptsync/internal/constants"
	"receiptsync/internal/errors"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize          = 32 // AES-256 key, followed by an equally long nonce key
	nonceSize        = 12
	pbkdf2Iterations = 100000
	minSecretLength  = 32
)

// encryptor protects participant addresses at rest. Addresses are looked up
// by equality, so each one is sealed under a nonce derived from an HMAC of
// the plaintext. A nil aead disables encryption.
type encryptor struct {
	aead     cipher.AEAD
	nonceKey []byte
}

func newEncryptor(enabled bool) (*encryptor, error) {
	if !enabled {
		return &encryptor{}, nil
	}

	material, err := deriveKey()
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(material[:keySize])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{aead: aead, nonceKey: material[keySize:]}, nil
}

func (e *encryptor) enabled() bool {
	return e != nil && e.aead != nil
}

func (e *encryptor) nonceFor(address string) []byte {
	mac := hmac.New(sha256.New, e.nonceKey)
	mac.Write([]byte(constants.EncryptionLookupSalt))
	mac.Write([]byte(address))
	return mac.Sum(nil)[:nonceSize]
}

// encryptAddress is deterministic so that sealed addresses work in WHERE
// clauses and unique keys.
// #nosec G407 - deterministic nonce required for equality lookups
func (e *encryptor) encryptAddress(address string) (string, error) {
	if address == "" || !e.enabled() {
		return address, nil
	}

	nonce := e.nonceFor(address)
	sealed := e.aead.Seal(nonce, nonce, []byte(address), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *encryptor) decryptAddress(stored string) (string, error) {
	if stored == "" || !e.enabled() {
		return stored, nil
	}

	data, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed address: %w", err)
	}
	if len(data) < nonceSize+e.aead.Overhead() {
		return "", fmt.Errorf("sealed address too short: %d bytes", len(data))
	}

	plaintext, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed address: %w", err)
	}
	return string(plaintext), nil
}

// deriveKey stretches the secret from the environment into the AES key and
// the nonce key.
func deriveKey() ([]byte, error) {
	secret := os.Getenv(constants.EncryptionSecretEnv)
	if secret == "" {
		return nil, errors.NewConfigError(constants.EncryptionSecretEnv,
			fmt.Sprintf("%s environment variable is required when address encryption is enabled", constants.EncryptionSecretEnv))
	}
	if len(secret) < minSecretLength {
		return nil, errors.NewConfigError(constants.EncryptionSecretEnv,
			fmt.Sprintf("encryption secret must be at least %d characters long", minSecretLength))
	}

	return pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), pbkdf2Iterations, 2*keySize, sha256.New), nil
}
