package keystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// LocalManager is a KeyManager with no external KMS dependency: it wraps
// key material with AES-GCM under a single process-local master key.
// It exists as the default KeyManager for tests and single-node
// deployments that have not configured a KMIP endpoint.
type LocalManager struct {
	master  [32]byte
	version int
}

// NewLocalManager builds a LocalManager keyed by master.
func NewLocalManager(master [32]byte) *LocalManager {
	return &LocalManager{master: master, version: 1}
}

func (m *LocalManager) Provider() string { return "local" }

func (m *LocalManager) WrapKey(_ context.Context, plaintext []byte, _ map[string]string) (*KeyEnvelope, error) {
	block, err := aes.NewCipher(m.master[:])
	if err != nil {
		return nil, fmt.Errorf("keystore: local wrap: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: local wrap: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keystore: local wrap: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return &KeyEnvelope{
		KeyID:      "local-master",
		KeyVersion: m.version,
		Provider:   m.Provider(),
		Ciphertext: ciphertext,
	}, nil
}

func (m *LocalManager) UnwrapKey(_ context.Context, envelope *KeyEnvelope, _ map[string]string) ([]byte, error) {
	block, err := aes.NewCipher(m.master[:])
	if err != nil {
		return nil, fmt.Errorf("keystore: local unwrap: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: local unwrap: %w", err)
	}
	if len(envelope.Ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("keystore: local unwrap: ciphertext too short")
	}
	nonce, ct := envelope.Ciphertext[:gcm.NonceSize()], envelope.Ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: local unwrap: %w", err)
	}
	return plaintext, nil
}

func (m *LocalManager) ActiveKeyVersion(_ context.Context) (int, error) {
	return m.version, nil
}

func (m *LocalManager) HealthCheck(_ context.Context) error {
	return nil
}

func (m *LocalManager) Close(_ context.Context) error {
	return nil
}
