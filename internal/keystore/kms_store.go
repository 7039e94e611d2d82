package keystore

import (
	"context"
	"fmt"
	"sync"
)

// KMSBackedStore is a Store whose local channel private key lives at rest
// only as a KeyManager-wrapped envelope; SharedSecret unwraps it on each
// call instead of holding the plaintext private key in memory between
// requests, mirroring the teacher's pattern of never caching a KMS-unwrapped
// data key past the operation that needed it.
type KMSBackedStore struct {
	mu       sync.RWMutex
	manager  KeyManager
	envelope *KeyEnvelope
	pub      map[string][32]byte

	// RotatedRead, if set, is called whenever SharedSecret unwraps an
	// envelope whose KeyVersion differs from the manager's current
	// ActiveKeyVersion, so a caller can track read traffic still served
	// by a rotated-out key.
	RotatedRead func(envelopeVersion, activeVersion int)
}

// NewKMSBackedStore wraps channelPriv through manager and returns a Store
// backed by the resulting envelope. The plaintext private key is discarded
// once WrapKey returns.
func NewKMSBackedStore(ctx context.Context, manager KeyManager, channelPriv [32]byte, metadata map[string]string) (*KMSBackedStore, error) {
	envelope, err := manager.WrapKey(ctx, channelPriv[:], metadata)
	if err != nil {
		return nil, fmt.Errorf("keystore: kms: wrap channel key: %w", err)
	}
	return &KMSBackedStore{
		manager:  manager,
		envelope: envelope,
		pub:      make(map[string][32]byte),
	}, nil
}

// Register publishes address's public key, as seen by HandshakeFor.
func (s *KMSBackedStore) Register(address string, pub [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pub[address] = pub
}

// SharedSecret unwraps the channel private key through the configured
// KeyManager and derives the X25519 shared secret with receivedKey.
func (s *KMSBackedStore) SharedSecret(ctx context.Context, receivedKey []byte, role Role) ([]byte, error) {
	if role != RoleChannel {
		return nil, fmt.Errorf("keystore: store holds no local key for role %v", role)
	}
	if len(receivedKey) != 32 {
		return nil, fmt.Errorf("keystore: received key must be 32 bytes, got %d", len(receivedKey))
	}

	s.mu.RLock()
	envelope := s.envelope
	s.mu.RUnlock()

	plaintext, err := s.manager.UnwrapKey(ctx, envelope, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: kms: unwrap channel key: %w", err)
	}
	if len(plaintext) != 32 {
		return nil, fmt.Errorf("keystore: kms: unwrapped key must be 32 bytes, got %d", len(plaintext))
	}

	if s.RotatedRead != nil {
		if active, err := s.manager.ActiveKeyVersion(ctx); err == nil && active != envelope.KeyVersion {
			s.RotatedRead(envelope.KeyVersion, active)
		}
	}

	var localPriv, remote [32]byte
	copy(localPriv[:], plaintext)
	copy(remote[:], receivedKey)
	return DeriveSharedSecret(localPriv, remote)
}

// HandshakeFor returns the published public keys for a and b, if both are known.
func (s *KMSBackedStore) HandshakeFor(_ context.Context, a, b string) ([]byte, []byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pubA, okA := s.pub[a]
	pubB, okB := s.pub[b]
	if !okA || !okB {
		return nil, nil, false, nil
	}
	outA := append([]byte(nil), pubA[:]...)
	outB := append([]byte(nil), pubB[:]...)
	return outA, outB, true, nil
}

// Rotate re-wraps the store's channel private key under the manager's
// current active key version, called after an operator rotates the
// underlying KMS key.
func (s *KMSBackedStore) Rotate(ctx context.Context, metadata map[string]string) error {
	s.mu.Lock()
	envelope := s.envelope
	s.mu.Unlock()

	plaintext, err := s.manager.UnwrapKey(ctx, envelope, nil)
	if err != nil {
		return fmt.Errorf("keystore: kms: rotate: unwrap: %w", err)
	}
	newEnvelope, err := s.manager.WrapKey(ctx, plaintext, metadata)
	if err != nil {
		return fmt.Errorf("keystore: kms: rotate: wrap: %w", err)
	}

	s.mu.Lock()
	s.envelope = newEnvelope
	s.mu.Unlock()
	return nil
}
