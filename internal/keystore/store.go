// Package keystore provides the key-material store contract (ECDH
// handshake lookup, shared-secret derivation) consumed by the memo
// codec's encryption step, plus a KeyManager envelope abstraction for
// wrapping the channel's private key behind an external KMS.
package keystore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"golang.org/x/crypto/curve25519"
)

// Role distinguishes which side of a handshake a local key plays.
type Role int

const (
	RoleChannel Role = iota
	RoleCounterparty
)

// Store is the key-material store contract consumed by the codec: it
// yields ECDH shared secrets by key-role and counterparty public key,
// and resolves the published handshake between two addresses.
type Store interface {
	// SharedSecret derives the shared secret between the local key
	// playing role and the given counterparty public key.
	SharedSecret(ctx context.Context, receivedKey []byte, role Role) ([]byte, error)

	// HandshakeFor returns the published ECDH public keys for addresses a
	// and b. ok is false if either side has not published a key yet.
	HandshakeFor(ctx context.Context, a, b string) (pubA, pubB []byte, ok bool, err error)
}

// InMemoryStore is a Store backed by a fixed set of per-address X25519
// key pairs, suitable for tests and for single-node deployments that do
// not need an external KMS. One local key pair is designated the channel
// key; all others are published counterparty keys.
type InMemoryStore struct {
	mu          sync.RWMutex
	channelPriv [32]byte
	pub         map[string][32]byte // address -> published public key
}

// NewInMemoryStore builds a store whose local channel identity uses
// channelPriv. Register published counterparty keys with Register.
func NewInMemoryStore(channelPriv [32]byte) *InMemoryStore {
	return &InMemoryStore{
		channelPriv: channelPriv,
		pub:         make(map[string][32]byte),
	}
}

// Register publishes address's public key, as seen by HandshakeFor.
func (s *InMemoryStore) Register(address string, pub [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pub[address] = pub
}

// SharedSecret derives X25519(channelPriv, receivedKey) for RoleChannel;
// RoleCounterparty is not derivable locally (the store only holds one
// local identity) and returns an error.
func (s *InMemoryStore) SharedSecret(_ context.Context, receivedKey []byte, role Role) ([]byte, error) {
	if role != RoleChannel {
		return nil, fmt.Errorf("keystore: store holds no local key for role %v", role)
	}
	if len(receivedKey) != 32 {
		return nil, fmt.Errorf("keystore: received key must be 32 bytes, got %d", len(receivedKey))
	}
	var remote [32]byte
	copy(remote[:], receivedKey)
	return DeriveSharedSecret(s.channelPriv, remote)
}

// HandshakeFor returns the published public keys for a and b, if both
// are known.
func (s *InMemoryStore) HandshakeFor(_ context.Context, a, b string) ([]byte, []byte, bool, error) {
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

// DeriveSharedSecret computes the X25519 shared secret between a local
// private key and a counterparty's public key, then runs it through
// SHA-256 to produce a fixed-width symmetric key suitable for the memo
// codec's AEAD cipher.
func DeriveSharedSecret(localPriv, remotePub [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(localPriv[:], remotePub[:])
	if err != nil {
		return nil, fmt.Errorf("keystore: ecdh: %w", err)
	}
	digest := sha256.Sum256(shared)
	return digest[:], nil
}

// ChannelRole determines which party plays the "channel" for a given
// transaction, per the codec's decode-path rule: if the destination is a
// known local channel address, that address is the channel and the
// source is the counterparty; otherwise the channel is the source
// (outbound message).
func ChannelRole(source, destination string, isLocalChannel func(address string) bool) (channel, counterparty string) {
	if isLocalChannel(destination) {
		return destination, source
	}
	return source, destination
}
