package keystore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

func genKeyPair(t *testing.T, seed byte) (priv, pub [32]byte) {
	t.Helper()
	for i := range priv {
		priv[i] = seed + byte(i)
	}
	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	require.NoError(t, err)
	copy(pub[:], pubSlice)
	return priv, pub
}

func TestKMSBackedStoreDerivesSameSecretAsInMemoryStore(t *testing.T) {
	ctx := context.Background()
	channelPriv, _ := genKeyPair(t, 1)
	_, counterpartyPub := genKeyPair(t, 2)

	var master [32]byte
	for i := range master {
		master[i] = byte(i)
	}
	manager := NewLocalManager(master)

	kmsStore, err := NewKMSBackedStore(ctx, manager, channelPriv, nil)
	require.NoError(t, err)

	plainStore := NewInMemoryStore(channelPriv)

	kmsSecret, err := kmsStore.SharedSecret(ctx, counterpartyPub[:], RoleChannel)
	require.NoError(t, err)

	plainSecret, err := plainStore.SharedSecret(ctx, counterpartyPub[:], RoleChannel)
	require.NoError(t, err)

	assert.Equal(t, plainSecret, kmsSecret)
}

func TestKMSBackedStoreRotateReturnsSameSecret(t *testing.T) {
	ctx := context.Background()
	channelPriv, _ := genKeyPair(t, 3)
	_, counterpartyPub := genKeyPair(t, 4)

	var master [32]byte
	manager := NewLocalManager(master)

	store, err := NewKMSBackedStore(ctx, manager, channelPriv, nil)
	require.NoError(t, err)

	before, err := store.SharedSecret(ctx, counterpartyPub[:], RoleChannel)
	require.NoError(t, err)

	require.NoError(t, store.Rotate(ctx, nil))

	after, err := store.SharedSecret(ctx, counterpartyPub[:], RoleChannel)
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestKMSBackedStoreRejectsNonChannelRole(t *testing.T) {
	ctx := context.Background()
	channelPriv, _ := genKeyPair(t, 5)

	var master [32]byte
	manager := NewLocalManager(master)
	store, err := NewKMSBackedStore(ctx, manager, channelPriv, nil)
	require.NoError(t, err)

	_, err = store.SharedSecret(ctx, make([]byte, 32), RoleCounterparty)
	assert.Error(t, err)
}

func TestKMSBackedStoreHandshakeFor(t *testing.T) {
	ctx := context.Background()
	channelPriv, _ := genKeyPair(t, 6)
	_, pubA := genKeyPair(t, 7)
	_, pubB := genKeyPair(t, 8)

	var master [32]byte
	manager := NewLocalManager(master)
	store, err := NewKMSBackedStore(ctx, manager, channelPriv, nil)
	require.NoError(t, err)

	_, _, ok, err := store.HandshakeFor(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	store.Register("alice", pubA)
	store.Register("bob", pubB)

	gotA, gotB, ok, err := store.HandshakeFor(ctx, "alice", "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pubA[:], gotA)
	assert.Equal(t, pubB[:], gotB)
}
