package keystore

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

func generateKeyPair(t *testing.T) (priv, pub [32]byte) {
	t.Helper()
	_, err := rand.Read(priv[:])
	require.NoError(t, err)
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	require.NoError(t, err)
	copy(pub[:], p)
	return priv, pub
}

func TestHandshakeAndSharedSecretAgree(t *testing.T) {
	ctx := context.Background()

	aPriv, aPub := generateKeyPair(t)
	bPriv, bPub := generateKeyPair(t)

	storeA := NewInMemoryStore(aPriv)
	storeA.Register("A", aPub)
	storeA.Register("B", bPub)

	storeB := NewInMemoryStore(bPriv)
	storeB.Register("A", aPub)
	storeB.Register("B", bPub)

	pubA, pubB, ok, err := storeA.HandshakeFor(ctx, "A", "B")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, aPub[:], pubA)
	require.Equal(t, bPub[:], pubB)

	secretFromA, err := storeA.SharedSecret(ctx, bPub[:], RoleChannel)
	require.NoError(t, err)
	secretFromB, err := storeB.SharedSecret(ctx, aPub[:], RoleChannel)
	require.NoError(t, err)
	require.Equal(t, secretFromA, secretFromB)
}

func TestHandshakeForMissingAddress(t *testing.T) {
	priv, _ := generateKeyPair(t)
	store := NewInMemoryStore(priv)
	_, _, ok, err := store.HandshakeFor(context.Background(), "A", "B")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChannelRole(t *testing.T) {
	isLocal := func(addr string) bool { return addr == "rNodeAddress" }

	channel, counterparty := ChannelRole("rSender", "rNodeAddress", isLocal)
	require.Equal(t, "rNodeAddress", channel)
	require.Equal(t, "rSender", counterparty)

	channel, counterparty = ChannelRole("rNodeAddress", "rOther", isLocal)
	require.Equal(t, "rNodeAddress", channel)
	require.Equal(t, "rOther", counterparty)
}
