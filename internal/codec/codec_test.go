package codec

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/postfiat/memopipe/internal/keystore"
	"github.com/postfiat/memopipe/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

// basepointMul derives the X25519 public key for a private key, used only
// to build matching keypairs for the encrypted round-trip tests.
func basepointMul(t *testing.T, priv [32]byte) [32]byte {
	t.Helper()
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	require.NoError(t, err)
	var pub [32]byte
	copy(pub[:], p)
	return pub
}

func buildGroup(t *testing.T, fragments []EncodedMemo, source, destination string, base time.Time) *model.MemoGroup {
	t.Helper()
	var group *model.MemoGroup
	for i, f := range fragments {
		data, err := HexDecode(f.MemoData)
		require.NoError(t, err)
		structure := ParseFormat(f.MemoFormat, f.MemoType)
		require.True(t, structure.IsValidFormat)

		tx, err := model.NewMemoTx("hash", source, destination, decimal.Zero, decimal.Zero,
			f.MemoType, f.MemoFormat, string(data), base.Add(time.Duration(i)*time.Second), "tesSUCCESS")
		require.NoError(t, err)

		if group == nil {
			group = model.NewMemoGroup(f.MemoType, structure)
		}
		idx := structure.ChunkIndex
		if idx == 0 {
			idx = 1
		}
		group.AddFragment(idx, tx)
	}
	return group
}

func TestEncodeDecodePlaintextRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewInMemoryStore([32]byte{})
	isLocal := func(string) bool { return false }

	params := model.ConstructionParameters{
		Source:      "rAlice",
		Destination: "rBob",
		Payload:     "hello memo pipeline",
	}
	fragments, err := Encode(ctx, params, store, isLocal, time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, fragments, 1)

	group := buildGroup(t, fragments, params.Source, params.Destination, time.Now())
	result := Decode(ctx, group, store, isLocal)
	require.Equal(t, Decoded, result.Outcome)
	require.Equal(t, params.Payload, result.Payload)
	require.False(t, result.Undecrypted)
}

func TestEncodeDecodeCompressedMultiFragment(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewInMemoryStore([32]byte{})
	isLocal := func(string) bool { return false }

	payload := strings.Repeat("the quick brown fox jumps over the lazy dog ", 200)
	params := model.ConstructionParameters{
		Source:         "rAlice",
		Destination:    "rBob",
		Payload:        payload,
		ShouldCompress: true,
	}
	fragments, err := Encode(ctx, params, store, isLocal, time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Greater(t, len(fragments), 1)

	group := buildGroup(t, fragments, params.Source, params.Destination, time.Now())
	result := Decode(ctx, group, store, isLocal)
	require.Equal(t, Decoded, result.Outcome)
	require.Equal(t, payload, result.Payload)
}

func TestEncodeDecodeEncryptedRoundTrip(t *testing.T) {
	ctx := context.Background()

	var channelPriv, counterpartyPriv [32]byte
	copy(channelPriv[:], []byte("channel-private-key-32-bytes!!!"))
	copy(counterpartyPriv[:], []byte("counterparty-priv-key-32-bytes!"))

	channelPub32 := basepointMul(t, channelPriv)
	counterpartyPub32 := basepointMul(t, counterpartyPriv)

	storeA := keystore.NewInMemoryStore(channelPriv) // plays the channel role for node A
	storeA.Register("rNodeA", channelPub32)
	storeA.Register("rNodeB", counterpartyPub32)

	storeB := keystore.NewInMemoryStore(counterpartyPriv) // plays the channel role for node B
	storeB.Register("rNodeA", channelPub32)
	storeB.Register("rNodeB", counterpartyPub32)

	isLocalA := func(addr string) bool { return addr == "rNodeA" }
	isLocalB := func(addr string) bool { return addr == "rNodeB" }

	params := model.ConstructionParameters{
		Source:        "rNodeA",
		Destination:   "rNodeB",
		Payload:       "top secret memo",
		ShouldEncrypt: true,
	}
	fragments, err := Encode(ctx, params, storeA, isLocalA, time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, fragments, 1)

	group := buildGroup(t, fragments, params.Source, params.Destination, time.Now())
	result := Decode(ctx, group, storeB, isLocalB)
	require.Equal(t, Decoded, result.Outcome)
	require.False(t, result.Undecrypted)
	require.Equal(t, params.Payload, result.Payload)
}

func TestEncodeRequiresHandshake(t *testing.T) {
	ctx := context.Background()
	var priv [32]byte
	store := keystore.NewInMemoryStore(priv) // no keys registered
	isLocal := func(string) bool { return false }

	params := model.ConstructionParameters{
		Source:        "rAlice",
		Destination:   "rBob",
		Payload:       "secret",
		ShouldEncrypt: true,
	}
	_, err := Encode(ctx, params, store, isLocal, time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, ErrHandshakeRequired)
}

func TestDecodeUndecryptedWhenHandshakeMissing(t *testing.T) {
	ctx := context.Background()
	var channelPriv, counterpartyPriv [32]byte
	copy(channelPriv[:], []byte("channel-private-key-32-bytes!!!"))
	copy(counterpartyPriv[:], []byte("counterparty-priv-key-32-bytes!"))
	channelPub32 := basepointMul(t, channelPriv)
	counterpartyPub32 := basepointMul(t, counterpartyPriv)

	storeA := keystore.NewInMemoryStore(channelPriv)
	storeA.Register("rNodeA", channelPub32)
	storeA.Register("rNodeB", counterpartyPub32)
	isLocalA := func(addr string) bool { return addr == "rNodeA" }

	params := model.ConstructionParameters{
		Source:        "rNodeA",
		Destination:   "rNodeB",
		Payload:       "secret",
		ShouldEncrypt: true,
	}
	fragments, err := Encode(ctx, params, storeA, isLocalA, time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	group := buildGroup(t, fragments, params.Source, params.Destination, time.Now())

	emptyStore := keystore.NewInMemoryStore(counterpartyPriv) // no counterparty keys published
	isLocalB := func(addr string) bool { return addr == "rNodeB" }
	result := Decode(ctx, group, emptyStore, isLocalB)
	require.Equal(t, Decoded, result.Outcome)
	require.True(t, result.Undecrypted)
	require.NotEqual(t, params.Payload, result.Payload)
}

func TestDecodeSentinelOnTamperedCiphertext(t *testing.T) {
	ctx := context.Background()
	var channelPriv, counterpartyPriv [32]byte
	copy(channelPriv[:], []byte("channel-private-key-32-bytes!!!"))
	copy(counterpartyPriv[:], []byte("counterparty-priv-key-32-bytes!"))
	channelPub32 := basepointMul(t, channelPriv)
	counterpartyPub32 := basepointMul(t, counterpartyPriv)

	storeA := keystore.NewInMemoryStore(channelPriv)
	storeA.Register("rNodeA", channelPub32)
	storeA.Register("rNodeB", counterpartyPub32)
	isLocalA := func(addr string) bool { return addr == "rNodeA" }

	storeB := keystore.NewInMemoryStore(counterpartyPriv)
	storeB.Register("rNodeA", channelPub32)
	storeB.Register("rNodeB", counterpartyPub32)
	isLocalB := func(addr string) bool { return addr == "rNodeB" }

	params := model.ConstructionParameters{
		Source:        "rNodeA",
		Destination:   "rNodeB",
		Payload:       "secret",
		ShouldEncrypt: true,
	}
	fragments, err := Encode(ctx, params, storeA, isLocalA, time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// Tamper with the hex payload so AEAD authentication fails on decrypt.
	tampered := fragments[0]
	data, err := HexDecode(tampered.MemoData)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	tampered.MemoData = HexEncode(data)

	group := buildGroup(t, []EncodedMemo{tampered}, params.Source, params.Destination, time.Now())
	result := Decode(ctx, group, storeB, isLocalB)
	require.Equal(t, Decoded, result.Outcome)
	require.True(t, strings.HasPrefix(result.Payload, decryptionFailedPrefix))
}
