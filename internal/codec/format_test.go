package codec

import (
	"testing"

	"github.com/postfiat/memopipe/internal/model"
	"github.com/stretchr/testify/require"
)

func TestFormatStringRoundTrip(t *testing.T) {
	cases := []model.MemoStructure{
		{Version: model.MemoVersion, Encryption: model.EncryptionNone, Compression: model.CompressionNone},
		{Version: model.MemoVersion, Encryption: model.EncryptionECDH, Compression: model.CompressionBrotli, ChunkIndex: 2, ChunkTotal: 5},
		{Version: model.MemoVersion, Encryption: model.EncryptionNone, Compression: model.CompressionBrotli, ChunkIndex: 1, ChunkTotal: 1},
	}
	for _, s := range cases {
		rendered := FormatString(s)
		parsed := ParseFormat(rendered, "G1")
		require.True(t, parsed.IsValidFormat, rendered)
		require.Equal(t, s.Encryption, parsed.Encryption)
		require.Equal(t, s.Compression, parsed.Compression)
		require.Equal(t, s.ChunkIndex, parsed.ChunkIndex)
		require.Equal(t, s.ChunkTotal, parsed.ChunkTotal)
	}
}

func TestParseFormatPlaintextSingleFragment(t *testing.T) {
	parsed := ParseFormat("v1.-.-.c1/1", "G1")
	require.True(t, parsed.IsValidFormat)
	require.Equal(t, model.EncryptionNone, parsed.Encryption)
	require.Equal(t, model.CompressionNone, parsed.Compression)
	require.Equal(t, 1, parsed.ChunkIndex)
	require.Equal(t, 1, parsed.ChunkTotal)
}

func TestParseFormatRejectsDeviations(t *testing.T) {
	badInputs := []string{
		"v1.-.-",          // too few tokens
		"v1.-.-.-.-",      // too many tokens
		"v2.-.-.-",        // wrong version
		"v1.x.-.-",        // invalid encryption tag
		"v1.-.x.-",        // invalid compression tag
		"v1.-.-.c0/5",     // index below 1
		"v1.-.-.c6/5",     // index above total
		"v1.-.-.chunk1of5", // malformed chunk token
	}
	for _, in := range badInputs {
		parsed := ParseFormat(in, "G1")
		require.False(t, parsed.IsValidFormat, in)
	}
}
