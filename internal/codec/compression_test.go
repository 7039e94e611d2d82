package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("hello"),
		bytes3KB(),
	}
	for _, payload := range cases {
		encoded, err := CompressEncode(payload)
		require.NoError(t, err)
		decoded, err := CompressDecode(encoded)
		require.NoError(t, err)
		require.Equal(t, payload, decoded)
	}
}

func TestCompressDecodeLenientPadding(t *testing.T) {
	payload := []byte("pad-sensitive payload")
	encoded, err := CompressEncode(payload)
	require.NoError(t, err)

	trimmed := trimTrailingPadding(encoded)
	decoded, err := CompressDecode(trimmed)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestCompressDecodeStripsGarbage(t *testing.T) {
	payload := []byte("garbage-tolerant")
	encoded, err := CompressEncode(payload)
	require.NoError(t, err)

	noisy := encoded[:len(encoded)/2] + "!!!\n  " + encoded[len(encoded)/2:]
	// Every injected character is outside the base64 alphabet, so the
	// lenient path strips it and the original string decodes intact.
	decoded, err := CompressDecode(noisy)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestCompressDecodeAllAttemptsFail(t *testing.T) {
	_, err := CompressDecode("not even close to base64 !!! ???")
	require.ErrorIs(t, err, ErrCompression)
}

func trimTrailingPadding(s string) string {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	return s
}

func bytes3KB() []byte {
	out := make([]byte, 3072)
	for i := range out {
		out[i] = byte('a' + i%26)
	}
	return out
}
