package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkReassemblesInOrder(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 50)
	budget, err := DataBudget("G1", "v1.-.-.c999/999", 200)
	require.NoError(t, err)

	fragments, err := Chunk(payload, budget)
	require.NoError(t, err)
	require.NotEmpty(t, fragments)

	var reassembled []byte
	for _, f := range fragments {
		require.LessOrEqual(t, len(f.Data), budget)
		reassembled = append(reassembled, f.Data...)
	}
	require.Equal(t, payload, reassembled)
}

func TestChunkEmptyPayloadYieldsOneFragment(t *testing.T) {
	fragments, err := Chunk(nil, 64)
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	require.Equal(t, 1, fragments[0].Index)
	require.Equal(t, 1, fragments[0].Total)
	require.Empty(t, fragments[0].Data)
}

func TestDataBudgetExhausted(t *testing.T) {
	_, err := DataBudget("G1", "v1.-.-.c999/999", 10)
	require.ErrorIs(t, err, ErrDataBudgetExhausted)
}

func TestChunkFragmentCountMatchesCeilDivision(t *testing.T) {
	payload := make([]byte, 25)
	fragments, err := Chunk(payload, 10)
	require.NoError(t, err)
	require.Len(t, fragments, 3) // ceil(25/10) = 3
	require.Len(t, fragments[2].Data, 5)
}
