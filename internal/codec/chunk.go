package codec

import (
	"encoding/hex"
	"fmt"

	"github.com/postfiat/memopipe/internal/model"
)

// chunkLabelOverhead reserves room for the worst-case chunk token the
// format string can carry, "c999/999" padded to the historical
// "chunk_999__" label width (11 chars) this budget was originally
// measured against, hex-encoded.
const chunkLabelOverhead = len("chunk_999__")

// DataBudget returns the number of raw payload bytes that fit in one
// fragment's memo_data field once memo_type, the format string, and
// structural overhead are accounted for, all reserved at their
// hex-encoded (2x) width.
func DataBudget(memoType, formatTemplate string, maxSize int) (int, error) {
	hexOverhead := 2 * (len(memoType) + len(formatTemplate) + model.XRPMemoStructuralOverhead + chunkLabelOverhead)
	budget := maxSize - hexOverhead
	if budget <= 0 {
		return 0, fmt.Errorf("%w: max_size=%d overhead=%d", ErrDataBudgetExhausted, maxSize, hexOverhead)
	}
	// The payload itself is also hex-encoded at the wire boundary, so the
	// usable plaintext budget is half the remaining byte allowance.
	return budget / 2, nil
}

// Fragment is one chunk of a payload, ready to be wrapped into a MemoTx.
type Fragment struct {
	Index int // 1-based
	Total int
	Data  []byte
}

// Chunk splits payload into fragments of at most dataBudget raw bytes
// each, on byte boundaries (not UTF-8 codepoint boundaries); the last
// fragment absorbs any remainder. A zero-length payload still yields one
// empty fragment so every encoding produces at least one memo.
func Chunk(payload []byte, dataBudget int) ([]Fragment, error) {
	if dataBudget <= 0 {
		return nil, fmt.Errorf("%w: non-positive data budget", ErrDataBudgetExhausted)
	}

	total := (len(payload) + dataBudget - 1) / dataBudget
	if total < 1 {
		total = 1
	}

	fragments := make([]Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * dataBudget
		end := start + dataBudget
		if end > len(payload) {
			end = len(payload)
		}
		fragments = append(fragments, Fragment{
			Index: i + 1,
			Total: total,
			Data:  payload[start:end],
		})
	}
	return fragments, nil
}

// HexEncode renders a fragment's data as a hex string for the wire.
func HexEncode(data []byte) string {
	return hex.EncodeToString(data)
}

// HexDecode reverses HexEncode.
func HexDecode(s string) ([]byte, error) {
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("codec: hex decode: %w", err)
	}
	return out, nil
}
