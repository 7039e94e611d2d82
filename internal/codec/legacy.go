package codec

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/postfiat/memopipe/internal/keystore"
	"github.com/postfiat/memopipe/internal/model"
)

// LegacyChunkPattern matches the prefix-tagged chunk label carried by
// pre-standardization peers: "chunk_<N>__" at the start of memo_data.
var LegacyChunkPattern = regexp.MustCompile(`^chunk_(\d+)__`)

const (
	legacyCompressedPrefix = "COMPRESSED__"
	legacyWhisperPrefix    = "WHISPER__"
)

// LegacyChunkIndex extracts the 1-based chunk index from a legacy
// fragment's memo_data, or ok=false if it carries no chunk prefix at all
// (a legacy message that was never chunked).
func LegacyChunkIndex(memoData string) (index int, ok bool) {
	m := LegacyChunkPattern.FindStringSubmatch(memoData)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// DecodeLegacy reassembles a legacy-framed group: strip each member's
// chunk_N__ label, concatenate, then strip COMPRESSED__ and WHISPER__ in
// that order per spec section 6. Encoding this format is not a supported
// capability -- legacy framing is read-only.
func DecodeLegacy(ctx context.Context, group *model.MemoGroup, store keystore.Store, isLocalChannel func(string) bool) DecodeResult {
	members := group.OrderedMembers()
	var sb strings.Builder
	for _, m := range members {
		body := LegacyChunkPattern.ReplaceAllString(m.MemoData, "")
		sb.WriteString(body)
	}
	payload := sb.String()

	whisperWrapped := false
	if strings.HasPrefix(payload, legacyCompressedPrefix) {
		decompressed, err := CompressDecode(strings.TrimPrefix(payload, legacyCompressedPrefix))
		if err != nil {
			return DecodeResult{Outcome: CompressionIncomplete, Err: err}
		}
		payload = string(decompressed)
	}
	if strings.HasPrefix(payload, legacyWhisperPrefix) {
		payload = strings.TrimPrefix(payload, legacyWhisperPrefix)
		whisperWrapped = true
	}

	if !whisperWrapped {
		return DecodeResult{Outcome: Decoded, Payload: payload}
	}

	if len(members) == 0 {
		return DecodeResult{Outcome: FatalDecodeError, Err: ErrInvalidFormat}
	}
	head := members[0]
	channel, counterparty := keystore.ChannelRole(head.Source, head.Destination, isLocalChannel)
	_, pubCounterparty, ok, err := store.HandshakeFor(ctx, channel, counterparty)
	if err != nil {
		return DecodeResult{Outcome: FatalDecodeError, Err: err}
	}
	if !ok {
		return DecodeResult{Outcome: Decoded, Payload: payload, Undecrypted: true}
	}
	secret, err := store.SharedSecret(ctx, pubCounterparty, keystore.RoleChannel)
	if err != nil {
		return DecodeResult{Outcome: FatalDecodeError, Err: err}
	}
	plaintext, err := decryptPayload(secret, []byte(payload))
	if err != nil {
		return DecodeResult{Outcome: Decoded, Payload: decryptionFailedPrefix + payload}
	}
	return DecodeResult{Outcome: Decoded, Payload: string(plaintext)}
}
