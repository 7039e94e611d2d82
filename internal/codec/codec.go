package codec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/postfiat/memopipe/internal/idgen"
	"github.com/postfiat/memopipe/internal/keystore"
	"github.com/postfiat/memopipe/internal/model"
)

// worstCaseFormatTemplate is used only to size the chunk label overhead
// reservation; its literal value never appears on the wire.
const worstCaseFormatTemplate = "v1.e.b.c999/999"

// EncodedMemo is one wire-ready memo triple produced by Encode. It is
// intentionally lighter than model.MemoTx: a hash and result code do not
// exist until the ledger client submits and the transaction lands.
type EncodedMemo struct {
	MemoType   string
	MemoFormat string
	MemoData   string // hex-encoded, ready for the wire
}

// Encode runs the fixed-order encrypt -> compress -> chunk -> hex
// pipeline described in spec section 4.D and returns the ordered
// fragments of one memo group.
func Encode(ctx context.Context, params model.ConstructionParameters, store keystore.Store, isLocalChannel func(string) bool, now time.Time) ([]EncodedMemo, error) {
	groupID := params.MemoType
	if groupID == "" {
		var err error
		groupID, err = idgen.GroupID(now)
		if err != nil {
			return nil, fmt.Errorf("codec: encode: %w", err)
		}
	}

	payload := []byte(params.Payload)
	encTag := model.EncryptionNone

	if params.ShouldEncrypt {
		channel, counterparty := keystore.ChannelRole(params.Source, params.Destination, isLocalChannel)
		_, pubCounterparty, ok, err := store.HandshakeFor(ctx, channel, counterparty)
		if err != nil {
			return nil, fmt.Errorf("codec: encode: handshake lookup: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: no published handshake between %s and %s", ErrHandshakeRequired, channel, counterparty)
		}
		secret, err := store.SharedSecret(ctx, pubCounterparty, keystore.RoleChannel)
		if err != nil {
			return nil, fmt.Errorf("codec: encode: derive shared secret: %w", err)
		}
		sealed, err := encryptPayload(secret, payload)
		if err != nil {
			return nil, fmt.Errorf("codec: encode: %w", err)
		}
		payload = sealed
		encTag = model.EncryptionECDH
	}

	compTag := model.CompressionNone
	if params.ShouldCompress {
		encoded, err := CompressEncode(payload)
		if err != nil {
			return nil, fmt.Errorf("codec: encode: %w", err)
		}
		payload = []byte(encoded)
		compTag = model.CompressionBrotli
	}

	budget, err := DataBudget(groupID, worstCaseFormatTemplate, model.MaxChunkSize)
	if err != nil {
		return nil, err
	}

	fragments, err := Chunk(payload, budget)
	if err != nil {
		return nil, err
	}

	out := make([]EncodedMemo, 0, len(fragments))
	for _, f := range fragments {
		structure := model.MemoStructure{
			Version:     model.MemoVersion,
			Encryption:  encTag,
			Compression: compTag,
			ChunkIndex:  f.Index,
			ChunkTotal:  f.Total,
			GroupID:     groupID,
		}
		out = append(out, EncodedMemo{
			MemoType:   groupID,
			MemoFormat: FormatString(structure),
			MemoData:   HexEncode(f.Data),
		})
	}
	return out, nil
}

// DecodeOutcome tags the result of Decode, replacing the source's
// exceptions-as-control-flow (catching CompressionError to tell legacy
// incompleteness apart from a real failure) with a closed sum type.
type DecodeOutcome int

const (
	Decoded DecodeOutcome = iota
	CompressionIncomplete
	FatalDecodeError
)

// DecodeResult is the outcome of decoding one complete (or
// possibly-incomplete, for legacy groups) memo group.
type DecodeResult struct {
	Outcome     DecodeOutcome
	Payload     string // plaintext, or still-encrypted/sentinel text
	Undecrypted bool   // true if Payload is ciphertext because no handshake was found
	Err         error  // set when Outcome is CompressionIncomplete or FatalDecodeError
}

// Decode reassembles and reverses a group's members in ascending chunk
// order: concatenate, decompress if tagged, decrypt if tagged.
func Decode(ctx context.Context, group *model.MemoGroup, store keystore.Store, isLocalChannel func(string) bool) DecodeResult {
	members := group.OrderedMembers()
	var sb strings.Builder
	for _, m := range members {
		sb.WriteString(m.MemoData)
	}
	payload := []byte(sb.String())

	structure := group.Structure

	if structure.Compression == model.CompressionBrotli {
		decompressed, err := CompressDecode(string(payload))
		if err != nil {
			return DecodeResult{Outcome: CompressionIncomplete, Err: err}
		}
		payload = decompressed
	}

	if structure.Encryption != model.EncryptionECDH {
		return DecodeResult{Outcome: Decoded, Payload: string(payload)}
	}

	if len(members) == 0 {
		return DecodeResult{Outcome: FatalDecodeError, Err: fmt.Errorf("%w: empty group", ErrInvalidFormat)}
	}
	head := members[0]
	channel, counterparty := keystore.ChannelRole(head.Source, head.Destination, isLocalChannel)
	_, pubCounterparty, ok, err := store.HandshakeFor(ctx, channel, counterparty)
	if err != nil {
		return DecodeResult{Outcome: FatalDecodeError, Err: fmt.Errorf("codec: decode: handshake lookup: %w", err)}
	}
	if !ok {
		// Non-fatal: return the still-encrypted payload tagged undecrypted.
		return DecodeResult{Outcome: Decoded, Payload: string(payload), Undecrypted: true}
	}

	secret, err := store.SharedSecret(ctx, pubCounterparty, keystore.RoleChannel)
	if err != nil {
		return DecodeResult{Outcome: FatalDecodeError, Err: fmt.Errorf("codec: decode: derive shared secret: %w", err)}
	}

	plaintext, err := decryptPayload(secret, payload)
	if err != nil {
		return DecodeResult{Outcome: Decoded, Payload: decryptionFailedPrefix + string(payload)}
	}
	return DecodeResult{Outcome: Decoded, Payload: string(plaintext)}
}
