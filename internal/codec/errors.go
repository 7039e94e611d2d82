// Package codec implements the memo encode/decode pipeline: brotli+base64
// compression, size calculation and chunking, the self-describing format
// string, and the encrypt/compress/chunk/hex composition described in
// spec section 4.
package codec

import "errors"

// Sentinel errors forming the error taxonomy. Every caller wraps these
// with context via fmt.Errorf("...: %w", err) rather than introducing a
// bespoke error type per failure site.
var (
	// ErrInvalidFormat is returned when a format string does not parse,
	// or fragments within a group are structurally inconsistent.
	ErrInvalidFormat = errors.New("codec: invalid format")

	// ErrCompression is returned when brotli/base64 decode fails even
	// after the lenient retry ladder.
	ErrCompression = errors.New("codec: compression error")

	// ErrHandshakeRequired is returned when encryption is requested but
	// one party's published ECDH key is unknown.
	ErrHandshakeRequired = errors.New("codec: handshake required")

	// ErrDataBudgetExhausted is returned when the per-memo byte budget
	// cannot accommodate even the structural overhead.
	ErrDataBudgetExhausted = errors.New("codec: data budget exhausted")
)

// decryptionFailedPrefix is prepended to ciphertext when decryption
// raises, rather than propagating the error -- per spec this is a
// sentinel payload, not a thrown error.
const decryptionFailedPrefix = "[Decryption Failed] "
