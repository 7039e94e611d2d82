// Package model holds the data types shared across the memo pipeline:
// ledger transactions, parsed memo structure, fragment groups,
// construction parameters for the encoder, and the rule/pattern
// machinery the reviewer dispatches against.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MemoTx is one ledger memo-bearing transaction. The three memo fields
// are already decoded to text by the time a MemoTx exists; hex-at-rest
// decoding happens at ingest, not here.
type MemoTx struct {
	Hash        string
	Source      string
	Destination string
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	MemoType    string
	MemoFormat  string
	MemoData    string
	Timestamp   time.Time
	ResultCode  string
}

// Succeeded reports whether the ledger accepted this transaction.
func (t MemoTx) Succeeded() bool {
	return t.ResultCode == "tesSUCCESS"
}

// NewMemoTx validates and constructs a MemoTx. The three memo fields are
// required; a transaction missing any of them must be rejected at
// ingest rather than flow into the pipeline half-formed.
func NewMemoTx(hash, source, destination string, amount, fee decimal.Decimal, memoType, memoFormat, memoData string, ts time.Time, resultCode string) (MemoTx, error) {
	if memoType == "" || memoFormat == "" || memoData == "" {
		return MemoTx{}, fmt.Errorf("model: memo fields must be non-empty (type=%q format=%q data_len=%d)", memoType, memoFormat, len(memoData))
	}
	if amount.IsNegative() || fee.IsNegative() {
		return MemoTx{}, fmt.Errorf("model: amounts must be non-negative")
	}
	if ts.IsZero() {
		return MemoTx{}, fmt.Errorf("model: timestamp is required")
	}
	return MemoTx{
		Hash:        hash,
		Source:      source,
		Destination: destination,
		Amount:      amount,
		Fee:         fee,
		MemoType:    memoType,
		MemoFormat:  memoFormat,
		MemoData:    memoData,
		Timestamp:   ts,
		ResultCode:  resultCode,
	}, nil
}

// EncryptionTag is the encryption token of a parsed format string.
type EncryptionTag int

const (
	EncryptionNone EncryptionTag = iota
	EncryptionECDH
)

// CompressionTag is the compression token of a parsed format string.
type CompressionTag int

const (
	CompressionNone CompressionTag = iota
	CompressionBrotli
)

// MemoStructure is the result of parsing a transaction's memo_format.
type MemoStructure struct {
	Version       string
	Encryption    EncryptionTag
	Compression   CompressionTag
	ChunkIndex    int // 1-based; 0 when unchunked
	ChunkTotal    int // 0 when unchunked
	IsValidFormat bool
	GroupID       string // copied from memo_type
}

// IsChunked reports whether this structure carries chunking metadata.
func (s MemoStructure) IsChunked() bool {
	return s.ChunkTotal > 0
}

// ConsistentWith reports whether two structures could belong to the same
// group: same encryption tag, same compression tag, same chunk total.
func (s MemoStructure) ConsistentWith(other MemoStructure) bool {
	return s.Encryption == other.Encryption &&
		s.Compression == other.Compression &&
		s.ChunkTotal == other.ChunkTotal
}

// ConstructionParameters is the input to the encoder. It unifies what the
// original source called MemoConstructionParameters and, in other
// modules, ResponseParameters -- both described the same contract.
type ConstructionParameters struct {
	Source          string
	Destination     string
	MemoType        string // auto-generated if empty
	Payload         string
	Amount          decimal.Decimal
	ShouldEncrypt   bool
	ShouldCompress  bool
}

// PendingResponse tracks a request whose response is being generated or
// awaiting on-ledger confirmation of persistence.
type PendingResponse struct {
	Request    MemoTx
	RetryCount int
	NextRetry  time.Time
}
