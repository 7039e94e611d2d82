package model

import "time"

// Process-wide constants, unchanged from the spec's external-interface
// section. These are the only magic numbers the pipeline depends on.
const (
	// MemoVersion is the format string's version token.
	MemoVersion = "1"

	// MaxChunkSize is the maximum byte size of one memo's hex-encoded envelope.
	MaxChunkSize = 1024

	// XRPMemoStructuralOverhead accounts for the ledger's fixed per-memo
	// serialization overhead beyond the three hex fields themselves.
	XRPMemoStructuralOverhead = 40

	// StaleGroupTimeout is how long a group may sit without a new fragment
	// before it is dropped, outside of sync mode.
	StaleGroupTimeout = 600 * time.Second

	// RetryDelay is the initial delay before the first re-review poll.
	RetryDelay = 5 * time.Second

	// MaxRetryCount caps the number of re-review polls before a pending
	// response is abandoned.
	MaxRetryCount = 10

	// IdleLogInterval bounds how often a response processor logs its idle
	// dequeue timeouts.
	IdleLogInterval = time.Hour

	// CountLogInterval is how many responses a processor sends between
	// progress log lines.
	CountLogInterval = 10

	// DequeueTimeout bounds how long a response processor blocks waiting
	// for its next queued request before checking idle/shutdown state.
	DequeueTimeout = time.Second

	// LedgerTimeout is a maximum gap between ledgerClosed events. No code
	// in this module reads it: there is no ledger watchdog, and a stalled
	// subscription is not detected or reconnected.
	LedgerTimeout = 30 * time.Second

	// CheckInterval is a polling period paired with LedgerTimeout. No code
	// in this module reads it.
	CheckInterval = 4 * time.Second
)
