// Package ledger declares the contract this pipeline needs from the
// public ledger it rides on top of: a stream of confirmed transactions,
// a way to submit a response transaction carrying memos, and a history
// lookup used for backfill. The ledger client itself is an out-of-scope
// collaborator (spec.md Non-goals); this package is the seam, plus an
// in-memory fake sufficient to exercise the pipeline in tests.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/postfiat/memopipe/internal/model"
)

// Wallet is the minimal signing identity a Submit call needs. The real
// implementation behind this (key custody, transaction signing) lives
// outside this module's scope.
type Wallet struct {
	Address string
	Seed    string
}

// MemoTriple is the three hex-encoded fields XRPL-style ledgers attach
// to a transaction, matching the wire shape internal/codec produces.
type MemoTriple struct {
	MemoType   string
	MemoFormat string
	MemoData   string
}

// SubmitResult reports the outcome of submitting a transaction.
type SubmitResult struct {
	Hash        string
	EngineResult string
	Validated   bool
}

// Event is one item off the subscribed transaction stream.
type Event struct {
	Tx  model.MemoTx
	Err error
}

// Client is the ledger contract this pipeline depends on.
type Client interface {
	// Subscribe streams confirmed transactions touching any of accounts
	// until ctx is cancelled or the connection is irrecoverably lost.
	Subscribe(ctx context.Context, accounts []string) (<-chan Event, error)

	// Submit signs and submits a transaction carrying memos from wallet
	// to destination for amount, returning once the submission is
	// accepted or rejected by the ledger.
	Submit(ctx context.Context, wallet Wallet, memos []MemoTriple, destination string, amount decimal.Decimal) (SubmitResult, error)

	// History returns account's transaction history, oldest first, used
	// for startup backfill.
	History(ctx context.Context, account string) ([]model.MemoTx, error)
}

// InMemoryClient is a Client backed by plain maps, suitable for tests.
// Seed registers pre-existing history for backfill; Publish delivers a
// live event to every active Subscribe call whose account list includes
// it. The two are deliberately separate, matching how a real ledger
// client works: History answers "what happened before now" and
// Subscribe answers "what happens from now on," never both at once.
type InMemoryClient struct {
	mu          sync.Mutex
	history     map[string][]model.MemoTx
	subscribers []subscription
	submitted   []SubmittedCall
	nextHash    int
	submitErr   error
}

type subscription struct {
	accounts map[string]bool
	ch       chan Event
}

// SubmittedCall records one Submit invocation for test assertions.
type SubmittedCall struct {
	Wallet      Wallet
	Memos       []MemoTriple
	Destination string
	Amount      decimal.Decimal
}

// NewInMemoryClient builds an empty fake client.
func NewInMemoryClient() *InMemoryClient {
	return &InMemoryClient{history: make(map[string][]model.MemoTx)}
}

// Seed registers tx as part of account's history, returned by History
// but never replayed on Subscribe.
func (c *InMemoryClient) Seed(account string, tx model.MemoTx) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[account] = append(c.history[account], tx)
}

// Publish delivers tx as a live event to every active subscription
// whose account list includes account.
func (c *InMemoryClient) Publish(account string, tx model.MemoTx) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subscribers {
		if sub.accounts[account] {
			sub.ch <- Event{Tx: tx}
		}
	}
}

// FailSubmitsWith makes every subsequent Submit call return err.
func (c *InMemoryClient) FailSubmitsWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitErr = err
}

func (c *InMemoryClient) Subscribe(ctx context.Context, accounts []string) (<-chan Event, error) {
	accountSet := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		accountSet[a] = true
	}

	ch := make(chan Event, 64)
	c.mu.Lock()
	c.subscribers = append(c.subscribers, subscription{accounts: accountSet, ch: ch})
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
	}()
	return ch, nil
}

func (c *InMemoryClient) Submit(_ context.Context, wallet Wallet, memos []MemoTriple, destination string, amount decimal.Decimal) (SubmitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.submitErr != nil {
		return SubmitResult{}, c.submitErr
	}

	c.nextHash++
	hash := fmt.Sprintf("fake-hash-%d", c.nextHash)
	c.submitted = append(c.submitted, SubmittedCall{Wallet: wallet, Memos: memos, Destination: destination, Amount: amount})
	return SubmitResult{Hash: hash, EngineResult: "tesSUCCESS", Validated: true}, nil
}

func (c *InMemoryClient) History(_ context.Context, account string) ([]model.MemoTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.MemoTx, len(c.history[account]))
	copy(out, c.history[account])
	return out, nil
}

// Submitted returns every Submit call recorded so far, for test
// assertions.
func (c *InMemoryClient) Submitted() []SubmittedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SubmittedCall, len(c.submitted))
	copy(out, c.submitted)
	return out
}
