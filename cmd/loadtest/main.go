// Command loadtest hammers an in-memory ledger fake with
// concurrent encode/submit/decode cycles to exercise the memo codec and
// ledger client under load, reporting latency percentiles for each stage.
// It mirrors the teacher's load test runner's worker/QPS/duration shape
// but drives the memo pipeline instead of S3 object operations.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"

	"github.com/postfiat/memopipe/internal/codec"
	"github.com/postfiat/memopipe/internal/keystore"
	"github.com/postfiat/memopipe/internal/ledger"
	"github.com/postfiat/memopipe/internal/model"
)

type cycleResult struct {
	encodeDuration time.Duration
	submitDuration time.Duration
	decodeDuration time.Duration
	err            error
}

func main() {
	var (
		duration    = flag.Duration("duration", 30*time.Second, "Load test duration")
		workers     = flag.Int("workers", 8, "Number of worker goroutines")
		qps         = flag.Int("qps", 50, "Target cycles per second per worker")
		payloadSize = flag.Int("payload-size", 512, "Plaintext payload size in bytes")
		encrypt     = flag.Bool("encrypt", true, "Exercise the ECDH encrypt/decrypt path")
		compress    = flag.Bool("compress", true, "Exercise the Brotli compress/decompress path")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Warn("received interrupt signal, stopping early")
		cancel()
	}()

	localPriv, localPub := mustKeyPair(1)
	counterpartyPriv, counterpartyPub := mustKeyPair(2)
	_ = counterpartyPriv

	store := keystore.NewInMemoryStore(localPriv)
	store.Register("rLocalChannel", localPub)
	store.Register("rCounterparty", counterpartyPub)
	isLocal := func(addr string) bool { return addr == "rLocalChannel" }

	client := ledger.NewInMemoryClient()
	wallet := ledger.Wallet{Address: "rLocalChannel", Seed: "sLoadTestSeedDoNotUseInProd"}

	fmt.Println("=== Memo Pipeline Load Test ===")
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Workers: %d\n", *workers)
	fmt.Printf("QPS per worker: %d\n", *qps)
	fmt.Printf("Payload size: %d bytes\n", *payloadSize)
	fmt.Printf("Encrypt: %v  Compress: %v\n", *encrypt, *compress)
	fmt.Println()

	results := make(chan cycleResult, 4096)
	var wg sync.WaitGroup
	var attempted, failed int64

	start := time.Now()
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			interval := time.Second / time.Duration(max(1, *qps))
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					atomic.AddInt64(&attempted, 1)
					res := runCycle(ctx, store, isLocal, client, wallet, *payloadSize, *encrypt, *compress)
					if res.err != nil {
						atomic.AddInt64(&failed, 1)
						logger.WithError(res.err).WithField("worker", workerID).Debug("cycle failed")
					}
					select {
					case results <- res:
					default:
					}
				}
			}
		}(w)
	}

	wg.Wait()
	close(results)
	totalDuration := time.Since(start)

	var encodeDurations, submitDurations, decodeDurations []time.Duration
	for res := range results {
		if res.err != nil {
			continue
		}
		encodeDurations = append(encodeDurations, res.encodeDuration)
		submitDurations = append(submitDurations, res.submitDuration)
		decodeDurations = append(decodeDurations, res.decodeDuration)
	}

	fmt.Printf("=== Load Test Complete (Total Time: %v) ===\n", totalDuration)
	fmt.Printf("Attempted: %d  Failed: %d  Succeeded: %d\n", attempted, failed, len(encodeDurations))
	if attempted > 0 {
		fmt.Printf("Throughput: %.1f cycles/sec\n", float64(attempted)/totalDuration.Seconds())
	}
	fmt.Println()
	printLatencyStats("encode", encodeDurations)
	printLatencyStats("submit", submitDurations)
	printLatencyStats("decode", decodeDurations)

	if failed > 0 {
		os.Exit(1)
	}
}

// runCycle encodes a fresh payload, submits every fragment to the ledger
// fake, then reassembles and decodes the group, timing each stage.
func runCycle(ctx context.Context, store keystore.Store, isLocal func(string) bool, client *ledger.InMemoryClient, wallet ledger.Wallet, payloadSize int, encrypt, compress bool) cycleResult {
	payload := randomPayload(payloadSize)
	params := model.ConstructionParameters{
		Source:         wallet.Address,
		Destination:    "rCounterparty",
		Payload:        string(payload),
		Amount:         decimal.NewFromInt(1),
		ShouldEncrypt:  encrypt,
		ShouldCompress: compress,
	}

	encodeStart := time.Now()
	fragments, err := codec.Encode(ctx, params, store, isLocal, time.Now())
	encodeDuration := time.Since(encodeStart)
	if err != nil {
		return cycleResult{err: fmt.Errorf("encode: %w", err)}
	}

	memos := make([]ledger.MemoTriple, len(fragments))
	for i, f := range fragments {
		memos[i] = ledger.MemoTriple{MemoType: f.MemoType, MemoFormat: f.MemoFormat, MemoData: f.MemoData}
	}

	submitStart := time.Now()
	var group *model.MemoGroup
	for i, f := range fragments {
		result, err := client.Submit(ctx, wallet, []ledger.MemoTriple{memos[i]}, params.Destination, params.Amount)
		if err != nil {
			return cycleResult{encodeDuration: encodeDuration, err: fmt.Errorf("submit: %w", err)}
		}
		data, err := codec.HexDecode(f.MemoData)
		if err != nil {
			return cycleResult{encodeDuration: encodeDuration, err: fmt.Errorf("hex decode: %w", err)}
		}
		structure := codec.ParseFormat(f.MemoFormat, f.MemoType)
		tx, err := model.NewMemoTx(result.Hash, params.Source, params.Destination, params.Amount, decimal.Zero,
			f.MemoType, f.MemoFormat, string(data), time.Now(), result.EngineResult)
		if err != nil {
			return cycleResult{encodeDuration: encodeDuration, err: fmt.Errorf("build tx: %w", err)}
		}
		if group == nil {
			group = model.NewMemoGroup(f.MemoType, structure)
		}
		idx := structure.ChunkIndex
		if idx == 0 {
			idx = 1
		}
		group.AddFragment(idx, tx)
	}
	submitDuration := time.Since(submitStart)

	decodeStart := time.Now()
	decoded := codec.Decode(ctx, group, store, isLocal)
	decodeDuration := time.Since(decodeStart)
	if decoded.Outcome != codec.Decoded {
		return cycleResult{encodeDuration: encodeDuration, submitDuration: submitDuration, err: fmt.Errorf("decode: %v", decoded.Err)}
	}
	if decoded.Payload != string(payload) {
		return cycleResult{encodeDuration: encodeDuration, submitDuration: submitDuration, err: fmt.Errorf("decoded payload mismatch")}
	}

	return cycleResult{encodeDuration: encodeDuration, submitDuration: submitDuration, decodeDuration: decodeDuration}
}

func mustKeyPair(seed byte) (priv, pub [32]byte) {
	for i := range priv {
		priv[i] = seed + byte(i)
	}
	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		panic(err)
	}
	copy(pub[:], pubSlice)
	return priv, pub
}

func randomPayload(size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte('a' + rand.Intn(26))
	}
	return buf
}

func printLatencyStats(label string, durations []time.Duration) {
	if len(durations) == 0 {
		fmt.Printf("%s: no samples\n", label)
		return
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	p50 := sorted[len(sorted)*50/100]
	p95 := sorted[min(len(sorted)-1, len(sorted)*95/100)]
	p99 := sorted[min(len(sorted)-1, len(sorted)*99/100)]

	fmt.Printf("%s: n=%d p50=%v p95=%v p99=%v max=%v\n", label, len(sorted), p50, p95, p99, sorted[len(sorted)-1])
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
