package repo

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/postfiat/memopipe/internal/model"
)

// Bucket layout adapted from the rubin-protocol example's node/store/db.go
// (bucket-per-entity, Update/View transactions): one bucket holds every
// ingested transaction keyed by hash, one holds every reviewing result
// keyed by hash, and one is a secondary index of every inserted hash
// ordered by ledger close time, keyed by a sortable time-then-hash
// composite. Index entries are not removed once a hash is reviewed:
// GetUnprocessedTransactions walks the whole index in time order and
// skips hashes that already have a reviewing result.
var (
	bucketTransactions    = []byte("transactions")
	bucketReviewingResults = []byte("reviewing_results")
	bucketUnprocessedIndex = []byte("unprocessed_index")
)

// BoltStore is a Repository backed by a single bbolt file, suitable for
// standalone/daemon deployments that do not run a separate database.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if necessary) a bbolt-backed repository
// at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("repo: open bbolt: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTransactions, bucketReviewingResults, bucketUnprocessedIndex} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("repo: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func unprocessedIndexKey(ts time.Time, hash string) []byte {
	key := make([]byte, 8+len(hash))
	binary.BigEndian.PutUint64(key[:8], uint64(ts.UnixNano()))
	copy(key[8:], hash)
	return key
}

func (s *BoltStore) InsertTransaction(_ context.Context, tx model.MemoTx) error {
	encoded, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("repo: encode transaction: %w", err)
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		if err := btx.Bucket(bucketTransactions).Put([]byte(tx.Hash), encoded); err != nil {
			return err
		}
		return btx.Bucket(bucketUnprocessedIndex).Put(unprocessedIndexKey(tx.Timestamp, tx.Hash), []byte(tx.Hash))
	})
}

func (s *BoltStore) GetDecodedTransaction(_ context.Context, hash string) (model.MemoTx, bool, error) {
	var tx model.MemoTx
	var found bool
	err := s.db.View(func(btx *bolt.Tx) error {
		if v := btx.Bucket(bucketReviewingResults).Get([]byte(hash)); v != nil {
			var result model.ReviewingResult
			if err := json.Unmarshal(v, &result); err != nil {
				return fmt.Errorf("repo: decode reviewing result: %w", err)
			}
			tx, found = result.Tx, true
			return nil
		}
		if v := btx.Bucket(bucketTransactions).Get([]byte(hash)); v != nil {
			if err := json.Unmarshal(v, &tx); err != nil {
				return fmt.Errorf("repo: decode transaction: %w", err)
			}
			found = true
		}
		return nil
	})
	return tx, found, err
}

func (s *BoltStore) GetDecodedMemoWithProcessing(_ context.Context, hash string) (model.ReviewingResult, bool, error) {
	var result model.ReviewingResult
	var found bool
	err := s.db.View(func(btx *bolt.Tx) error {
		v := btx.Bucket(bucketReviewingResults).Get([]byte(hash))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &result); err != nil {
			return fmt.Errorf("repo: decode reviewing result: %w", err)
		}
		found = true
		return nil
	})
	return result, found, err
}

func (s *BoltStore) GetUnprocessedTransactions(_ context.Context, order string, limit int, includeProcessed bool) ([]model.MemoTx, error) {
	var out []model.MemoTx
	err := s.db.View(func(btx *bolt.Tx) error {
		index := btx.Bucket(bucketUnprocessedIndex)
		results := btx.Bucket(bucketReviewingResults)
		transactions := btx.Bucket(bucketTransactions)

		c := index.Cursor()
		step := func(k, v []byte) ([]byte, []byte) { return c.Next() }
		k, v := c.First()
		if order == "desc" {
			step = func(k, v []byte) ([]byte, []byte) { return c.Prev() }
			k, v = c.Last()
		}

		for ; k != nil; k, v = step(k, v) {
			hash := string(v)
			if !includeProcessed {
				if results.Get([]byte(hash)) != nil {
					continue
				}
			}
			raw := transactions.Get([]byte(hash))
			if raw == nil {
				continue
			}
			var tx model.MemoTx
			if err := json.Unmarshal(raw, &tx); err != nil {
				return fmt.Errorf("repo: decode transaction: %w", err)
			}
			out = append(out, tx)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) StoreReviewingResult(_ context.Context, result model.ReviewingResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("repo: encode reviewing result: %w", err)
	}
	txEncoded, err := json.Marshal(result.Tx)
	if err != nil {
		return fmt.Errorf("repo: encode transaction: %w", err)
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		if err := btx.Bucket(bucketReviewingResults).Put([]byte(result.Tx.Hash), encoded); err != nil {
			return err
		}
		return btx.Bucket(bucketTransactions).Put([]byte(result.Tx.Hash), txEncoded)
	})
}

func (s *BoltStore) ExecuteQuery(_ context.Context, sql string, params []any) ([]model.MemoTx, error) {
	pred, ok := queryPredicates[sql]
	if !ok {
		return nil, nil
	}

	var out []model.MemoTx
	err := s.db.View(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketTransactions).ForEach(func(_, v []byte) error {
			var tx model.MemoTx
			if err := json.Unmarshal(v, &tx); err != nil {
				return fmt.Errorf("repo: decode transaction: %w", err)
			}
			if pred(tx, params) {
				out = append(out, tx)
			}
			return nil
		})
	})
	return out, err
}
