// Package idgen generates group identifiers for memo groups that the
// caller did not supply one for.
package idgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits  = "0123456789"
)

// GroupID produces an identifier of the form
// "YYYY-MM-DD_HH:MM__<AA><DD>", with two uniformly sampled uppercase
// letters and two uniformly sampled digits, anchored to now.
func GroupID(now time.Time) (string, error) {
	aa, err := randomString(letters, 2)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	dd, err := randomString(digits, 2)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return fmt.Sprintf("%s__%s%s", now.UTC().Format("2006-01-02_15:04"), aa, dd), nil
}

func randomString(alphabet string, n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
