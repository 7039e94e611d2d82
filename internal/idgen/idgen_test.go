package idgen

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGroupIDFormat(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 5, 0, 0, time.UTC)
	id, err := GroupID(now)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^2026-07-31_12:05__[A-Z]{2}[0-9]{2}$`), id)
}

func TestGroupIDVaries(t *testing.T) {
	now := time.Now()
	a, err := GroupID(now)
	require.NoError(t, err)
	b, err := GroupID(now)
	require.NoError(t, err)
	require.NotEqual(t, a, b, "two calls should not collide on the random suffix in practice")
}
