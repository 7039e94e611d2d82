package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerRecordsReviewedEvent(t *testing.T) {
	logger := NewLogger(10, &mockWriter{})

	logger.LogReviewed("HASH1", "G1", "welcome-rule", "", true, nil, 5*time.Millisecond, nil)

	events := logger.GetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeReviewed, events[0].EventType)
	assert.Equal(t, "HASH1", events[0].TxHash)
	assert.True(t, events[0].Success)
}

func TestLoggerRecordsResponseLifecycle(t *testing.T) {
	logger := NewLogger(10, &mockWriter{})

	logger.LogResponseSubmitted("HASH1", "welcome-rule", true, nil, time.Millisecond)
	logger.LogResponseConfirmed("HASH1")
	logger.LogRereview("HASH1", 0, true)

	events := logger.GetEvents()
	require.Len(t, events, 3)
	assert.Equal(t, EventTypeResponseSubmitted, events[0].EventType)
	assert.Equal(t, EventTypeResponseConfirmed, events[1].EventType)
	assert.Equal(t, EventTypeRereview, events[2].EventType)
	assert.True(t, events[2].Success)
}

func TestLoggerRedactsMetadata(t *testing.T) {
	logger := NewLoggerWithRedaction(10, &mockWriter{}, []string{"secret"})

	logger.LogReviewed("HASH1", "G1", "rule", "", true, nil, 0, map[string]interface{}{
		"secret": "shhh",
		"public": "ok",
	})

	events := logger.GetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "[REDACTED]", events[0].Metadata["secret"])
	assert.Equal(t, "ok", events[0].Metadata["public"])
}

func TestLoggerBoundsEventHistory(t *testing.T) {
	logger := NewLogger(2, &mockWriter{})

	logger.LogResponseConfirmed("HASH1")
	logger.LogResponseConfirmed("HASH2")
	logger.LogResponseConfirmed("HASH3")

	events := logger.GetEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "HASH2", events[0].TxHash)
	assert.Equal(t, "HASH3", events[1].TxHash)
}
