// Package audit keeps a durable record of the reviewer's verdicts,
// independent of the (out-of-scope) transaction repository: every
// ReviewingResult, response submission, and re-review outcome can be
// replayed from here even if the repository's own copy is lost.
// Grounded on the teacher's audit.go/sink.go (Logger/EventWriter split,
// in-memory ring buffer, redaction, Sink implementations), repurposed
// from encrypt/decrypt/key-rotation/access events to the memo
// pipeline's reviewing, response, and re-review events.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/postfiat/memopipe/internal/config"
)

// EventType names the kind of pipeline event an AuditEvent records.
type EventType string

const (
	// EventTypeReviewed records a reviewer verdict for one transaction.
	EventTypeReviewed EventType = "reviewed"
	// EventTypeResponseSubmitted records a response processor's submission.
	EventTypeResponseSubmitted EventType = "response_submitted"
	// EventTypeResponseConfirmed records confirm_response_sent being called.
	EventTypeResponseConfirmed EventType = "response_confirmed"
	// EventTypeRereview records a re-review retry outcome (found or retried).
	EventTypeRereview EventType = "rereview"
	// EventTypeDecodeError records a standardized group the codec could not decode.
	EventTypeDecodeError EventType = "decode_error"
)

// AuditEvent is a single durable record of pipeline activity.
type AuditEvent struct {
	Timestamp      time.Time              `json:"timestamp"`
	EventType      EventType              `json:"event_type"`
	Operation      string                 `json:"operation"`
	TxHash         string                 `json:"tx_hash,omitempty"`
	GroupID        string                 `json:"group_id,omitempty"`
	RuleName       string                 `json:"rule_name,omitempty"`
	ResponseTxHash string                 `json:"response_tx_hash,omitempty"`
	RetryCount     int                    `json:"retry_count,omitempty"`
	Success        bool                   `json:"success"`
	Error          string                 `json:"error,omitempty"`
	Duration       time.Duration          `json:"duration_ms"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Logger is the interface for audit logging.
type Logger interface {
	// Log logs a raw audit event.
	Log(event *AuditEvent) error

	// LogReviewed logs a reviewer verdict for one transaction.
	LogReviewed(txHash, groupID, ruleName, responseTxHash string, processed bool, err error, duration time.Duration, metadata map[string]interface{})

	// LogResponseSubmitted logs a response processor's submission of a memo.
	LogResponseSubmitted(requestTxHash, ruleName string, success bool, err error, duration time.Duration)

	// LogResponseConfirmed logs confirm_response_sent for a request.
	LogResponseConfirmed(requestTxHash string)

	// LogRereview logs one re-review poll's outcome for a pending request.
	LogRereview(requestTxHash string, retryCount int, found bool)

	// GetEvents returns all audit events (for testing/querying).
	GetEvents() []*AuditEvent

	// Close closes the logger and its underlying writer.
	Close() error
}

// auditLogger implements the Logger interface.
type auditLogger struct {
	mu         sync.Mutex
	events     []*AuditEvent
	maxEvents  int
	writer     EventWriter
	redactKeys []string
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *AuditEvent) error
}

// NewLogger creates a new audit logger.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	return NewLoggerWithRedaction(maxEvents, writer, nil)
}

// NewLoggerWithRedaction creates a new audit logger with redaction keys.
func NewLoggerWithRedaction(maxEvents int, writer EventWriter, redactKeys []string) Logger {
	if writer == nil {
		writer = &defaultWriter{}
	}

	return &auditLogger{
		events:     make([]*AuditEvent, 0, maxEvents),
		maxEvents:  maxEvents,
		writer:     writer,
		redactKeys: redactKeys,
	}
}

// NewLoggerFromConfig creates a new audit logger from configuration.
func NewLoggerFromConfig(cfg config.AuditConfig) (Logger, error) {
	var writer EventWriter

	switch cfg.Sink.Type {
	case "http":
		writer = NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.Headers)
	case "file":
		writer = NewFileSink(cfg.Sink.FilePath)
	case "s3":
		sink, err := NewS3Sink(cfg.Sink)
		if err != nil {
			return nil, fmt.Errorf("audit: s3 sink: %w", err)
		}
		writer = sink
	case "stdout", "":
		writer = &defaultWriter{}
	default:
		return nil, fmt.Errorf("audit: unknown sink type: %s", cfg.Sink.Type)
	}

	if cfg.Sink.BatchSize > 0 || cfg.Sink.FlushInterval > 0 {
		writer = NewBatchSink(writer, cfg.Sink.BatchSize, cfg.Sink.FlushInterval, cfg.Sink.RetryCount, cfg.Sink.RetryBackoff)
	}

	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 10000
	}
	return NewLoggerWithRedaction(maxEvents, writer, cfg.RedactMetadataKeys), nil
}

// Log logs a raw audit event.
func (l *auditLogger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		// Best-effort: a sink failure never blocks the reviewer.
		_ = l.writer.WriteEvent(event)
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}

	return nil
}

// Close closes the logger and its underlying writer.
func (l *auditLogger) Close() error {
	if closer, ok := l.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// redactMetadata removes sensitive keys from metadata.
func (l *auditLogger) redactMetadata(metadata map[string]interface{}) map[string]interface{} {
	if len(l.redactKeys) == 0 || len(metadata) == 0 {
		return metadata
	}

	needsRedaction := false
	for _, k := range l.redactKeys {
		if _, ok := metadata[k]; ok {
			needsRedaction = true
			break
		}
	}
	if !needsRedaction {
		return metadata
	}

	clone := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}
	for _, key := range l.redactKeys {
		if _, ok := clone[key]; ok {
			clone[key] = "[REDACTED]"
		}
	}
	return clone
}

// LogReviewed logs a reviewer verdict for one transaction.
func (l *auditLogger) LogReviewed(txHash, groupID, ruleName, responseTxHash string, processed bool, err error, duration time.Duration, metadata map[string]interface{}) {
	event := &AuditEvent{
		Timestamp:      time.Now(),
		EventType:      EventTypeReviewed,
		Operation:      "review",
		TxHash:         txHash,
		GroupID:        groupID,
		RuleName:       ruleName,
		ResponseTxHash: responseTxHash,
		Success:        processed,
		Duration:       duration,
		Metadata:       l.redactMetadata(metadata),
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// LogResponseSubmitted logs a response processor's submission of a memo.
func (l *auditLogger) LogResponseSubmitted(requestTxHash, ruleName string, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeResponseSubmitted,
		Operation: "response_submit",
		TxHash:    requestTxHash,
		RuleName:  ruleName,
		Success:   success,
		Duration:  duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// LogResponseConfirmed logs confirm_response_sent for a request.
func (l *auditLogger) LogResponseConfirmed(requestTxHash string) {
	l.Log(&AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeResponseConfirmed,
		Operation: "response_confirmed",
		TxHash:    requestTxHash,
		Success:   true,
	})
}

// LogRereview logs one re-review poll's outcome for a pending request.
func (l *auditLogger) LogRereview(requestTxHash string, retryCount int, found bool) {
	l.Log(&AuditEvent{
		Timestamp:  time.Now(),
		EventType:  EventTypeRereview,
		Operation:  "rereview_poll",
		TxHash:     requestTxHash,
		RetryCount: retryCount,
		Success:    found,
	})
}

// GetEvents returns all audit events (for testing/querying).
func (l *auditLogger) GetEvents() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

// defaultWriter is a default implementation that writes to stdout as JSON.
type defaultWriter struct{}

func (w *defaultWriter) WriteEvent(event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	fmt.Printf("%s\n", string(data))
	return nil
}
