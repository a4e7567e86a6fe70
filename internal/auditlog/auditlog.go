// Package auditlog records inbound and outbound protocol exchanges.
//
// Logging is best-effort by contract: a transaction that succeeded is
// reported as succeeded even when its audit record could not be
// written. Failures go to the structured log instead of the caller.
package auditlog

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-punchout/internal/storage"
)

// maxPayloadBytes caps stored payloads so a large cart cannot bloat the
// audit collection.
const maxPayloadBytes = 256 * 1024

// sensitive header names, lowercased
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-admin-key":         true,
}

// Logger appends transaction records to the log store
type Logger struct {
	store  storage.LogStore
	logger *slog.Logger
}

// New creates an audit logger
func New(store storage.LogStore, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: store, logger: logger}
}

// Entry describes one exchange to record
type Entry struct {
	Direction storage.Direction
	Protocol  storage.ProtocolType
	BuyerID   string
	Endpoint  string
	Status    int
	Payload   []byte
	Headers   http.Header
}

// Record writes one audit entry. Errors are logged and swallowed.
func (l *Logger) Record(ctx context.Context, entry Entry) {
	payload := entry.Payload
	if len(payload) > maxPayloadBytes {
		payload = payload[:maxPayloadBytes]
	}

	record := &storage.LogEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Direction: entry.Direction,
		Protocol:  entry.Protocol,
		BuyerID:   entry.BuyerID,
		Endpoint:  entry.Endpoint,
		Status:    entry.Status,
		Payload:   string(payload),
		Headers:   sanitizeHeaders(entry.Headers),
	}

	if err := l.store.AppendLog(ctx, record); err != nil {
		l.logger.Error("appending audit log",
			"endpoint", entry.Endpoint,
			"buyer", entry.BuyerID,
			"error", err,
		)
	}
}

// sanitizeHeaders flattens headers to single values and strips
// credential-bearing ones before storage.
func sanitizeHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if sensitiveHeaders[strings.ToLower(name)] {
			continue
		}
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}
