package auditlog

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-punchout/internal/storage"
	"github.com/sirosfoundation/go-punchout/internal/storage/memory"
)

func TestRecordStripsSensitiveHeaders(t *testing.T) {
	store := memory.NewStore()
	logger := New(store, nil)
	ctx := context.Background()

	headers := http.Header{}
	headers.Set("Content-Type", "text/xml")
	headers.Set("Authorization", "Basic c2VjcmV0")
	headers.Set("Cookie", "session=abc")
	headers.Set("X-Admin-Key", "admin-secret")

	logger.Record(ctx, Entry{
		Direction: storage.DirectionInbound,
		Protocol:  storage.ProtocolCXML,
		BuyerID:   "acme",
		Endpoint:  "/punchout/cxml/setup",
		Status:    200,
		Payload:   []byte("<cXML/>"),
		Headers:   headers,
	})

	entries, err := store.ListLogs(ctx, &storage.LogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "acme", entry.BuyerID)
	assert.Equal(t, "<cXML/>", entry.Payload)
	assert.Equal(t, "text/xml", entry.Headers["Content-Type"])
	assert.NotContains(t, entry.Headers, "Authorization")
	assert.NotContains(t, entry.Headers, "Cookie")
	assert.NotContains(t, entry.Headers, "X-Admin-Key")
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestRecordTruncatesLargePayload(t *testing.T) {
	store := memory.NewStore()
	logger := New(store, nil)
	ctx := context.Background()

	huge := make([]byte, maxPayloadBytes+100)
	for i := range huge {
		huge[i] = 'x'
	}
	logger.Record(ctx, Entry{
		Direction: storage.DirectionOutbound,
		Protocol:  storage.ProtocolOCI,
		Endpoint:  "https://buyer.example/hook",
		Status:    200,
		Payload:   huge,
	})

	entries, err := store.ListLogs(ctx, &storage.LogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Payload, maxPayloadBytes)
}
