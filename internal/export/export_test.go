package export

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-punchout/internal/storage"
	"github.com/sirosfoundation/go-punchout/internal/storage/memory"
)

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateBuyer(ctx, &storage.Buyer{
		BuyerID:      "acme",
		Protocol:     storage.ProtocolCXML,
		Active:       true,
		LastActivity: now,
	}))
	require.NoError(t, store.CreateSession(ctx, &storage.Session{
		SID: "sid-1", BuyerID: "acme",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, store.CreateSession(ctx, &storage.Session{
		SID: "sid-2", BuyerID: "acme",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, store.CreateCart(ctx, &storage.Cart{
		ID: "cart-1", SID: "sid-1", BuyerID: "acme",
		Protocol: storage.ProtocolCXML,
		Lines:    []storage.LineItem{{SKU: "X1", Name: `Widget, "deluxe"`, Quantity: 3, UnitPrice: 10}},
		Totals:   storage.Totals{Subtotal: "30.00", Total: "30.00", Currency: "USD", ItemCount: 1, TotalQuantity: 3},
		Status:   storage.CartStatusPosted,
		PostedAt: now,
	}))
	require.NoError(t, store.AppendLog(ctx, &storage.LogEntry{
		ID: "log-1", Timestamp: now,
		Direction: storage.DirectionInbound, Protocol: storage.ProtocolCXML,
		BuyerID: "acme", Endpoint: "/punchout/cxml/setup", Status: 200,
		Payload: "<cXML/>",
	}))
	return store
}

func TestExportLogs(t *testing.T) {
	exporter := New(seedStore(t))

	out, err := exporter.Logs(context.Background(), Range{}, "")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Timestamp,Direction,Protocol,Buyer ID,Endpoint,HTTP Status,Payload Size", lines[0])
	assert.Contains(t, lines[1], "in,cxml,acme,/punchout/cxml/setup,200,7")
}

func TestExportCartsQuotesFields(t *testing.T) {
	exporter := New(seedStore(t))

	out, err := exporter.Carts(context.Background(), Range{}, "acme")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "sid-1,acme,cxml,posted,1,3,30.00,30.00,USD")
}

func TestExportCartsRangeExcludes(t *testing.T) {
	exporter := New(seedStore(t))

	past := Range{
		Start: time.Now().Add(-48 * time.Hour),
		End:   time.Now().Add(-24 * time.Hour),
	}
	out, err := exporter.Carts(context.Background(), past, "")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	assert.Len(t, lines, 1) // header only
}

func TestExportAnalytics(t *testing.T) {
	exporter := New(seedStore(t))

	rows, err := exporter.AnalyticsRows(context.Background(), Range{})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "acme", row.BuyerID)
	assert.EqualValues(t, 2, row.SessionCount)
	assert.EqualValues(t, 1, row.CartCount)
	assert.Equal(t, "30.00", row.TotalValue)
	assert.Equal(t, "50.0", row.ConversionRate)

	out, err := exporter.Analytics(context.Background(), Range{})
	require.NoError(t, err)
	assert.Contains(t, string(out), "acme,cxml,true")
	assert.Contains(t, string(out), "2,1,30.00,50.0")
}

func TestFilename(t *testing.T) {
	name := Filename("logs")
	assert.Regexp(t, `^punchout-logs-\d{4}-\d{2}-\d{2}\.csv$`, name)
}
