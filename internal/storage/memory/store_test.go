package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-punchout/internal/storage"
)

func TestRemoveSessionIsSingleArbiter(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, &storage.Session{
		SID: "sid-1", BuyerID: "acme",
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}))

	require.NoError(t, store.RemoveSession(ctx, "sid-1"))
	assert.ErrorIs(t, store.RemoveSession(ctx, "sid-1"), storage.ErrNotFound)
}

func TestCreateSessionDuplicateSID(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	session := &storage.Session{SID: "sid-1", BuyerID: "acme", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.CreateSession(ctx, session))
	assert.Error(t, store.CreateSession(ctx, session))
}

func TestGetReturnsNilForAbsent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	buyer, err := store.GetBuyer(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, buyer)

	session, err := store.GetSession(ctx, "no-sid")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestListExpiredSessions(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.CreateSession(ctx, &storage.Session{
		SID: "live", ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, store.CreateSession(ctx, &storage.Session{
		SID: "dead", ExpiresAt: now.Add(-time.Minute),
	}))

	expired, err := store.ListExpiredSessions(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "dead", expired[0].SID)
}

func TestTouchBuyer(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateBuyer(ctx, &storage.Buyer{BuyerID: "acme"}))

	at := time.Now().Add(time.Minute)
	require.NoError(t, store.TouchBuyer(ctx, "acme", at))

	buyer, err := store.GetBuyer(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, buyer.LastActivity.Equal(at))
}

func TestPurgeLogs(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.AppendLog(ctx, &storage.LogEntry{ID: "old", Timestamp: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.AppendLog(ctx, &storage.LogEntry{ID: "new", Timestamp: now}))

	purged, err := store.PurgeLogs(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	entries, err := store.ListLogs(ctx, &storage.LogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].ID)
}

func TestListBuyersFilters(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateBuyer(ctx, &storage.Buyer{
		BuyerID: "cxml-1", Protocol: storage.ProtocolCXML, Active: true,
	}))
	require.NoError(t, store.CreateBuyer(ctx, &storage.Buyer{
		BuyerID: "oci-1", Protocol: storage.ProtocolOCI, Active: true,
	}))
	require.NoError(t, store.CreateBuyer(ctx, &storage.Buyer{
		BuyerID: "cxml-2", Protocol: storage.ProtocolCXML, Active: false,
	}))

	active := true
	buyers, err := store.ListBuyers(ctx, &storage.BuyerFilter{
		Protocol: storage.ProtocolCXML,
		Active:   &active,
	})
	require.NoError(t, err)
	require.Len(t, buyers, 1)
	assert.Equal(t, "cxml-1", buyers[0].BuyerID)

	count, err := store.CountBuyers(ctx, &storage.BuyerFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestCopyOnReadIsolation(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateBuyer(ctx, &storage.Buyer{BuyerID: "acme", PricingTier: "standard"}))

	first, err := store.GetBuyer(ctx, "acme")
	require.NoError(t, err)
	first.PricingTier = "mutated"

	second, err := store.GetBuyer(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "standard", second.PricingTier)
}
