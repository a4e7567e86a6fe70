package registry

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-punchout/internal/secrets"
	"github.com/sirosfoundation/go-punchout/internal/storage"
	"github.com/sirosfoundation/go-punchout/internal/storage/memory"
	"github.com/sirosfoundation/go-punchout/pkg/oci"
)

func seedCXMLBuyer(t *testing.T, store storage.BuyerStore) *storage.Buyer {
	t.Helper()
	buyer := &storage.Buyer{
		BuyerID:  "acme",
		Protocol: storage.ProtocolCXML,
		Active:   true,
		Identities: storage.Identities{
			From:   "DUNS-A",
			To:     "DUNS-B",
			Sender: "network-user",
		},
		SharedSecretRef: "acme-secret",
	}
	require.NoError(t, store.CreateBuyer(context.Background(), buyer))
	return buyer
}

func testRegistry(store storage.BuyerStore) *Registry {
	return New(store, secrets.Static(map[string]string{"acme-secret": "s3cret"}), nil)
}

func TestAuthenticateCXML(t *testing.T) {
	store := memory.NewStore()
	seedCXMLBuyer(t, store)
	reg := testRegistry(store)

	buyer, err := reg.AuthenticateCXML(context.Background(), Credentials{
		From: "DUNS-A", To: "DUNS-B", Sender: "network-user", SharedSecret: "s3cret",
	})
	require.NoError(t, err)
	assert.Equal(t, "acme", buyer.BuyerID)
}

func TestAuthenticateCXMLFailuresAreUniform(t *testing.T) {
	store := memory.NewStore()
	seedCXMLBuyer(t, store)
	reg := testRegistry(store)
	ctx := context.Background()

	cases := map[string]Credentials{
		"unknown identity": {From: "nobody", To: "DUNS-B", Sender: "network-user", SharedSecret: "s3cret"},
		"wrong secret":     {From: "DUNS-A", To: "DUNS-B", Sender: "network-user", SharedSecret: "wrong"},
		"partial triple":   {From: "DUNS-A", To: "DUNS-B", Sender: "other", SharedSecret: "s3cret"},
		"empty secret":     {From: "DUNS-A", To: "DUNS-B", Sender: "network-user"},
	}
	for name, creds := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.AuthenticateCXML(ctx, creds)
			assert.ErrorIs(t, err, ErrAuthFailed)
		})
	}
}

func TestAuthenticateCXMLInactiveBuyer(t *testing.T) {
	store := memory.NewStore()
	buyer := seedCXMLBuyer(t, store)
	buyer.Active = false
	require.NoError(t, store.UpdateBuyer(context.Background(), buyer))
	reg := testRegistry(store)

	_, err := reg.AuthenticateCXML(context.Background(), Credentials{
		From: "DUNS-A", To: "DUNS-B", Sender: "network-user", SharedSecret: "s3cret",
	})
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestAuthenticateCXMLAmbiguousTriple(t *testing.T) {
	store := memory.NewStore()
	seedCXMLBuyer(t, store)
	twin := &storage.Buyer{
		BuyerID:  "acme-twin",
		Protocol: storage.ProtocolCXML,
		Active:   true,
		Identities: storage.Identities{
			From: "DUNS-A", To: "DUNS-B", Sender: "network-user",
		},
		SharedSecretRef: "acme-secret",
	}
	require.NoError(t, store.CreateBuyer(context.Background(), twin))
	reg := testRegistry(store)

	// Even the correct secret must not authenticate an ambiguous triple
	_, err := reg.AuthenticateCXML(context.Background(), Credentials{
		From: "DUNS-A", To: "DUNS-B", Sender: "network-user", SharedSecret: "s3cret",
	})
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestAuthenticateCXMLTouchesLastActivity(t *testing.T) {
	store := memory.NewStore()
	seedCXMLBuyer(t, store)
	reg := testRegistry(store)
	ctx := context.Background()

	_, err := reg.AuthenticateCXML(ctx, Credentials{
		From: "DUNS-A", To: "DUNS-B", Sender: "network-user", SharedSecret: "s3cret",
	})
	require.NoError(t, err)

	got, err := store.GetBuyer(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, got.LastActivity.IsZero())
}

func ociParams(t *testing.T, hookURL, username string) *oci.StartParams {
	t.Helper()
	values := url.Values{}
	values.Set("HOOK_URL", hookURL)
	if username != "" {
		values.Set("USERNAME", username)
	}
	params, err := oci.ParseStart(values)
	require.NoError(t, err)
	return params
}

func TestResolveOrCreateOCIFirstContact(t *testing.T) {
	store := memory.NewStore()
	reg := testRegistry(store)
	ctx := context.Background()

	buyer, err := reg.ResolveOrCreateOCI(ctx, ociParams(t, "https://buyer.example/hook", "jdoe"))
	require.NoError(t, err)
	assert.Equal(t, "oci_buyer_example_jdoe", buyer.BuyerID)
	assert.Equal(t, storage.ProtocolOCI, buyer.Protocol)
	assert.Equal(t, "buyer.example", buyer.Identities.HookDomain)
	assert.True(t, buyer.Active)

	// Second contact reuses the record
	again, err := reg.ResolveOrCreateOCI(ctx, ociParams(t, "https://buyer.example/other-hook", "jdoe"))
	require.NoError(t, err)
	assert.Equal(t, buyer.BuyerID, again.BuyerID)

	count, err := store.CountBuyers(ctx, &storage.BuyerFilter{Protocol: storage.ProtocolOCI})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestResolveOrCreateOCIMissingUsername(t *testing.T) {
	reg := testRegistry(memory.NewStore())

	buyer, err := reg.ResolveOrCreateOCI(context.Background(), ociParams(t, "https://buyer.example/hook", ""))
	require.NoError(t, err)
	assert.Equal(t, "oci_buyer_example_unknown", buyer.BuyerID)
}

func TestResolveOrCreateOCIDeactivated(t *testing.T) {
	store := memory.NewStore()
	reg := testRegistry(store)
	ctx := context.Background()

	buyer, err := reg.ResolveOrCreateOCI(ctx, ociParams(t, "https://buyer.example/hook", "jdoe"))
	require.NoError(t, err)

	buyer.Active = false
	require.NoError(t, store.UpdateBuyer(ctx, buyer))

	_, err = reg.ResolveOrCreateOCI(ctx, ociParams(t, "https://buyer.example/hook", "jdoe"))
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "oci_buyer_example_j_doe", sanitizeID("oci_buyer.example_j-doe"))
	assert.Equal(t, "plain_ID_9", sanitizeID("plain_ID_9"))
}
