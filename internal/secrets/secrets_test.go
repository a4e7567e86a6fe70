package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-punchout/internal/config"
)

func TestEnvStore(t *testing.T) {
	t.Setenv("PUNCHOUT_TEST_SECRET", "s3cret")

	store, err := NewStore(&config.SecretsConfig{Mode: "env"})
	require.NoError(t, err)

	value, err := store.Get("PUNCHOUT_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", value)

	_, err = store.Get("PUNCHOUT_TEST_SECRET_MISSING")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestStaticStore(t *testing.T) {
	store, err := NewStore(&config.SecretsConfig{
		Mode:   "static",
		Static: map[string]string{"acme": "s3cret"},
	})
	require.NoError(t, err)

	value, err := store.Get("acme")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", value)

	_, err = store.Get("other")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestUnknownMode(t *testing.T) {
	_, err := NewStore(&config.SecretsConfig{Mode: "vault"})
	assert.Error(t, err)
}
