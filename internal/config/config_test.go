package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  baseUrl: https://punchout.example.com
storage:
  mongodb:
    uri: mongodb://localhost:27017
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "punchout", cfg.Storage.MongoDB.Database)
	assert.Equal(t, "env", cfg.Secrets.Mode)
	assert.Equal(t, time.Hour, cfg.PunchOut.SessionTTL)
	assert.Equal(t, 30*time.Second, cfg.PunchOut.DeliveryTimeout)
	assert.Equal(t, 90, cfg.Retention.LogDays)
	assert.Equal(t, "/metrics", cfg.Metrics.Metrics.Path)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_MONGO_URI", "mongodb://db.internal:27017")
	t.Setenv("TEST_ADMIN_KEY", "k-123")

	path := writeConfig(t, `
server:
  adminKey: ${TEST_ADMIN_KEY}
storage:
  mongodb:
    uri: ${TEST_MONGO_URI}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mongodb://db.internal:27017", cfg.Storage.MongoDB.URI)
	assert.Equal(t, "k-123", cfg.Server.AdminKey)
}

func TestLoadRequiresMongoURI(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.mongodb.uri")
}

func TestLoadRejectsUnknownSecretsMode(t *testing.T) {
	path := writeConfig(t, `
storage:
  mongodb:
    uri: mongodb://localhost:27017
secrets:
  mode: vault
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secrets.mode")
}

func TestLoadRejectsIncompleteTLS(t *testing.T) {
	path := writeConfig(t, `
server:
  tls:
    enabled: true
storage:
  mongodb:
    uri: mongodb://localhost:27017
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tls")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
