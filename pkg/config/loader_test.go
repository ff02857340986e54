package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte(contents), 0o600))
}

func TestLoadMissingFileReturnsConfigNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
session:
  signing_secret: test-secret
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "public", cfg.Auth.Mode)
	assert.Equal(t, "approval", cfg.Approval.DefaultPolicyMode)
	assert.Equal(t, "test-secret", cfg.Session.SigningSecret)
	assert.True(t, cfg.Transport.Protocol.JSON)
}

func TestLoadOverridesMergeOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
storage:
  backend: redis
  redis_addr: redis:6379
session:
  signing_secret: test-secret
auth:
  mode: forwarded
api:
  listen_addr: ":9000"
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, "redis:6379", cfg.Storage.RedisAddr)
	assert.Equal(t, "forwarded", cfg.Auth.Mode)
	assert.Equal(t, ":9000", cfg.API.ListenAddr)
	// Untouched sections keep their builtin defaults.
	assert.Equal(t, "approval", cfg.Approval.DefaultPolicyMode)
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("MCPCORE_SIGNING_SECRET", "from-env")
	dir := t.TempDir()
	writeConfigFile(t, dir, `
session:
  signing_secret: {{.MCPCORE_SIGNING_SECRET}}
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Session.SigningSecret)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "session: [this is not valid: yaml")

	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoadFailsValidationWhenOrchestratedWithoutVaultSecret(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
session:
  signing_secret: test-secret
auth:
  mode: orchestrated
`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}
