package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Session.SigningSecret = "test-secret"
	return cfg
}

func TestValidateAllAcceptsDefaultConfig(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidateStorageRejectsUnknownBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Backend = "sqlite"
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateStorageRequiresRedisAddrForRedisBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Backend = "redis"
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}

func TestValidateSessionRejectsNonPositiveTTL(t *testing.T) {
	cfg := validConfig()
	cfg.Session.TTL = 0
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateSessionRejectsMaxLifetimeShorterThanTTL(t *testing.T) {
	cfg := validConfig()
	cfg.Session.MaxLifetime = cfg.Session.TTL / 2
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateSessionRequiresSigningSecret(t *testing.T) {
	cfg := DefaultConfig()
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}

func TestValidateAuthRejectsUnknownMode(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = "implicit"
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateAuthOrchestratedRequiresVaultSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = "orchestrated"
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)

	cfg.Vault.MasterSecret = "s3cr3t"
	require.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidateApprovalRejectsUnknownPolicyMode(t *testing.T) {
	cfg := validConfig()
	cfg.Approval.DefaultPolicyMode = "lax"
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateTransportRequiresAtLeastOneProtocol(t *testing.T) {
	cfg := validConfig()
	cfg.Transport.Protocol.JSON = false
	cfg.Transport.Protocol.Legacy = false
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateAuditRequiresDSNWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.Enabled = true
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)

	cfg.Audit.Database.DSN = "postgres://localhost/mcpcore"
	require.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidateAuditSkippedWhenDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.Enabled = false
	cfg.Audit.Database.DSN = ""
	require.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidateAPIRequiresListenAddr(t *testing.T) {
	cfg := validConfig()
	cfg.API.ListenAddr = ""
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}
