package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peekguard/peekguard/internal/entity"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peekguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8045", cfg.Server.Addr)
	assert.Equal(t, 64*1024, cfg.Server.MaxInputBytes)
	assert.Equal(t, TokenPolicyDeterministic, cfg.Tokens.Policy)
	assert.Equal(t, VaultBackendMemory, cfg.Vault.Backend)
	assert.Equal(t, 0.6, cfg.Resolver.DefaultThreshold)
	assert.Contains(t, cfg.Locales["en"], "ner")
	assert.Contains(t, cfg.FalsePositives[entity.TypePerson], "email")
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  max_input_bytes: 1024
tokens:
  policy: unique
vault:
  backend: file
  dir: /tmp/scopes
  ttl_seconds: 3600
resolver:
  default_threshold: 0.75
entities:
  PERSON:
    threshold: 0.85
locales:
  en: [email, ner]
  de: [email]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 1024, cfg.Server.MaxInputBytes)
	assert.Equal(t, TokenPolicyUnique, cfg.Tokens.Policy)
	assert.Equal(t, VaultBackendFile, cfg.Vault.Backend)
	assert.Equal(t, "/tmp/scopes", cfg.Vault.Dir)
	assert.Equal(t, 3600, cfg.Vault.TTLSeconds)
	assert.Equal(t, []string{"email"}, cfg.Locales["de"])

	// Unset sections still get defaults.
	assert.Equal(t, 256, cfg.Model.SeqLen)
	assert.Equal(t, "PEEKGUARD_POSTGRES_DSN", cfg.Vault.PostgresDSNEnv)
}

func TestLoadRejectsUnknownTokenPolicy(t *testing.T) {
	path := writeConfig(t, "tokens:\n  policy: random\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token policy")
}

func TestLoadRejectsUnknownVaultBackend(t *testing.T) {
	path := writeConfig(t, "vault:\n  backend: redis\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault backend")
}

func TestLoadRejectsUnknownEntityType(t *testing.T) {
	path := writeConfig(t, "entities:\n  PASSPORT:\n    threshold: 0.5\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PASSPORT")

	path = writeConfig(t, "false_positives:\n  PASSPORT: [foo]\n")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestThresholdFallsBackToDefault(t *testing.T) {
	cfg := defaultConfig()
	cfg.Entities = map[string]EntityConfig{
		entity.TypePerson: {Threshold: 0.85},
	}

	assert.Equal(t, 0.85, cfg.Threshold(entity.TypePerson))
	assert.Equal(t, 0.6, cfg.Threshold(entity.TypeEmailAddress))
}
