package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/peekguard/peekguard/internal/entity"
)

// Config holds PeekGuard configuration.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Locales  map[string][]string     `yaml:"locales"`
	Entities map[string]EntityConfig `yaml:"entities"`
	Resolver ResolverConfig          `yaml:"resolver"`
	Tokens   TokenConfig             `yaml:"tokens"`
	Vault    VaultConfig             `yaml:"vault"`
	Model    ModelConfig             `yaml:"model"`

	// FalsePositives maps an entity type to exact lowercase strings that
	// are never treated as PII for that type (e.g. the literal word
	// "email" detected as a PERSON).
	FalsePositives map[string][]string `yaml:"false_positives"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`            // HTTP listen address, e.g. ":8045"
	MaxInputBytes int    `yaml:"max_input_bytes"` // mask/unmask input ceiling
}

type EntityConfig struct {
	Threshold float64 `yaml:"threshold"` // per-type confidence cutoff, overrides resolver default
}

type ResolverConfig struct {
	DefaultThreshold float64 `yaml:"default_threshold"`
}

// TokenConfig fixes the token issuance policy.
//
// "deterministic" reuses one token per (entity type, value) pair within a
// scope, so repeated values read consistently in the masked document.
// Reuse is tracked per process; with a shared external vault store and
// several replicas, repeated values may still get distinct tokens.
// "unique" issues a fresh token per occurrence.
type TokenConfig struct {
	Policy string `yaml:"policy"` // deterministic | unique
}

type VaultConfig struct {
	Backend          string `yaml:"backend"`            // memory | file | postgres
	TTLSeconds       int    `yaml:"ttl_seconds"`        // 0 = no expiry
	MaxScopes        int    `yaml:"max_scopes"`         // memory backend: oldest scope evicted beyond this, 0 = unbounded
	Dir              string `yaml:"dir"`                // file backend: scope file directory
	PostgresDSNEnv   string `yaml:"postgres_dsn_env"`   // env var holding the DSN
	EncryptionKeyEnv string `yaml:"encryption_key_env"` // env var holding a hex AES key; empty disables at-rest encryption
}

type ModelConfig struct {
	Dir      string `yaml:"dir"`       // NER model directory (model.onnx, labels.json, vocab.txt)
	SeqLen   int    `yaml:"seq_len"`   // tokenizer sequence length
	PoolSize int    `yaml:"pool_size"` // concurrent inference sessions
}

// Token policy values.
const (
	TokenPolicyDeterministic = "deterministic"
	TokenPolicyUnique        = "unique"
)

// Vault backend values.
const (
	VaultBackendMemory   = "memory"
	VaultBackendFile     = "file"
	VaultBackendPostgres = "postgres"
)

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Threshold returns the confidence cutoff for an entity type, falling
// back to the resolver default.
func (c *Config) Threshold(entityType string) float64 {
	if ec, ok := c.Entities[entityType]; ok && ec.Threshold > 0 {
		return ec.Threshold
	}
	return c.Resolver.DefaultThreshold
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8045"
	}
	if cfg.Server.MaxInputBytes <= 0 {
		cfg.Server.MaxInputBytes = 64 * 1024
	}

	if len(cfg.Locales) == 0 {
		cfg.Locales = map[string][]string{
			"en": {"email", "phone", "credit_card", "us_ssn", "ip_address", "url", "iban", "street_address", "ner"},
		}
	}

	if cfg.Resolver.DefaultThreshold <= 0 {
		cfg.Resolver.DefaultThreshold = 0.6
	}

	if cfg.Tokens.Policy == "" {
		cfg.Tokens.Policy = TokenPolicyDeterministic
	}

	if cfg.Vault.Backend == "" {
		cfg.Vault.Backend = VaultBackendMemory
	}
	if cfg.Vault.TTLSeconds < 0 {
		cfg.Vault.TTLSeconds = 0
	}
	if cfg.Vault.Dir == "" {
		cfg.Vault.Dir = "vault-data"
	}
	if cfg.Vault.PostgresDSNEnv == "" {
		cfg.Vault.PostgresDSNEnv = "PEEKGUARD_POSTGRES_DSN"
	}

	if cfg.Model.Dir == "" {
		cfg.Model.Dir = "models/pii_ner"
	}
	if cfg.Model.SeqLen <= 0 {
		cfg.Model.SeqLen = 256
	}
	if cfg.Model.PoolSize <= 0 {
		cfg.Model.PoolSize = 2
	}

	if cfg.FalsePositives == nil {
		cfg.FalsePositives = map[string][]string{
			entity.TypePerson: {"email", "phone"},
		}
	}
}

func validate(cfg *Config) error {
	switch cfg.Tokens.Policy {
	case TokenPolicyDeterministic, TokenPolicyUnique:
	default:
		return fmt.Errorf("config: unknown token policy %q", cfg.Tokens.Policy)
	}

	switch cfg.Vault.Backend {
	case VaultBackendMemory, VaultBackendFile, VaultBackendPostgres:
	default:
		return fmt.Errorf("config: unknown vault backend %q", cfg.Vault.Backend)
	}

	for typ := range cfg.Entities {
		if !entity.KnownType(typ) {
			return fmt.Errorf("config: unknown entity type %q in entities", typ)
		}
	}
	for typ := range cfg.FalsePositives {
		if !entity.KnownType(typ) {
			return fmt.Errorf("config: unknown entity type %q in false_positives", typ)
		}
	}
	return nil
}
