// PeekGuard masks PII in free text behind reversible placeholders and
// restores it on authorized unmask calls.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/peekguard/peekguard/internal/config"
	"github.com/peekguard/peekguard/internal/masker"
	"github.com/peekguard/peekguard/internal/recognizer"
	"github.com/peekguard/peekguard/internal/redact"
	"github.com/peekguard/peekguard/internal/resolver"
	"github.com/peekguard/peekguard/internal/server"
	"github.com/peekguard/peekguard/internal/vault"
)

func main() {
	addrFlag := flag.String("addr", "", "HTTP listen address (overrides config)")
	configPath := flag.String("config", "peekguard.yaml", "Path to PeekGuard config file")
	envPath := flag.String("env", ".env", "Path to optional .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		redact.Fatalf("failed to load env file %s: %v", *envPath, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		redact.Fatalf("failed to load config: %v", err)
	}

	addr := cfg.Server.Addr
	if *addrFlag != "" {
		addr = *addrFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		redact.Fatalf("failed to initialize vault store: %v", err)
	}
	defer cleanup()

	v := vault.New(store, vault.Options{
		Deterministic: cfg.Tokens.Policy == config.TokenPolicyDeterministic,
		TTL:           time.Duration(cfg.Vault.TTLSeconds) * time.Second,
	})

	registry := recognizer.NewRegistry(cfg.Locales, cfg.FalsePositives)
	for _, rec := range recognizer.BuiltinPatternRecognizers() {
		if err := registry.Register(rec); err != nil {
			redact.Fatalf("failed to register recognizer: %v", err)
		}
	}

	// Serving without a detection model would mean serving traffic that
	// silently leaks PII, so a load failure is fatal.
	ner, err := recognizer.LoadNER(recognizer.NERConfig{
		Dir:      cfg.Model.Dir,
		SeqLen:   cfg.Model.SeqLen,
		PoolSize: cfg.Model.PoolSize,
	})
	if err != nil {
		redact.Fatalf("failed to load NER model: %v", err)
	}
	defer ner.Close()
	if err := registry.Register(ner); err != nil {
		redact.Fatalf("failed to register NER recognizer: %v", err)
	}

	engine := masker.New(registry, resolver.New(cfg.Threshold), v, cfg.Server.MaxInputBytes)

	srv := server.New(&server.Engine{
		Mask:   engine.Mask,
		Unmask: engine.Unmask,
		Ready:  ner.Ready,
	})

	errCh := make(chan error, 1)
	go func() {
		redact.Logf("starting peekguard on %s", addr)
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			redact.Fatalf("server error: %v", err)
		}
	case <-ctx.Done():
		redact.Logf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			redact.Logf("shutdown error: %v", err)
		}
	}
}

// buildStore assembles the configured vault backend, wrapped with
// at-rest encryption when a key is configured.
func buildStore(ctx context.Context, cfg *config.Config) (vault.Store, func(), error) {
	var store vault.Store
	cleanup := func() {}

	switch cfg.Vault.Backend {
	case config.VaultBackendMemory:
		mem := vault.NewMemoryStore(cfg.Vault.MaxScopes, time.Minute)
		store, cleanup = mem, mem.Close

	case config.VaultBackendFile:
		fs, err := vault.NewFileStore(cfg.Vault.Dir)
		if err != nil {
			return nil, nil, err
		}
		store = fs

	case config.VaultBackendPostgres:
		dsn := os.Getenv(cfg.Vault.PostgresDSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("postgres backend selected but %s is not set", cfg.Vault.PostgresDSNEnv)
		}
		pg, err := vault.NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		store, cleanup = pg, func() { _ = pg.Close() }

	default:
		return nil, nil, fmt.Errorf("unknown vault backend %q", cfg.Vault.Backend)
	}

	if cfg.Vault.EncryptionKeyEnv != "" {
		keyHex := os.Getenv(cfg.Vault.EncryptionKeyEnv)
		if keyHex == "" {
			return nil, nil, fmt.Errorf("vault encryption enabled but %s is not set", cfg.Vault.EncryptionKeyEnv)
		}
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, nil, fmt.Errorf("decode vault encryption key: %w", err)
		}
		enc, err := vault.NewEncryptedStore(store, key)
		if err != nil {
			return nil, nil, err
		}
		store = enc
	}

	return store, cleanup, nil
}
