package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadUsesDefaultsAndYAMLOverrides(t *testing.T) {
	clearConfigEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	yaml := `
http:
  addr: ":9090"
billing:
  purchase_ttl: 30m
  txn_page_size: 25
chat:
  reply_cost: 2
  replies_per_minute: 10
  default_persona: hamdam-02
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("unexpected http addr: %s", cfg.HTTP.Addr)
	}
	if cfg.Billing.PurchaseTTL != 30*time.Minute {
		t.Fatalf("unexpected purchase ttl: %s", cfg.Billing.PurchaseTTL)
	}
	if cfg.Billing.TxnPageSize != 25 {
		t.Fatalf("unexpected txn page size: %d", cfg.Billing.TxnPageSize)
	}
	if cfg.Chat.ReplyCost != 2 {
		t.Fatalf("unexpected reply cost: %d", cfg.Chat.ReplyCost)
	}
	if cfg.Chat.RepliesPerMinute != 10 {
		t.Fatalf("unexpected replies per minute: %d", cfg.Chat.RepliesPerMinute)
	}
	if cfg.Chat.DefaultPersona != "hamdam-02" {
		t.Fatalf("unexpected default persona: %s", cfg.Chat.DefaultPersona)
	}

	// Untouched sections keep defaults.
	if cfg.Billing.TxnPageSizeMax != 200 {
		t.Fatalf("unexpected txn page cap: %d", cfg.Billing.TxnPageSizeMax)
	}
	if cfg.Postgres.MigrationsPath != "migrations" {
		t.Fatalf("unexpected migrations path: %s", cfg.Postgres.MigrationsPath)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("unexpected default addr: %s", cfg.HTTP.Addr)
	}
	if cfg.Billing.PurchaseTTL != 2*time.Hour {
		t.Fatalf("unexpected default purchase ttl: %s", cfg.Billing.PurchaseTTL)
	}
}

func TestEnvOverridesBeatYAML(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("POSTGRES_DSN", "postgres://env:env@db:5432/hamaan")
	t.Setenv("BILLING_PURCHASE_TTL", "45m")
	t.Setenv("BILLING_TXN_PAGE_SIZE_MAX", "500")
	t.Setenv("CHAT_REPLY_COST", "3")
	t.Setenv("CHAT_REPLIES_PER_10SEC", "7")
	t.Setenv("CHAT_HISTORY_PAGE_SIZE", "80")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://env:env@db:5432/hamaan" {
		t.Fatalf("unexpected dsn: %s", cfg.Postgres.DSN)
	}
	if cfg.Billing.PurchaseTTL != 45*time.Minute {
		t.Fatalf("unexpected purchase ttl: %s", cfg.Billing.PurchaseTTL)
	}
	if cfg.Chat.ReplyCost != 3 {
		t.Fatalf("unexpected reply cost: %d", cfg.Chat.ReplyCost)
	}
	if cfg.Billing.TxnPageSizeMax != 500 {
		t.Fatalf("unexpected txn page cap: %d", cfg.Billing.TxnPageSizeMax)
	}
	if cfg.Chat.RepliesPer10Sec != 7 {
		t.Fatalf("unexpected burst limit: %d", cfg.Chat.RepliesPer10Sec)
	}
	if cfg.Chat.HistoryPageSize != 80 {
		t.Fatalf("unexpected history page size: %d", cfg.Chat.HistoryPageSize)
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "HTTP_ADDR", "HTTP_READ_TIMEOUT", "HTTP_WRITE_TIMEOUT", "HTTP_IDLE_TIMEOUT",
		"LOG_LEVEL", "POSTGRES_DSN", "POSTGRES_MIGRATIONS_PATH",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"TELEGRAM_BOT_TOKEN", "GATEWAY_CALLBACK_TOKEN", "ADMIN_TOKEN",
		"BILLING_PURCHASE_TTL", "BILLING_TXN_PAGE_SIZE", "BILLING_TXN_PAGE_SIZE_MAX",
		"BILLING_PACK_CACHE_TTL", "BILLING_CLEANUP_INTERVAL",
		"CHAT_REPLY_COST", "CHAT_REPLIES_PER_MINUTE", "CHAT_REPLIES_PER_10SEC",
		"CHAT_HISTORY_PAGE_SIZE", "CHAT_DEFAULT_PERSONA",
	} {
		t.Setenv(key, "")
	}
}
