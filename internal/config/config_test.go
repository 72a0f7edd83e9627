package config

import (
	"testing"
	"time"
)

func TestLoadDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BankCode != "CPAY" || cfg.Currency != "XAF" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ReconcileGrace != 10*time.Minute || cfg.ReconcileStaleAfter != cfg.ReconcileGrace {
		t.Fatalf("unexpected reconcile windows %s / %s", cfg.ReconcileGrace, cfg.ReconcileStaleAfter)
	}
	if cfg.ReconcileCeiling != 24*time.Hour || cfg.PINMaxAttempts != 5 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
}

func TestLoadRequiresBackendsOutsideDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	if _, err := Load(); err == nil {
		t.Fatal("expected missing DATABASE_URL to fail")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/fundsflow")
	t.Setenv("REDIS_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected missing REDIS_URL to fail")
	}
}

func TestLoadDurationsAndLists(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("GATEWAY_TIMEOUT", "3")
	t.Setenv("RECONCILE_INTERVAL", "90s")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "4")
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	t.Setenv("BANK_CODE", "cpay")
	t.Setenv("ADMIN_USER_IDS", "ops-1,ops-2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GatewayTimeout != 3*time.Second {
		t.Fatalf("expected seconds form, got %s", cfg.GatewayTimeout)
	}
	if cfg.ReconcileInterval != 90*time.Second {
		t.Fatalf("expected duration form, got %s", cfg.ReconcileInterval)
	}
	if cfg.ShutdownPeriod != 4*time.Second {
		t.Fatalf("expected _SECONDS key, got %s", cfg.ShutdownPeriod)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.BankCode != "CPAY" {
		t.Fatalf("expected upper-cased bank code, got %s", cfg.BankCode)
	}
	if len(cfg.AdminUserIDs) != 2 || cfg.AdminUserIDs[0] != "ops-1" {
		t.Fatalf("unexpected admin ids %v", cfg.AdminUserIDs)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("PIN_MAX_ATTEMPTS", "many")
	if _, err := Load(); err == nil {
		t.Fatal("expected invalid integer to fail")
	}
	t.Setenv("PIN_MAX_ATTEMPTS", "3")
	t.Setenv("RECONCILE_CEILING", "1m")
	if _, err := Load(); err == nil {
		t.Fatal("expected ceiling shorter than grace to fail")
	}
}
