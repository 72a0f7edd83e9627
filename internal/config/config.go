package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName           = "FundsFlow"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultBankCode          = "CPAY"
	defaultCurrency          = "XAF"
	defaultGatewayTimeout    = 10 * time.Second
	defaultAuditTopic        = "fundsflow.audit"
	defaultNotificationTopic = "fundsflow.notifications"
	defaultPINSessionTTL     = 5 * time.Minute
	defaultPINMaxAttempts    = 5
	defaultReconcileInterval = time.Minute
	defaultReconcileGrace    = 10 * time.Minute
	defaultReconcileCeiling  = 24 * time.Hour
	defaultReconcileBatch    = 100
	defaultOpsRecipient      = "ops"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	BankCode string
	Currency string

	GatewayURL     string
	GatewayAPIKey  string
	GatewayTimeout time.Duration
	// BankDirectory holds comma separated code=name pairs.
	BankDirectory string

	KafkaBrokers      []string
	AuditTopic        string
	NotificationTopic string

	PINSessionTTL  time.Duration
	PINMaxAttempts int

	ReconcileInterval   time.Duration
	ReconcileGrace      time.Duration
	ReconcileStaleAfter time.Duration
	ReconcileCeiling    time.Duration
	ReconcileBatch      int

	OpsAlertRecipient string
	// AdminUserIDs may call operator endpoints such as a manual reconcile run.
	AdminUserIDs []string
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is applied first when present;
// variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		BankCode:          strings.ToUpper(getEnv("BANK_CODE", defaultBankCode)),
		Currency:          strings.ToUpper(getEnv("CURRENCY", defaultCurrency)),
		GatewayURL:        os.Getenv("GATEWAY_URL"),
		GatewayAPIKey:     os.Getenv("GATEWAY_API_KEY"),
		BankDirectory:     os.Getenv("BANK_DIRECTORY"),
		KafkaBrokers:      splitList(os.Getenv("KAFKA_BROKERS")),
		AuditTopic:        getEnv("AUDIT_TOPIC", defaultAuditTopic),
		NotificationTopic: getEnv("NOTIFICATION_TOPIC", defaultNotificationTopic),
		OpsAlertRecipient: getEnv("OPS_ALERT_RECIPIENT", defaultOpsRecipient),
		AdminUserIDs:      splitList(os.Getenv("ADMIN_USER_IDS")),
	}

	var err error
	durations := []struct {
		key      string
		fallback time.Duration
		target   *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", defaultShutdownDelay, &cfg.ShutdownPeriod},
		{"IDEMPOTENCY_TTL", defaultIdempotencyTTL, &cfg.IdempotencyTTL},
		{"GATEWAY_TIMEOUT", defaultGatewayTimeout, &cfg.GatewayTimeout},
		{"PIN_SESSION_TTL", defaultPINSessionTTL, &cfg.PINSessionTTL},
		{"RECONCILE_INTERVAL", defaultReconcileInterval, &cfg.ReconcileInterval},
		{"RECONCILE_GRACE", defaultReconcileGrace, &cfg.ReconcileGrace},
		{"RECONCILE_CEILING", defaultReconcileCeiling, &cfg.ReconcileCeiling},
	}
	for _, d := range durations {
		if *d.target, err = getDuration(d.key, d.fallback); err != nil {
			return Config{}, err
		}
	}
	if cfg.ReconcileStaleAfter, err = getDuration("RECONCILE_STALE_AFTER", cfg.ReconcileGrace); err != nil {
		return Config{}, err
	}
	if cfg.PINMaxAttempts, err = getInt("PIN_MAX_ATTEMPTS", defaultPINMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileBatch, err = getInt("RECONCILE_BATCH", defaultReconcileBatch); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !c.Development() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set")
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set")
		}
	}
	if c.BankCode == "" {
		return fmt.Errorf("BANK_CODE must not be empty")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("CURRENCY must be a three letter code, got %q", c.Currency)
	}
	if c.PINMaxAttempts <= 0 {
		return fmt.Errorf("PIN_MAX_ATTEMPTS must be positive")
	}
	if c.ReconcileBatch <= 0 {
		return fmt.Errorf("RECONCILE_BATCH must be positive")
	}
	if c.ReconcileCeiling < c.ReconcileGrace {
		return fmt.Errorf("RECONCILE_CEILING must not be shorter than RECONCILE_GRACE")
	}
	return nil
}

// Development reports whether in-memory backends may stand in for Postgres and Redis.
func (c Config) Development() bool {
	switch c.AppEnv {
	case "development", "dev", "local", "test":
		return true
	}
	return false
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getDuration reads KEY_SECONDS as whole seconds, then KEY as either whole
// seconds or a Go duration string.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
