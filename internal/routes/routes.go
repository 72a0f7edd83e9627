package routes

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/fundsflow/internal/account"
	"github.com/congo-pay/fundsflow/internal/audit"
	"github.com/congo-pay/fundsflow/internal/config"
	"github.com/congo-pay/fundsflow/internal/coordinator"
	"github.com/congo-pay/fundsflow/internal/gateway"
	"github.com/congo-pay/fundsflow/internal/ledger"
	"github.com/congo-pay/fundsflow/internal/middleware"
	"github.com/congo-pay/fundsflow/internal/notification"
	"github.com/congo-pay/fundsflow/internal/payments"
	"github.com/congo-pay/fundsflow/internal/pin"
	"github.com/congo-pay/fundsflow/internal/reconcile"
	"github.com/congo-pay/fundsflow/internal/transfer"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Gateway overrides the client chosen from configuration.
	Gateway gateway.Client
}

// Runtime holds what outlives route registration: the reconciliation
// scheduler and the sinks that must be flushed on shutdown.
type Runtime struct {
	Scheduler *reconcile.Scheduler
	Closers   []io.Closer
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Runtime, error) {
	if !d.Cfg.Development() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	rt := &Runtime{}

	banks, err := gateway.ParseDirectory(d.Cfg.BankDirectory)
	if err != nil {
		return nil, err
	}
	gw, err := buildGateway(d)
	if err != nil {
		return nil, err
	}

	var notifier notification.Notifier = notification.NewLoggerNotifier(d.Logger)
	sinks := audit.Fanout{audit.NewLoggerSink(d.Logger)}
	if len(d.Cfg.KafkaBrokers) > 0 {
		kafkaNotifier := notification.NewKafkaNotifier(d.Cfg.KafkaBrokers, d.Cfg.NotificationTopic, d.Logger)
		kafkaAudit := audit.NewKafkaSink(d.Cfg.KafkaBrokers, d.Cfg.AuditTopic, d.Logger)
		notifier = kafkaNotifier
		sinks = append(sinks, kafkaAudit)
		rt.Closers = append(rt.Closers, kafkaNotifier, kafkaAudit)
	}

	var (
		store        ledger.Store
		accountRepo  account.Repository
		transferRepo transfer.Repository
		pinHashes    pin.HashLookup
	)
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
		accountRepo = account.NewPostgresRepository(d.DB)
		transferRepo = transfer.NewPostgresRepository(d.DB)
		pinHashes = pin.NewPostgresHashLookup(d.DB)
	} else {
		store = ledger.NewInMemory()
		accountRepo = account.NewMemoryRepository()
		transferRepo = transfer.NewMemoryRepository()
		pinHashes = pin.NewMemoryHashLookup()
	}
	accounts := account.NewService(accountRepo, store)
	balances := ledger.WithNotifications(store, notifier, accounts, d.Logger)
	coord := coordinator.New(balances, d.Logger.With("component", "coordinator"))

	var sessions *pin.SessionStore
	paymentDeps := payments.Deps{
		Accounts:     accounts,
		Ledger:       balances,
		Coordinator:  coord,
		Transfers:    transferRepo,
		Gateway:      gw,
		Banks:        banks,
		Audit:        sinks,
		Notifier:     notifier,
		BankCode:     d.Cfg.BankCode,
		Currency:     d.Cfg.Currency,
		OpsRecipient: d.Cfg.OpsAlertRecipient,
		Logger:       d.Logger,
	}
	if d.Cache != nil {
		sessions = pin.NewSessionStore(d.Cache, pinHashes, pin.Config{
			TTL:         d.Cfg.PINSessionTTL,
			MaxAttempts: d.Cfg.PINMaxAttempts,
		}, d.Logger)
		paymentDeps.PIN = sessions
	}

	rt.Scheduler = reconcile.New(reconcile.Deps{
		Transfers:    transferRepo,
		Gateway:      gw,
		Coordinator:  coord,
		Ledger:       balances,
		Accounts:     accounts,
		Audit:        sinks,
		Notifier:     notifier,
		OpsRecipient: d.Cfg.OpsAlertRecipient,
		Cache:        cacheOrNil(d.Cache),
		Logger:       d.Logger,
	}, reconcile.Config{
		Interval:    d.Cfg.ReconcileInterval,
		GracePeriod: d.Cfg.ReconcileGrace,
		StaleAfter:  d.Cfg.ReconcileStaleAfter,
		HardCeiling: d.Cfg.ReconcileCeiling,
		BatchSize:   d.Cfg.ReconcileBatch,
	})

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d, gw)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	api.Get("/banks", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"banks": banks.Codes()})
	})

	protected := api.Group("", middleware.Actor())
	RegisterAccountRoutes(protected, account.NewHandler(accounts))
	RegisterPINRoutes(protected, pin.NewHandler(sessions), middleware.RateLimit(cacheOrNil(d.Cache), 10, d.Logger))

	transfers := protected.Group("/transfers")
	if d.Cache != nil {
		transfers.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterTransferRoutes(transfers, payments.NewHandler(payments.NewService(paymentDeps)))
	RegisterAdminRoutes(protected, reconcile.NewHandler(rt.Scheduler), middleware.Operators(d.Cfg.AdminUserIDs))

	return rt, nil
}

func buildGateway(d Deps) (gateway.Client, error) {
	switch {
	case d.Gateway != nil:
		return d.Gateway, nil
	case d.Cfg.GatewayURL != "":
		return gateway.NewHTTPClient(gateway.HTTPConfig{
			BaseURL: d.Cfg.GatewayURL,
			APIKey:  d.Cfg.GatewayAPIKey,
			Timeout: d.Cfg.GatewayTimeout,
		}, d.Logger.With("component", "gateway")), nil
	case d.Cfg.Development():
		d.Logger.Warn("GATEWAY_URL not set, using simulated bank gateway")
		return gateway.NewSimulator(), nil
	}
	return nil, fmt.Errorf("GATEWAY_URL is required when APP_ENV=%s", d.Cfg.AppEnv)
}

// cacheOrNil avoids handing a typed nil *redis.Client to an interface.
func cacheOrNil(c *redis.Client) redis.Cmdable {
	if c == nil {
		return nil
	}
	return c
}
