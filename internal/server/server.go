package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/fundsflow/internal/config"
	"github.com/congo-pay/fundsflow/internal/routes"
)

// Server wraps the Fiber application, the reconciliation scheduler and shared
// dependencies.
type Server struct {
	app     *fiber.App
	cfg     config.Config
	runtime *routes.Runtime
	logger  *slog.Logger
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// db and cache may be nil in development.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		Immutable:    true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	rt, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, runtime: rt, logger: logger}, nil
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// RunReconciler runs the reconciliation scheduler until ctx is cancelled.
func (s *Server) RunReconciler(ctx context.Context) {
	s.runtime.Scheduler.Run(ctx)
}

// Shutdown gracefully stops the HTTP server and flushes event sinks.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	for _, c := range s.runtime.Closers {
		if cerr := c.Close(); cerr != nil {
			s.logger.Warn("close sink", slog.Any("error", cerr))
			err = errors.Join(err, cerr)
		}
	}
	return err
}
