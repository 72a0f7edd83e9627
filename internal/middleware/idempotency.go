package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v1:"
	inProgressMarker     = "__in_progress__"
	idempotencyOpTimeout = 2 * time.Second
)

type storedResponse struct {
	Fingerprint string            `json:"fingerprint"`
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers"`
}

// Idempotency replays the stored response of a transfer submission retried
// with the same Idempotency-Key header. Keys are scoped to the caller, and a
// key reused with a different payload is rejected with 422.
func Idempotency(cache redis.Cmdable, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := c.Get(idempotencyKeyHeader)
		if key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}
		scope, _ := c.Locals(ActorKey).(string)
		if scope == "" {
			scope = "anonymous"
		}
		entry := idempotencyEntry{
			cache:       cache,
			key:         idempotencyPrefix + scope + ":" + key,
			fingerprint: fingerprint(c),
			ttl:         ttl,
			log:         logger.With(slog.String("idempotency_key", key), slog.String("user_id", scope)),
		}

		stored, found, err := entry.load()
		switch {
		case err != nil:
			entry.log.Error("idempotency lookup failed", slog.Any("error", err))
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		case found:
			return entry.replay(c, stored)
		}

		reserved, err := entry.reserve()
		if err != nil {
			entry.log.Error("idempotency reservation failed", slog.Any("error", err))
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency reservation failure")
		}
		if !reserved {
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		}

		if err := c.Next(); err != nil || c.Response().StatusCode() >= fiber.StatusInternalServerError {
			entry.release()
			return err
		}
		if err := entry.persist(c); err != nil {
			entry.log.Error("failed to persist idempotent response", slog.Any("error", err))
			entry.release()
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency persistence failure")
		}
		return nil
	}
}

var errInProgress = errors.New("request in progress")

type idempotencyEntry struct {
	cache       redis.Cmdable
	key         string
	fingerprint string
	ttl         time.Duration
	log         *slog.Logger
}

// load reports a found entry with zero status while the first request is
// still running.
func (e idempotencyEntry) load() (storedResponse, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()

	raw, err := e.cache.Get(ctx, e.key).Result()
	if errors.Is(err, redis.Nil) {
		return storedResponse{}, false, nil
	}
	if err != nil {
		return storedResponse{}, false, err
	}
	if raw == inProgressMarker {
		return storedResponse{}, true, nil
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		e.log.Warn("failed to decode stored idempotent response", slog.Any("error", err))
		return storedResponse{}, true, nil
	}
	return stored, true, nil
}

func (e idempotencyEntry) replay(c *fiber.Ctx, stored storedResponse) error {
	if stored.Status == 0 {
		return fiber.NewError(fiber.StatusConflict, errInProgress.Error())
	}
	if stored.Fingerprint != "" && stored.Fingerprint != e.fingerprint {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Idempotency-Key reused with a different request")
	}
	for header, value := range stored.Headers {
		if strings.EqualFold(header, fiber.HeaderContentLength) {
			continue
		}
		c.Set(header, value)
	}
	c.Set("Idempotent-Replayed", "true")
	return c.Status(stored.Status).SendString(stored.Body)
}

func (e idempotencyEntry) reserve() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()
	return e.cache.SetNX(ctx, e.key, inProgressMarker, e.ttl).Result()
}

func (e idempotencyEntry) persist(c *fiber.Ctx) error {
	stored := storedResponse{
		Fingerprint: e.fingerprint,
		Status:      c.Response().StatusCode(),
		Body:        string(c.Response().Body()),
		Headers:     map[string]string{},
	}
	c.Response().Header.VisitAll(func(k, v []byte) {
		stored.Headers[string(k)] = string(v)
	})
	payload, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()
	return e.cache.Set(ctx, e.key, payload, e.ttl).Err()
}

func (e idempotencyEntry) release() {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()
	if err := e.cache.Del(ctx, e.key).Err(); err != nil {
		e.log.Warn("failed to release idempotency key", slog.Any("error", err))
	}
}

// fingerprint identifies the request a key was first used with.
func fingerprint(c *fiber.Ctx) string {
	sum := sha256.New()
	sum.Write([]byte(c.Method()))
	sum.Write([]byte{0})
	sum.Write([]byte(c.Path()))
	sum.Write([]byte{0})
	sum.Write(c.Body())
	return hex.EncodeToString(sum.Sum(nil))
}
