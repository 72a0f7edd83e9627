// Package pin issues and verifies short-lived PIN sessions that authorise a
// single sensitive operation such as a secure transfer.
package pin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// PurposeTransfer scopes a session to transfer execution.
const PurposeTransfer = "transfer"

const (
	sessionPrefix  = "pin:session:v1:"
	attemptsPrefix = "pin:attempts:v1:"
)

var (
	// ErrInvalidPIN is returned when the PIN does not match.
	ErrInvalidPIN = errors.New("invalid PIN")
	// ErrTooManyAttempts is returned while the user is locked out.
	ErrTooManyAttempts = errors.New("too many PIN attempts")
	// ErrSessionNotFound is returned for unknown or expired tokens.
	ErrSessionNotFound = errors.New("pin session not found")
)

// Session is a verified PIN session.
type Session struct {
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	Purpose   string    `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Config tunes session lifetime and attempt limiting.
type Config struct {
	TTL           time.Duration
	MaxAttempts   int
	LockoutWindow time.Duration
}

// SessionStore keeps PIN sessions in Redis.
type SessionStore struct {
	cache  redis.Cmdable
	hashes HashLookup
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewSessionStore builds a Redis-backed session store.
func NewSessionStore(cache redis.Cmdable, hashes HashLookup, cfg Config, logger *slog.Logger) *SessionStore {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.LockoutWindow <= 0 {
		cfg.LockoutWindow = 15 * time.Minute
	}
	return &SessionStore{
		cache:  cache,
		hashes: hashes,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "pin"),
	}
}

// Issue verifies the PIN and opens a session for purpose. Failed attempts are
// counted per user; once MaxAttempts is reached the user is locked out for
// LockoutWindow even with the right PIN.
func (s *SessionStore) Issue(ctx context.Context, userID, pin, purpose string) (Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || purpose == "" {
		return Session{}, fmt.Errorf("user id and purpose are required")
	}

	attemptsKey := attemptsPrefix + userID
	attempts, err := s.cache.Get(ctx, attemptsKey).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Session{}, fmt.Errorf("read pin attempts: %w", err)
	}
	if attempts >= s.cfg.MaxAttempts {
		return Session{}, ErrTooManyAttempts
	}

	hash, err := s.hashes.PINHash(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(pin)); err != nil {
		s.recordFailure(ctx, attemptsKey, userID)
		return Session{}, ErrInvalidPIN
	}
	if err := s.cache.Del(ctx, attemptsKey).Err(); err != nil {
		s.logger.Warn("pin attempt counter not reset", slog.String("user_id", userID), slog.Any("error", err))
	}

	session := Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		Purpose:   purpose,
		ExpiresAt: s.now().Add(s.cfg.TTL),
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return Session{}, err
	}
	if err := s.cache.Set(ctx, sessionPrefix+session.Token, payload, s.cfg.TTL).Err(); err != nil {
		return Session{}, fmt.Errorf("store pin session: %w", err)
	}
	return session, nil
}

func (s *SessionStore) recordFailure(ctx context.Context, key, userID string) {
	cnt, err := s.cache.Incr(ctx, key).Result()
	if err == nil && cnt == 1 {
		s.cache.Expire(ctx, key, s.cfg.LockoutWindow)
	}
	if err != nil {
		s.logger.Warn("pin attempt counter unavailable", slog.String("user_id", userID), slog.Any("error", err))
		return
	}
	if int(cnt) >= s.cfg.MaxAttempts {
		s.logger.Warn("pin attempts exhausted", slog.String("user_id", userID))
	}
}

// Lookup returns the live session behind token.
func (s *SessionStore) Lookup(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrSessionNotFound
	}
	raw, err := s.cache.Get(ctx, sessionPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return Session{}, err
	}
	if !session.ExpiresAt.After(s.now()) {
		return Session{}, ErrSessionNotFound
	}
	session.Token = token
	return session, nil
}

// IsSessionValid reports whether token names a live session for purpose.
func (s *SessionStore) IsSessionValid(ctx context.Context, token, purpose string) bool {
	session, err := s.Lookup(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			s.logger.Warn("pin session lookup failed", slog.Any("error", err))
		}
		return false
	}
	return session.Purpose == purpose
}

// Redeem atomically removes the session and returns it when it is live and
// scoped to purpose. A token can be redeemed at most once. A token presented
// for another purpose is left in place.
func (s *SessionStore) Redeem(ctx context.Context, token, purpose string) (Session, error) {
	current, err := s.Lookup(ctx, token)
	if err != nil {
		return Session{}, err
	}
	if current.Purpose != purpose {
		return Session{}, ErrSessionNotFound
	}
	raw, err := s.cache.GetDel(ctx, sessionPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return Session{}, err
	}
	if !session.ExpiresAt.After(s.now()) || session.Purpose != purpose {
		return Session{}, ErrSessionNotFound
	}
	session.Token = token
	return session, nil
}
