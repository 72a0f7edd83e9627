package pin

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/fundsflow/internal/logging"
)

func newStore(t *testing.T, cfg Config) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hashes := NewMemoryHashLookup()
	if err := hashes.SetPIN("user-1", "1234"); err != nil {
		t.Fatalf("set pin: %v", err)
	}
	return NewSessionStore(client, hashes, cfg, logging.Discard()), mr
}

func TestIssueAndVerifySession(t *testing.T) {
	store, _ := newStore(t, Config{TTL: time.Minute})
	ctx := context.Background()

	session, err := store.Issue(ctx, "user-1", "1234", PurposeTransfer)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !store.IsSessionValid(ctx, session.Token, PurposeTransfer) {
		t.Fatal("expected session to be valid for transfer")
	}
	if store.IsSessionValid(ctx, session.Token, "withdrawal") {
		t.Fatal("session must be scoped to its purpose")
	}
	got, err := store.Lookup(ctx, session.Token)
	if err != nil || got.UserID != "user-1" {
		t.Fatalf("lookup: %+v err=%v", got, err)
	}
}

func TestSessionExpires(t *testing.T) {
	store, mr := newStore(t, Config{TTL: time.Minute})
	ctx := context.Background()

	session, err := store.Issue(ctx, "user-1", "1234", PurposeTransfer)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if store.IsSessionValid(ctx, session.Token, PurposeTransfer) {
		t.Fatal("expected expired session to be invalid")
	}
}

func TestRedeemIsSingleUse(t *testing.T) {
	store, _ := newStore(t, Config{TTL: time.Minute})
	ctx := context.Background()

	session, _ := store.Issue(ctx, "user-1", "1234", PurposeTransfer)
	got, err := store.Redeem(ctx, session.Token, PurposeTransfer)
	if err != nil || got.UserID != "user-1" {
		t.Fatalf("redeem: %+v err=%v", got, err)
	}
	if store.IsSessionValid(ctx, session.Token, PurposeTransfer) {
		t.Fatal("redeemed session still valid")
	}
	if _, err := store.Redeem(ctx, session.Token, PurposeTransfer); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected second redeem to fail, got %v", err)
	}
}

func TestRedeemRejectsOtherPurpose(t *testing.T) {
	store, _ := newStore(t, Config{TTL: time.Minute})
	ctx := context.Background()

	session, _ := store.Issue(ctx, "user-1", "1234", "withdrawal")
	if _, err := store.Redeem(ctx, session.Token, PurposeTransfer); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected purpose mismatch to fail, got %v", err)
	}
	got, err := store.Redeem(ctx, session.Token, "withdrawal")
	if err != nil || got.UserID != "user-1" {
		t.Fatalf("mismatched purpose burned the session: %+v err=%v", got, err)
	}
}

func TestAttemptsLockOutUser(t *testing.T) {
	store, mr := newStore(t, Config{TTL: time.Minute, MaxAttempts: 3, LockoutWindow: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Issue(ctx, "user-1", "0000", PurposeTransfer); !errors.Is(err, ErrInvalidPIN) {
			t.Fatalf("attempt %d: expected invalid pin, got %v", i, err)
		}
	}
	if _, err := store.Issue(ctx, "user-1", "1234", PurposeTransfer); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected lockout, got %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Issue(ctx, "user-1", "1234", PurposeTransfer); err != nil {
		t.Fatalf("expected lockout to lapse, got %v", err)
	}
}

func TestIssueUnknownUser(t *testing.T) {
	store, _ := newStore(t, Config{})
	if _, err := store.Issue(context.Background(), "ghost", "1234", PurposeTransfer); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

// failingDel is a Redis client whose DEL always errors.
type failingDel struct {
	redis.Cmdable
}

func (f failingDel) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetErr(errors.New("del refused"))
	return cmd
}

func TestIssueLogsAttemptResetFailure(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hashes := NewMemoryHashLookup()
	if err := hashes.SetPIN("user-1", "1234"); err != nil {
		t.Fatalf("set pin: %v", err)
	}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	store := NewSessionStore(failingDel{Cmdable: client}, hashes, Config{TTL: time.Minute}, logger)

	if _, err := store.Issue(context.Background(), "user-1", "1234", PurposeTransfer); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.Contains(buf.String(), "pin attempt counter not reset") {
		t.Fatalf("expected reset failure to be logged, got %s", buf.String())
	}
}
