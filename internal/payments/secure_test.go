package payments

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/fundsflow/internal/logging"
	"github.com/congo-pay/fundsflow/internal/pin"
	"github.com/congo-pay/fundsflow/internal/transfer"
)

func withPIN(t *testing.T, f *fixture) *pin.SessionStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hashes := pin.NewMemoryHashLookup()
	if err := hashes.SetPIN("user-a", "2468"); err != nil {
		t.Fatalf("set pin: %v", err)
	}
	sessions := pin.NewSessionStore(client, hashes, pin.Config{TTL: time.Minute}, logging.Discard())
	f.deps.PIN = sessions
	f.svc = NewService(f.deps)
	return sessions
}

func TestSecureTransferRoutesInternally(t *testing.T) {
	f := newFixture(t)
	sessions := withPIN(t, f)
	f.open(t, "user-a", "100-A", 10_000)
	f.open(t, "user-b", "100-B", 0)
	ctx := context.Background()

	session, err := sessions.Issue(ctx, "user-a", "2468", pin.PurposeTransfer)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	receipt, err := f.svc.Secure(ctx, Command{
		SenderUserID:          "user-a",
		ReceiverAccountNumber: "100-B",
		Amount:                amount(4_000),
		PINToken:              session.Token,
	})
	if err != nil {
		t.Fatalf("secure transfer: %v", err)
	}
	if receipt.Transfer.Status != transfer.StatusCompleted || receipt.Transfer.Kind != transfer.KindInternal {
		t.Fatalf("unexpected transfer %+v", receipt.Transfer)
	}
	if !f.balance(t, "100-B").Equal(amount(4_000)) {
		t.Fatalf("receiver not credited: %s", f.balance(t, "100-B"))
	}

	// The session was redeemed and cannot authorise a second transfer.
	_, err = f.svc.Secure(ctx, Command{
		SenderUserID:          "user-a",
		ReceiverAccountNumber: "100-B",
		Amount:                amount(1_000),
		PINToken:              session.Token,
	})
	if ErrorCode(err) != CodeInvalidPINSession {
		t.Fatalf("expected reused session rejected, got %v", err)
	}
	if !f.balance(t, "100-A").Equal(amount(6_000)) {
		t.Fatalf("reused session moved money: %s", f.balance(t, "100-A"))
	}
}

func TestSecureTransferRoutesExternally(t *testing.T) {
	f := newFixture(t)
	sessions := withPIN(t, f)
	f.open(t, "user-a", "100-A", 10_000)
	ctx := context.Background()

	session, _ := sessions.Issue(ctx, "user-a", "2468", pin.PurposeTransfer)
	cmd := externalCmd("900-X", 2_000)
	cmd.PINToken = session.Token
	cmd.External = true

	receipt, err := f.svc.Secure(ctx, cmd)
	if err != nil {
		t.Fatalf("secure transfer: %v", err)
	}
	if receipt.Transfer.Kind != transfer.KindExternal || receipt.Transfer.Status != transfer.StatusCompleted {
		t.Fatalf("unexpected transfer %+v", receipt.Transfer)
	}
	if !f.balance(t, "100-A").Equal(amount(8_000)) {
		t.Fatalf("unexpected balance %s", f.balance(t, "100-A"))
	}
}

func TestSecureTransferRejectsForeignSession(t *testing.T) {
	f := newFixture(t)
	sessions := withPIN(t, f)
	f.open(t, "user-a", "100-A", 10_000)
	f.open(t, "user-b", "100-B", 10_000)
	ctx := context.Background()

	session, _ := sessions.Issue(ctx, "user-a", "2468", pin.PurposeTransfer)
	_, err := f.svc.Secure(ctx, Command{
		SenderUserID:          "user-b",
		ReceiverAccountNumber: "100-A",
		Amount:                amount(1_000),
		PINToken:              session.Token,
	})
	if ErrorCode(err) != CodeInvalidPINSession {
		t.Fatalf("expected foreign session rejected, got %v", err)
	}
	if !sessions.IsSessionValid(ctx, session.Token, pin.PurposeTransfer) {
		t.Fatal("rejected validation must not burn the owner's session")
	}
}

func TestSecureTransferRedeemedBetweenValidateAndExecute(t *testing.T) {
	f := newFixture(t)
	sessions := withPIN(t, f)
	f.open(t, "user-a", "100-A", 10_000)
	f.open(t, "user-b", "100-B", 0)
	ctx := context.Background()

	session, _ := sessions.Issue(ctx, "user-a", "2468", pin.PurposeTransfer)
	action := NewSecureTransfer(f.deps, Command{
		SenderUserID:          "user-a",
		ReceiverAccountNumber: "100-B",
		Amount:                amount(1_000),
		PINToken:              session.Token,
	})
	if err := action.Validate(ctx); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := sessions.Redeem(ctx, session.Token, pin.PurposeTransfer); err != nil {
		t.Fatalf("concurrent redeem: %v", err)
	}

	result := action.Execute(ctx)
	if result.Code != CodeInvalidPINSession {
		t.Fatalf("expected session re-verification to fail, got %+v", result)
	}
	if !f.balance(t, "100-B").IsZero() {
		t.Fatalf("money moved without a session: %s", f.balance(t, "100-B"))
	}
}
