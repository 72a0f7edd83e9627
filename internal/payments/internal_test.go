package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/congo-pay/fundsflow/internal/ledger"
	"github.com/congo-pay/fundsflow/internal/notification"
	"github.com/congo-pay/fundsflow/internal/transfer"
)

func TestInternalTransferCompletes(t *testing.T) {
	f := newFixture(t)
	f.open(t, "user-a", "100-A", 100_000)
	f.open(t, "user-b", "100-B", 50_000)

	receipt, err := f.svc.Internal(context.Background(), Command{
		SenderUserID:          "user-a",
		ReceiverAccountNumber: "100-B",
		Amount:                amount(10_000),
		Memo:                  "rent",
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if receipt.Transfer.Status != transfer.StatusCompleted || receipt.Transfer.ProcessedAt == nil {
		t.Fatalf("expected completed transfer, got %+v", receipt.Transfer)
	}
	if !f.balance(t, "100-A").Equal(amount(90_000)) || !f.balance(t, "100-B").Equal(amount(60_000)) {
		t.Fatalf("unexpected balances a=%s b=%s", f.balance(t, "100-A"), f.balance(t, "100-B"))
	}
	if !f.notifier.has("user-a", notification.KindTransferSent) || !f.notifier.has("user-b", notification.KindTransferReceived) {
		t.Fatalf("expected both parties notified, got %+v", f.notifier.messages)
	}
	if len(f.audit.success) != 1 || f.audit.success[0].ResourceID != receipt.Transfer.ID {
		t.Fatalf("expected success audit for transfer, got %+v", f.audit.success)
	}
	stored, _ := f.transfers.Get(context.Background(), receipt.Transfer.ID)
	if stored.ReceiverUserID == nil || *stored.ReceiverUserID != "user-b" {
		t.Fatalf("receiver identity not recorded: %+v", stored)
	}
}

func TestInternalTransferInsufficientBalanceWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.open(t, "user-a", "100-A", 5_000)
	f.open(t, "user-b", "100-B", 0)

	_, err := f.svc.Internal(context.Background(), Command{
		SenderUserID:          "user-a",
		ReceiverAccountNumber: "100-B",
		Amount:                amount(10_000),
	})
	if !errors.Is(err, ledger.ErrInsufficientBalance) || ErrorCode(err) != CodeInsufficientBalance {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if !f.balance(t, "100-A").Equal(amount(5_000)) {
		t.Fatalf("sender balance changed: %s", f.balance(t, "100-A"))
	}
	entries, _ := f.ledger.Entries(context.Background(), "100-A")
	if len(entries) != 0 {
		t.Fatalf("expected no ledger entries, got %d", len(entries))
	}
	if !f.notifier.has("user-a", notification.KindInsufficientBalance) {
		t.Fatal("expected low balance notification")
	}
}

func TestInternalTransferValidation(t *testing.T) {
	f := newFixture(t)
	f.open(t, "user-a", "100-A", 10_000)
	f.open(t, "user-b", "100-B", 0)
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  Command
		code string
	}{
		{"zero amount", Command{SenderUserID: "user-a", ReceiverAccountNumber: "100-B", Amount: amount(0)}, CodeValidation},
		{"self transfer", Command{SenderUserID: "user-a", ReceiverAccountNumber: "100-A", Amount: amount(1)}, CodeSelfTransfer},
		{"unknown receiver", Command{SenderUserID: "user-a", ReceiverAccountNumber: "404", Amount: amount(1)}, CodeAccountNotFound},
		{"no sender account", Command{SenderUserID: "user-z", ReceiverAccountNumber: "100-B", Amount: amount(1)}, CodeMemberNotFound},
		{"foreign sender account", Command{SenderUserID: "user-b", SenderAccountNumber: "100-A", ReceiverAccountNumber: "100-B", Amount: amount(1)}, CodeValidation},
	}
	for _, tc := range cases {
		_, err := f.svc.Internal(ctx, tc.cmd)
		if ErrorCode(err) != tc.code {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.code, err)
		}
	}
	if len(f.audit.success)+len(f.audit.failure) != 0 {
		t.Fatalf("validation failures must not reach execution")
	}
}

func TestInternalTransferRejectsInactiveReceiver(t *testing.T) {
	f := newFixture(t)
	f.open(t, "user-a", "100-A", 10_000)
	f.open(t, "user-b", "100-B", 0)
	if err := f.accounts.Deactivate(context.Background(), "100-B"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := f.svc.Internal(context.Background(), Command{SenderUserID: "user-a", ReceiverAccountNumber: "100-B", Amount: amount(1)})
	if ErrorCode(err) != CodeAccountInactive {
		t.Fatalf("expected inactive account, got %v", err)
	}
}

func TestConcurrentInternalTransfersSplitExactly(t *testing.T) {
	f := newFixture(t)
	f.open(t, "user-a", "100-A", 5_000)
	f.open(t, "user-b", "100-B", 0)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[string]int{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipt, err := f.svc.Internal(context.Background(), Command{
				TransactionID:         fmt.Sprintf("tx-%d", i),
				SenderUserID:          "user-a",
				ReceiverAccountNumber: "100-B",
				Amount:                amount(1_000),
			})
			key := string(receipt.Transfer.Status)
			if err != nil {
				key = ErrorCode(err)
			}
			mu.Lock()
			outcomes[key]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	rejected := outcomes[string(transfer.StatusFailed)] + outcomes[CodeInsufficientBalance]
	if outcomes[string(transfer.StatusCompleted)] != 5 || rejected != 5 {
		t.Fatalf("expected 5 completed and 5 insufficient, got %v", outcomes)
	}
	if !f.balance(t, "100-A").IsZero() || !f.balance(t, "100-B").Equal(amount(5_000)) {
		t.Fatalf("unexpected balances a=%s b=%s", f.balance(t, "100-A"), f.balance(t, "100-B"))
	}
}

func TestInternalTransferReverifiesAtExecution(t *testing.T) {
	f := newFixture(t)
	f.open(t, "user-a", "100-A", 5_000)
	f.open(t, "user-b", "100-B", 0)
	ctx := context.Background()

	action := NewInternalTransfer(f.deps, Command{SenderUserID: "user-a", ReceiverAccountNumber: "100-B", Amount: amount(4_000)})
	if err := action.Validate(ctx); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := action.SavePending(ctx); err != nil {
		t.Fatalf("save pending: %v", err)
	}
	// Funds spent elsewhere between validation and execution.
	if _, err := f.ledger.Decrease(ctx, ledger.Change{AccountNumber: "100-A", Amount: amount(2_000), Type: ledger.EntryWithdrawal, ReferenceID: "atm-1"}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	result := action.Execute(ctx)
	if result.Outcome != OutcomeFailure || result.Code != CodeInsufficientBalance {
		t.Fatalf("expected insufficient failure, got %+v", result)
	}
	final, err := action.UpdateFromResult(ctx, result)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if final.Status != transfer.StatusFailed || final.FailureReason == nil {
		t.Fatalf("expected failed transfer with reason, got %+v", final)
	}
	if !f.balance(t, "100-A").Equal(amount(3_000)) {
		t.Fatalf("unexpected sender balance %s", f.balance(t, "100-A"))
	}
	if len(f.audit.failure) != 1 {
		t.Fatalf("expected failure audit, got %d", len(f.audit.failure))
	}
}

func TestDuplicateTransactionIDRejected(t *testing.T) {
	f := newFixture(t)
	f.open(t, "user-a", "100-A", 5_000)
	f.open(t, "user-b", "100-B", 0)
	cmd := Command{TransactionID: "tx-fixed", SenderUserID: "user-a", ReceiverAccountNumber: "100-B", Amount: amount(1_000)}

	if _, err := f.svc.Internal(context.Background(), cmd); err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	if _, err := f.svc.Internal(context.Background(), cmd); !errors.Is(err, transfer.ErrExists) {
		t.Fatalf("expected duplicate transaction, got %v", err)
	}
	if !f.balance(t, "100-A").Equal(amount(4_000)) {
		t.Fatalf("duplicate moved money: %s", f.balance(t, "100-A"))
	}
}
