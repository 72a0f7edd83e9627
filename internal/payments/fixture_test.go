package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundsflow/internal/account"
	"github.com/congo-pay/fundsflow/internal/audit"
	"github.com/congo-pay/fundsflow/internal/coordinator"
	"github.com/congo-pay/fundsflow/internal/gateway"
	"github.com/congo-pay/fundsflow/internal/ledger"
	"github.com/congo-pay/fundsflow/internal/logging"
	"github.com/congo-pay/fundsflow/internal/notification"
	"github.com/congo-pay/fundsflow/internal/transfer"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func (n *recordingNotifier) kinds(destination string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.messages {
		if m.Destination == destination {
			out = append(out, m.Kind)
		}
	}
	return out
}

func (n *recordingNotifier) has(destination, kind string) bool {
	for _, k := range n.kinds(destination) {
		if k == kind {
			return true
		}
	}
	return false
}

type recordingAudit struct {
	mu                        sync.Mutex
	success, failure, warning []audit.Event
}

func (a *recordingAudit) LogSuccess(_ context.Context, e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.success = append(a.success, e)
}

func (a *recordingAudit) LogFailure(_ context.Context, e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failure = append(a.failure, e)
}

func (a *recordingAudit) LogWarning(_ context.Context, e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.warning = append(a.warning, e)
}

type fixture struct {
	deps      Deps
	svc       *Service
	ledger    ledger.Store
	accounts  *account.Service
	transfers transfer.Repository
	gateway   *gateway.Simulator
	notifier  *recordingNotifier
	audit     *recordingAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewInMemory()
	accounts := account.NewService(account.NewMemoryRepository(), store)
	f := &fixture{
		ledger:    store,
		accounts:  accounts,
		transfers: transfer.NewMemoryRepository(),
		gateway:   gateway.NewSimulator(),
		notifier:  &recordingNotifier{},
		audit:     &recordingAudit{},
	}
	f.deps = Deps{
		Accounts:     accounts,
		Ledger:       store,
		Coordinator:  coordinator.New(store, logging.Discard()),
		Transfers:    f.transfers,
		Gateway:      f.gateway,
		Banks:        gateway.NewDirectory(map[string]string{"BNK": "Bank One"}),
		Audit:        f.audit,
		Notifier:     f.notifier,
		BankCode:     "CPAY",
		Currency:     "XAF",
		OpsRecipient: "ops-team",
		Logger:       logging.Discard(),
		Now:          func() time.Time { return time.Now().UTC() },
	}
	f.svc = NewService(f.deps)
	return f
}

func (f *fixture) open(t *testing.T, owner, number string, balance int64) account.Account {
	t.Helper()
	acct, err := f.accounts.Open(context.Background(), account.OpenInput{OwnerID: owner, Number: number, Primary: true})
	if err != nil {
		t.Fatalf("open account %s: %v", number, err)
	}
	ledger.SeedBalance(f.ledger, number, amount(balance))
	return acct
}

func (f *fixture) balance(t *testing.T, number string) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), number)
	if err != nil {
		t.Fatalf("balance %s: %v", number, err)
	}
	return b
}

func amount(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
