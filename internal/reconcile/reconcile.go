// Package reconcile closes out transfers whose outcome was not known when the
// request finished. It runs on a fixed period, outside the request path, and
// moves money only under the same lock discipline as live transfers.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/fundsflow/internal/account"
	"github.com/congo-pay/fundsflow/internal/audit"
	"github.com/congo-pay/fundsflow/internal/coordinator"
	"github.com/congo-pay/fundsflow/internal/gateway"
	"github.com/congo-pay/fundsflow/internal/ledger"
	"github.com/congo-pay/fundsflow/internal/notification"
	"github.com/congo-pay/fundsflow/internal/transfer"
)

// ErrBusy is returned by RunOnce when another run holds the lease.
var ErrBusy = errors.New("reconciliation already running")

// Config tunes the scheduler.
type Config struct {
	// Interval between runs.
	Interval time.Duration
	// GracePeriod skips transfers younger than this so in-flight requests
	// can finish on their own.
	GracePeriod time.Duration
	// StaleAfter selects PROCESSING transfers not updated for this long.
	StaleAfter time.Duration
	// HardCeiling is the age after which an unreachable gateway fails the
	// transfer as a system failure.
	HardCeiling time.Duration
	BatchSize   int
	// ClaimTTL bounds how long one candidate stays claimed.
	ClaimTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 10 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = c.GracePeriod
	}
	if c.HardCeiling <= 0 {
		c.HardCeiling = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 2 * time.Minute
	}
	return c
}

// Deps are the collaborators of the scheduler.
type Deps struct {
	Transfers    transfer.Repository
	Gateway      gateway.Client
	Coordinator  *coordinator.Coordinator
	Ledger       ledger.Store
	Accounts     account.Lookup
	Audit        audit.Sink
	Notifier     notification.Notifier
	OpsRecipient string
	// Cache holds the run lease; nil runs without one.
	Cache  redis.Cmdable
	Logger *slog.Logger
	Now    func() time.Time
}

// Report summarises one run.
type Report struct {
	Scanned    int `json:"scanned"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Unresolved int `json:"unresolved"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

// Scheduler periodically resolves ambiguous and stale transfers.
type Scheduler struct {
	deps   Deps
	cfg    Config
	lease  *lease
	logger *slog.Logger
	mu     sync.Mutex
}

// New builds a scheduler.
func New(deps Deps, cfg Config) *Scheduler {
	if deps.Audit == nil {
		deps.Audit = audit.Discard{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Scheduler{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		lease:  newLease(deps.Cache),
		logger: deps.Logger.With("component", "reconcile"),
	}
}

// Run reconciles every Interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info("reconciliation scheduler started", slog.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation scheduler stopped")
			return
		case <-ticker.C:
			report, err := s.RunOnce(ctx)
			switch {
			case errors.Is(err, ErrBusy):
				s.logger.Debug("reconciliation skipped, lease held elsewhere")
			case err != nil:
				s.logger.Error("reconciliation run failed", slog.Any("error", err))
			case report.Scanned > 0:
				s.logger.Info("reconciliation run finished", slog.Any("report", report))
			}
		}
	}
}

// RunOnce performs a single reconciliation pass.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	if !s.mu.TryLock() {
		return Report{}, ErrBusy
	}
	defer s.mu.Unlock()

	held, err := s.lease.acquire(ctx, s.cfg.Interval)
	if err != nil {
		return Report{}, fmt.Errorf("acquire lease: %w", err)
	}
	if !held {
		return Report{}, ErrBusy
	}
	defer func() {
		if err := s.lease.release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release reconciliation lease", slog.Any("error", err))
		}
	}()

	now := s.deps.Now().UTC()
	candidates, err := s.deps.Transfers.ListReconcilable(ctx, transfer.Criteria{
		CreatedBefore:    now.Add(-s.cfg.GracePeriod),
		ProcessingBefore: now.Add(-s.cfg.StaleAfter),
		Now:              now,
		Limit:            s.cfg.BatchSize,
	})
	if err != nil {
		return Report{}, fmt.Errorf("list candidates: %w", err)
	}

	var report Report
	for _, t := range candidates {
		if ctx.Err() != nil {
			break
		}
		report.Scanned++
		s.process(ctx, t, now, &report)
	}
	return report, nil
}

func (s *Scheduler) process(ctx context.Context, t transfer.Transfer, now time.Time, report *Report) {
	if err := s.deps.Transfers.Claim(ctx, t.ID, now.Add(s.cfg.ClaimTTL), now); err != nil {
		if !errors.Is(err, transfer.ErrClaimed) && !errors.Is(err, transfer.ErrNotReconcilable) {
			report.Errors++
			s.logger.Warn("claim transfer", slog.String("transaction_id", t.ID), slog.Any("error", err))
			return
		}
		report.Skipped++
		return
	}
	defer func() {
		if err := s.deps.Transfers.Release(context.WithoutCancel(ctx), t.ID); err != nil {
			s.logger.Warn("release transfer claim", slog.String("transaction_id", t.ID), slog.Any("error", err))
		}
	}()

	var (
		result resolution
		err    error
	)
	if t.Kind == transfer.KindInternal {
		result, err = s.repairInternal(ctx, t)
	} else {
		result, err = s.resolveExternal(ctx, t, now)
	}
	if err != nil {
		report.Errors++
		s.logger.Error("reconcile transfer",
			slog.String("transaction_id", t.ID),
			slog.String("status", string(t.Status)),
			slog.Any("error", err))
		return
	}

	switch result {
	case resolvedCompleted:
		report.Completed++
	case resolvedFailed:
		report.Failed++
	default:
		report.Unresolved++
	}
}

type resolution int

const (
	unresolved resolution = iota
	resolvedCompleted
	resolvedFailed
)

// repairInternal decides a stale internal transfer from the ledger alone.
// Internal movements never involve the gateway.
func (s *Scheduler) repairInternal(ctx context.Context, t transfer.Transfer) (resolution, error) {
	entries, err := s.deps.Ledger.EntriesByReference(ctx, t.ID)
	if err != nil {
		return unresolved, err
	}
	var debited, credited bool
	for _, e := range entries {
		switch e.Type {
		case ledger.EntryTransferOut:
			debited = true
		case ledger.EntryTransferIn:
			credited = true
		}
	}

	switch {
	case debited && credited:
		return s.complete(ctx, t, nil, "internal transfer repaired from ledger")
	case !debited:
		return s.fail(ctx, t, "not executed", false)
	}

	reversals, err := s.deps.Ledger.EntriesByReference(ctx, t.ID+":reversal")
	if err != nil {
		return unresolved, err
	}
	if len(reversals) > 0 {
		return s.fail(ctx, t, "credit failed, debit reversed", false)
	}

	// Debit without credit: replay the movement so the credit leg lands.
	from, err := s.party(ctx, t.SenderAccountNumber)
	if err != nil {
		return unresolved, err
	}
	to, err := s.party(ctx, t.ReceiverAccountNumber)
	if err != nil {
		return unresolved, err
	}
	if _, err := s.deps.Coordinator.Transfer(ctx, coordinator.Movement{
		From:        from,
		To:          to,
		Amount:      t.Amount,
		ReferenceID: t.ID,
		Description: "reconciled transfer to " + t.ReceiverAccountNumber,
		ActorID:     t.SenderUserID,
	}); err != nil {
		return s.fail(ctx, t, "credit could not be completed: "+err.Error(), true)
	}
	return s.complete(ctx, t, nil, "internal transfer completed by reconciliation")
}

// resolveExternal asks the gateway for the settled outcome.
func (s *Scheduler) resolveExternal(ctx context.Context, t transfer.Transfer, now time.Time) (resolution, error) {
	resp, err := s.deps.Gateway.GetTransferStatus(ctx, t.ID)
	if err != nil {
		if now.Sub(t.CreatedAt) < s.cfg.HardCeiling {
			s.logger.Warn("gateway status query failed",
				slog.String("transaction_id", t.ID),
				slog.Any("error", err))
			return unresolved, nil
		}
		return s.fail(ctx, t, "system failure: gateway unreachable past "+s.cfg.HardCeiling.String(), true)
	}

	switch {
	case resp.Status == gateway.StatusSuccess:
		return s.settle(ctx, t, resp)
	case resp.Status.Definite():
		return s.fail(ctx, t, "rejected by bank: "+describe(resp), false)
	case resp.ErrorCode == "NOT_FOUND" && now.Sub(t.CreatedAt) >= s.cfg.HardCeiling:
		return s.fail(ctx, t, "transfer unknown to bank past "+s.cfg.HardCeiling.String(), false)
	}

	if t.Status == transfer.StatusProcessing || (resp.Status == gateway.StatusTimeout) != (t.Status == transfer.StatusTimeout) {
		next := transfer.StatusUnknown
		if resp.Status == gateway.StatusTimeout {
			next = transfer.StatusTimeout
		}
		if _, err := s.deps.Transfers.Transition(ctx, t.ID, []transfer.Status{t.Status},
			transfer.Update{Status: next, FailureReason: transfer.Reason(describe(resp))}); err != nil && !errors.Is(err, transfer.ErrStatusConflict) {
			return unresolved, err
		}
	}
	if now.Sub(t.CreatedAt) >= s.cfg.HardCeiling {
		s.deps.Audit.LogWarning(ctx, s.event(t, "transfer still unresolved past ceiling"))
		s.logger.Warn("transfer unresolved past ceiling",
			slog.String("transaction_id", t.ID),
			slog.String("gateway_status", string(resp.Status)))
	}
	return unresolved, nil
}

// settle applies the deferred debit after a late SUCCESS. The coordinator
// re-verifies the balance under the account lock; the balance is never forced
// negative.
func (s *Scheduler) settle(ctx context.Context, t transfer.Transfer, resp gateway.Response) (resolution, error) {
	from, err := s.party(ctx, t.SenderAccountNumber)
	if err != nil {
		return unresolved, err
	}
	_, _, err = s.deps.Coordinator.Debit(ctx, from, t.Amount, ledger.EntryExternalTransferOut, t.ID,
		fmt.Sprintf("transfer to %s/%s", t.ReceiverBankCode, t.ReceiverAccountNumber), t.SenderUserID)
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		s.notify(ctx, t.SenderUserID, notification.KindInsufficientBalance,
			fmt.Sprintf("Insufficient balance on %s for %s %s", t.SenderAccountNumber, t.Amount.StringFixed(2), t.Currency))
		return s.fail(ctx, t, "insufficient balance when bank confirmed", true)
	}
	if err != nil {
		return unresolved, err
	}

	var bankTx *string
	if resp.BankTransactionID != "" {
		bankTx = &resp.BankTransactionID
	}
	return s.complete(ctx, t, bankTx, "external transfer confirmed by reconciliation")
}

func (s *Scheduler) complete(ctx context.Context, t transfer.Transfer, bankTx *string, description string) (resolution, error) {
	now := s.deps.Now().UTC()
	if _, err := s.deps.Transfers.Transition(ctx, t.ID, []transfer.Status{t.Status}, transfer.Update{
		Status:            transfer.StatusCompleted,
		BankTransactionID: bankTx,
		ProcessedAt:       &now,
	}); err != nil {
		return unresolved, err
	}
	s.deps.Audit.LogSuccess(ctx, s.event(t, description))
	s.notify(ctx, t.SenderUserID, notification.KindTransferSent,
		fmt.Sprintf("Your transfer %s of %s %s is complete", t.ID, t.Amount.StringFixed(2), t.Currency))
	if t.ReceiverUserID != nil {
		s.notify(ctx, *t.ReceiverUserID, notification.KindTransferReceived,
			fmt.Sprintf("You received %s %s from %s", t.Amount.StringFixed(2), t.Currency, t.SenderAccountNumber))
	}
	s.logger.Info("transfer reconciled", slog.String("transaction_id", t.ID), slog.String("status", string(transfer.StatusCompleted)))
	return resolvedCompleted, nil
}

func (s *Scheduler) fail(ctx context.Context, t transfer.Transfer, reason string, alert bool) (resolution, error) {
	now := s.deps.Now().UTC()
	if _, err := s.deps.Transfers.Transition(ctx, t.ID, []transfer.Status{t.Status}, transfer.Update{
		Status:        transfer.StatusFailed,
		FailureReason: transfer.Reason(reason),
		ProcessedAt:   &now,
	}); err != nil {
		return unresolved, err
	}
	s.deps.Audit.LogFailure(ctx, s.event(t, reason))
	s.notify(ctx, t.SenderUserID, notification.KindTransferFailed,
		fmt.Sprintf("Transfer %s of %s %s failed: %s", t.ID, t.Amount.StringFixed(2), t.Currency, reason))
	if alert {
		s.logger.Error("operations alert", slog.String("transaction_id", t.ID), slog.String("alert", reason))
		s.notify(ctx, s.deps.OpsRecipient, notification.KindOpsAlert,
			fmt.Sprintf("transfer %s from %s failed during reconciliation: %s", t.ID, t.SenderAccountNumber, reason))
	}
	s.logger.Info("transfer reconciled",
		slog.String("transaction_id", t.ID),
		slog.String("status", string(transfer.StatusFailed)),
		slog.String("reason", reason))
	return resolvedFailed, nil
}

func (s *Scheduler) party(ctx context.Context, number string) (coordinator.Party, error) {
	acct, err := s.deps.Accounts.Get(ctx, number)
	if err != nil {
		return coordinator.Party{}, fmt.Errorf("resolve account %s: %w", number, err)
	}
	return coordinator.Party{AccountID: acct.ID, AccountNumber: acct.Number}, nil
}

func (s *Scheduler) notify(ctx context.Context, destination, kind, body string) {
	if destination == "" {
		return
	}
	if err := s.deps.Notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body}); err != nil {
		s.logger.Warn("reconciliation notification failed", slog.String("kind", kind), slog.Any("error", err))
	}
}

func (s *Scheduler) event(t transfer.Transfer, description string) audit.Event {
	return audit.Event{
		ActorID:     "reconciler",
		Action:      "transfer.reconcile",
		ResourceID:  t.ID,
		Description: description,
		Request: map[string]any{
			"kind":             t.Kind,
			"previous_status":  t.Status,
			"sender_account":   t.SenderAccountNumber,
			"receiver_account": t.ReceiverAccountNumber,
			"amount":           t.Amount.StringFixed(2),
			"currency":         t.Currency,
		},
	}
}

func describe(resp gateway.Response) string {
	out := string(resp.Status)
	if resp.ErrorCode != "" {
		out += " " + resp.ErrorCode
	}
	if resp.ErrorMessage != "" {
		out += ": " + resp.ErrorMessage
	}
	return out
}
