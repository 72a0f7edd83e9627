package payments

import (
	"context"
	"errors"
	"log/slog"

	"github.com/congo-pay/fundsflow/internal/audit"
	"github.com/congo-pay/fundsflow/internal/logging"
	"github.com/congo-pay/fundsflow/internal/transfer"
)

// Receipt is the outcome of a submitted transfer.
type Receipt struct {
	Transfer transfer.Transfer
	Result   Result
}

// Service is the entry point for callers submitting transfers.
type Service struct {
	deps   Deps
	logger *slog.Logger
}

// NewService builds a payments service.
func NewService(deps Deps) *Service {
	deps = deps.withDefaults()
	return &Service{deps: deps, logger: deps.Logger.With("component", "payments")}
}

// Internal submits a transfer between two accounts held by this system.
func (s *Service) Internal(ctx context.Context, cmd Command) (Receipt, error) {
	return s.submit(ctx, cmd, NewInternalTransfer(s.deps, cmd))
}

// External submits a transfer to another bank.
func (s *Service) External(ctx context.Context, cmd Command) (Receipt, error) {
	return s.submit(ctx, cmd, NewExternalTransfer(s.deps, cmd))
}

// Secure submits a PIN-gated transfer routed by cmd.External.
func (s *Service) Secure(ctx context.Context, cmd Command) (Receipt, error) {
	return s.submit(ctx, cmd, NewSecureTransfer(s.deps, cmd))
}

func (s *Service) submit(ctx context.Context, cmd Command, action Action) (Receipt, error) {
	record, result, err := Run(ctx, action)
	if err != nil {
		if record.ID == "" {
			notifyRejected(ctx, s.deps, cmd, err)
		}
		s.logger.Info("transfer rejected",
			slog.String("request_id", logging.RequestID(ctx)),
			slog.String("sender_user_id", cmd.SenderUserID),
			slog.String("transaction_id", record.ID),
			slog.String("code", ErrorCode(err)),
			slog.Any("error", err))
		return Receipt{Transfer: record, Result: result}, err
	}
	s.logger.Info("transfer processed",
		slog.String("request_id", logging.RequestID(ctx)),
		slog.String("transaction_id", record.ID),
		slog.String("status", string(record.Status)),
		slog.String("outcome", string(result.Outcome)))
	return Receipt{Transfer: record, Result: result}, nil
}

// Get returns a transfer visible to the caller.
func (s *Service) Get(ctx context.Context, id, actorID string) (transfer.Transfer, error) {
	t, err := s.deps.Transfers.Get(ctx, id)
	if err != nil {
		return transfer.Transfer{}, err
	}
	if actorID != "" && t.SenderUserID != actorID && (t.ReceiverUserID == nil || *t.ReceiverUserID != actorID) {
		return transfer.Transfer{}, ErrNotParticipant
	}
	return t, nil
}

// Cancel withdraws a transfer that has not started executing. Only the
// sender may cancel.
func (s *Service) Cancel(ctx context.Context, id, actorID string) (transfer.Transfer, error) {
	t, err := s.deps.Transfers.Get(ctx, id)
	if err != nil {
		return transfer.Transfer{}, err
	}
	if t.SenderUserID != actorID {
		return transfer.Transfer{}, ErrNotParticipant
	}
	cancelled, err := s.deps.Transfers.Transition(ctx, id, []transfer.Status{transfer.StatusRequested},
		transfer.Update{Status: transfer.StatusCancelled, FailureReason: transfer.Reason("cancelled by sender")})
	if err != nil {
		if errors.Is(err, transfer.ErrStatusConflict) {
			return cancelled, ErrNotCancellable
		}
		return transfer.Transfer{}, err
	}
	s.deps.Audit.LogSuccess(ctx, audit.Event{
		ActorID:     actorID,
		Action:      "transfer.cancel",
		ResourceID:  id,
		Description: "transfer cancelled before execution",
	})
	return cancelled, nil
}
