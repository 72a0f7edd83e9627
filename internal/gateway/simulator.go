package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Outcome scripts how the simulator answers for a receiver account.
type Outcome struct {
	// Process is returned by ProcessTransfer.
	Process Status
	// Settled is what later status queries report when Process was ambiguous.
	Settled Status
}

// Simulator is an in-process Client for development and tests. Transfers
// succeed unless an outcome is scripted for the receiver account.
type Simulator struct {
	mu        sync.Mutex
	outcomes  map[string]Outcome
	processed map[string]Response
	calls     map[string]int
}

// NewSimulator builds a simulator where every transfer succeeds.
func NewSimulator() *Simulator {
	return &Simulator{
		outcomes:  make(map[string]Outcome),
		processed: make(map[string]Response),
		calls:     make(map[string]int),
	}
}

// Script sets the outcome for transfers to receiverAccount.
func (s *Simulator) Script(receiverAccount string, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[receiverAccount] = outcome
}

// Settle overrides the status reported for a transaction from now on.
func (s *Simulator) Settle(transactionID string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := s.processed[transactionID]
	resp.Status = status
	if status == StatusSuccess && resp.BankTransactionID == "" {
		resp.BankTransactionID = "SIM-" + uuid.NewString()
	}
	s.processed[transactionID] = resp
}

// Calls reports how many times ProcessTransfer saw the transaction id.
func (s *Simulator) Calls(transactionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[transactionID]
}

func (s *Simulator) ProcessTransfer(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.TransactionID]++

	if prior, ok := s.processed[req.TransactionID]; ok && !prior.Status.Ambiguous() {
		return prior, nil
	}

	outcome, ok := s.outcomes[req.ReceiverAccount]
	if !ok {
		outcome = Outcome{Process: StatusSuccess}
	}
	resp := Response{Status: outcome.Process}
	if resp.Status == StatusSuccess {
		resp.BankTransactionID = "SIM-" + uuid.NewString()
	}
	if resp.Status.Definite() {
		resp.ErrorCode = string(resp.Status)
		resp.ErrorMessage = "simulated rejection"
	}

	stored := resp
	if resp.Status.Ambiguous() && outcome.Settled != "" {
		stored = Response{Status: outcome.Settled}
		if outcome.Settled == StatusSuccess {
			stored.BankTransactionID = "SIM-" + uuid.NewString()
		}
	}
	s.processed[req.TransactionID] = stored
	return resp, nil
}

func (s *Simulator) GetTransferStatus(ctx context.Context, transactionID string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.processed[transactionID]
	if !ok {
		return Response{Status: StatusUnknown, ErrorCode: "NOT_FOUND"}, nil
	}
	return resp, nil
}
