package account

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundsflow/internal/ledger"
)

// PrimaryAccountResolver resolves the account a user sends from when the
// caller does not name one.
type PrimaryAccountResolver interface {
	PrimaryAccount(ctx context.Context, userID string) (Account, error)
}

// Lookup resolves accounts by number.
type Lookup interface {
	Get(ctx context.Context, number string) (Account, error)
}

// Service exposes account lookups used by the funds-movement core.
type Service struct {
	repo   Repository
	ledger ledger.Store
}

// NewService builds an account service instance.
func NewService(repo Repository, ledger ledger.Store) *Service {
	return &Service{repo: repo, ledger: ledger}
}

// OpenInput captures data required to open an account.
type OpenInput struct {
	OwnerID  string
	Number   string
	Currency string
	Primary  bool
}

// Open registers account metadata. The balance record is created by the
// ledger on first credit.
func (s *Service) Open(ctx context.Context, input OpenInput) (Account, error) {
	if strings.TrimSpace(input.OwnerID) == "" {
		return Account{}, fmt.Errorf("owner id is required")
	}
	number := strings.TrimSpace(input.Number)
	if number == "" {
		number = generateNumber()
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "XAF"
	}

	return s.repo.Create(ctx, Account{
		Number:    number,
		OwnerID:   input.OwnerID,
		Currency:  currency,
		Status:    StatusActive,
		Primary:   input.Primary,
		CreatedAt: time.Now().UTC(),
	})
}

// Get retrieves account metadata by number.
func (s *Service) Get(ctx context.Context, number string) (Account, error) {
	return s.repo.GetByNumber(ctx, number)
}

// PrimaryAccount implements PrimaryAccountResolver.
func (s *Service) PrimaryAccount(ctx context.Context, userID string) (Account, error) {
	return s.repo.PrimaryForOwner(ctx, userID)
}

// OwnerOf implements ledger.OwnerLookup.
func (s *Service) OwnerOf(ctx context.Context, number string) (string, error) {
	acct, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return "", err
	}
	return acct.OwnerID, nil
}

// Deactivate marks the account inactive. Accounts holding funds stay active.
func (s *Service) Deactivate(ctx context.Context, number string) error {
	balance, err := s.ledger.Balance(ctx, number)
	if err != nil && !errors.Is(err, ledger.ErrAccountNotFound) {
		return err
	}
	if balance.IsPositive() {
		return fmt.Errorf("account %s still holds %s", number, balance.String())
	}
	return s.repo.SetStatus(ctx, number, StatusInactive)
}

// Balance is the ledger balance of an account at a point in time.
type Balance struct {
	AccountNumber string
	Amount        decimal.Decimal
	AsOf          time.Time
}

// Balance returns the ledger balance for the account. Accounts that were never
// credited report zero.
func (s *Service) Balance(ctx context.Context, number string) (Balance, error) {
	acct, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return Balance{}, err
	}
	amount, err := s.ledger.Balance(ctx, acct.Number)
	if err != nil && !errors.Is(err, ledger.ErrAccountNotFound) {
		return Balance{}, err
	}
	return Balance{AccountNumber: acct.Number, Amount: amount, AsOf: time.Now().UTC()}, nil
}

func generateNumber() string {
	id := uuid.New()
	return fmt.Sprintf("3333%010d", binary.BigEndian.Uint64(id[:8])%10_000_000_000)
}
