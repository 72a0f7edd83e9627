package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists balances and ledger entries in PostgreSQL. Each
// mutation runs in its own transaction holding a row lock on the balance.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed balance store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Balance returns the current balance for the account number.
func (s *PostgresStore) Balance(ctx context.Context, accountNumber string) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRow(ctx, `SELECT balance::text FROM balances WHERE account_number = $1`, accountNumber).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

// HasSufficientBalance reports whether the balance covers amount. A missing
// account is reported as false.
func (s *PostgresStore) HasSufficientBalance(ctx context.Context, accountNumber string, amount decimal.Decimal) (bool, error) {
	balance, err := s.Balance(ctx, accountNumber)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, nil
		}
		return false, err
	}
	return balance.GreaterThanOrEqual(amount), nil
}

// Increase credits the account, creating its balance record on first use.
func (s *PostgresStore) Increase(ctx context.Context, change Change) (ChangeResult, error) {
	if err := change.validate(); err != nil {
		return ChangeResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ChangeResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO balances (account_number, balance, created_at, updated_at)
        VALUES ($1, 0, now(), now()) ON CONFLICT (account_number) DO NOTHING`, change.AccountNumber); err != nil {
		return ChangeResult{}, err
	}

	before, err := lockBalance(ctx, tx, change.AccountNumber)
	if err != nil {
		return ChangeResult{}, err
	}

	if res, found, err := existingChange(ctx, tx, change); err != nil {
		return ChangeResult{}, err
	} else if found {
		return res, ErrDuplicateReference
	}

	res, err := writeChange(ctx, tx, change, before, before.Add(change.Amount))
	if err != nil {
		return ChangeResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ChangeResult{}, err
	}
	return res, nil
}

// Decrease debits the account, rejecting the mutation before any write when
// the result would be negative.
func (s *PostgresStore) Decrease(ctx context.Context, change Change) (ChangeResult, error) {
	if err := change.validate(); err != nil {
		return ChangeResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ChangeResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	before, err := lockBalance(ctx, tx, change.AccountNumber)
	if err != nil {
		return ChangeResult{}, err
	}

	if res, found, err := existingChange(ctx, tx, change); err != nil {
		return ChangeResult{}, err
	} else if found {
		return res, ErrDuplicateReference
	}

	after := before.Sub(change.Amount)
	if after.IsNegative() {
		return ChangeResult{}, &InsufficientBalanceError{
			AccountNumber: change.AccountNumber,
			Balance:       before,
			Requested:     change.Amount,
		}
	}

	res, err := writeChange(ctx, tx, change, before, after)
	if err != nil {
		return ChangeResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ChangeResult{}, err
	}
	return res, nil
}

// Entries lists the account history in creation order.
func (s *PostgresStore) Entries(ctx context.Context, accountNumber string) ([]Entry, error) {
	if _, err := s.Balance(ctx, accountNumber); err != nil {
		return nil, err
	}
	return s.queryEntries(ctx, `WHERE account_number = $1`, accountNumber)
}

// EntriesByReference lists every entry written for a reference id.
func (s *PostgresStore) EntriesByReference(ctx context.Context, referenceID string) ([]Entry, error) {
	return s.queryEntries(ctx, `WHERE reference_id = $1`, referenceID)
}

func (s *PostgresStore) queryEntries(ctx context.Context, where string, arg string) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT id, account_number, entry_type, amount::text, balance_before::text,
        balance_after::text, description, reference_id, actor_id, status, created_at
        FROM ledger_entries `+where+` ORDER BY created_at, id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                     Entry
			id                    uuid.UUID
			entryType             string
			amount, before, after string
			createdAt             time.Time
		)
		if err := rows.Scan(&id, &e.AccountNumber, &entryType, &amount, &before, &after,
			&e.Description, &e.ReferenceID, &e.ActorID, &e.Status, &createdAt); err != nil {
			return nil, err
		}
		e.ID = id.String()
		e.Type = EntryType(entryType)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if e.BalanceBefore, err = decimal.NewFromString(before); err != nil {
			return nil, err
		}
		if e.BalanceAfter, err = decimal.NewFromString(after); err != nil {
			return nil, err
		}
		e.CreatedAt = createdAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func lockBalance(ctx context.Context, tx pgx.Tx, accountNumber string) (decimal.Decimal, error) {
	var raw string
	err := tx.QueryRow(ctx, `SELECT balance::text FROM balances WHERE account_number = $1 FOR UPDATE`, accountNumber).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func existingChange(ctx context.Context, tx pgx.Tx, change Change) (ChangeResult, bool, error) {
	if change.ReferenceID == "" {
		return ChangeResult{}, false, nil
	}
	const query = `SELECT id, balance_before::text, balance_after::text FROM ledger_entries
        WHERE account_number = $1 AND entry_type = $2 AND reference_id = $3`
	var (
		id            uuid.UUID
		before, after string
	)
	err := tx.QueryRow(ctx, query, change.AccountNumber, string(change.Type), change.ReferenceID).Scan(&id, &before, &after)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChangeResult{}, false, nil
		}
		return ChangeResult{}, false, err
	}
	res := ChangeResult{AccountNumber: change.AccountNumber, EntryID: id.String()}
	if res.Before, err = decimal.NewFromString(before); err != nil {
		return ChangeResult{}, false, err
	}
	if res.After, err = decimal.NewFromString(after); err != nil {
		return ChangeResult{}, false, err
	}
	return res, true, nil
}

func writeChange(ctx context.Context, tx pgx.Tx, change Change, before, after decimal.Decimal) (ChangeResult, error) {
	if _, err := tx.Exec(ctx, `UPDATE balances SET balance = $1::numeric, updated_at = now() WHERE account_number = $2`,
		after.String(), change.AccountNumber); err != nil {
		return ChangeResult{}, fmt.Errorf("update balance: %w", err)
	}

	entryID := uuid.New()
	if _, err := tx.Exec(ctx, `INSERT INTO ledger_entries (id, account_number, entry_type, amount, balance_before,
        balance_after, description, reference_id, actor_id, status, created_at)
        VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9, $10, now())`,
		entryID, change.AccountNumber, string(change.Type), change.Amount.String(), before.String(), after.String(),
		change.Description, change.ReferenceID, change.ActorID, EntryStatusPosted); err != nil {
		return ChangeResult{}, fmt.Errorf("insert ledger entry: %w", err)
	}

	return ChangeResult{
		AccountNumber: change.AccountNumber,
		EntryID:       entryID.String(),
		Before:        before,
		After:         after,
	}, nil
}
