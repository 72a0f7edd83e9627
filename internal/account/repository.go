package account

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists account metadata. Balances live in the ledger.
type Repository interface {
	Create(ctx context.Context, acct Account) (Account, error)
	GetByNumber(ctx context.Context, number string) (Account, error)
	PrimaryForOwner(ctx context.Context, ownerID string) (Account, error)
	SetStatus(ctx context.Context, number, status string) error
}

// PostgresRepository stores accounts in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, account_number, owner_id, currency, status, is_primary, created_at`

// Create inserts an account record; the numeric id is assigned by the database.
func (r *PostgresRepository) Create(ctx context.Context, acct Account) (Account, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO accounts (account_number, owner_id, currency, status, is_primary, created_at)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+accountColumns,
		acct.Number, acct.OwnerID, acct.Currency, acct.Status, acct.Primary, acct.CreatedAt.UTC())
	created, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrExists
		}
		return Account{}, err
	}
	return created, nil
}

// GetByNumber fetches an account by its account number.
func (r *PostgresRepository) GetByNumber(ctx context.Context, number string) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number)
	return scanAccount(row)
}

// PrimaryForOwner returns the owner's primary active account, falling back to
// the oldest active one.
func (r *PostgresRepository) PrimaryForOwner(ctx context.Context, ownerID string) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
        WHERE owner_id = $1 AND status = $2
        ORDER BY is_primary DESC, id ASC LIMIT 1`, ownerID, StatusActive)
	acct, err := scanAccount(row)
	if errors.Is(err, ErrNotFound) {
		return Account{}, ErrNoPrimaryAccount
	}
	return acct, err
}

// SetStatus changes the lifecycle status of an account.
func (r *PostgresRepository) SetStatus(ctx context.Context, number, status string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET status = $1 WHERE account_number = $2`, status, number)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a         Account
		createdAt time.Time
	)
	if err := row.Scan(&a.ID, &a.Number, &a.OwnerID, &a.Currency, &a.Status, &a.Primary, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	a.CreatedAt = createdAt.UTC()
	return a, nil
}
