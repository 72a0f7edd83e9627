package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresRepository stores transfers in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a transfer repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const transferColumns = `id, kind, sender_user_id, sender_account_number, receiver_user_id,
        receiver_account_number, receiver_bank_code, amount::text, currency, memo, status,
        bank_transaction_id, failure_reason, created_at, updated_at, processed_at, claimed_until`

// Create inserts a new transfer record.
func (r *PostgresRepository) Create(ctx context.Context, t Transfer) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	_, err := r.db.Exec(ctx, `INSERT INTO transfers (id, kind, sender_user_id, sender_account_number, receiver_user_id,
        receiver_account_number, receiver_bank_code, amount, currency, memo, status,
        bank_transaction_id, failure_reason, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, string(t.Kind), t.SenderUserID, t.SenderAccountNumber, t.ReceiverUserID,
		t.ReceiverAccountNumber, t.ReceiverBankCode, t.Amount.String(), t.Currency, t.Memo, string(t.Status),
		t.BankTransactionID, t.FailureReason, t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrExists
		}
		return err
	}
	return nil
}

// Get fetches a transfer by transaction id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Transfer, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id)
	return scanTransfer(row)
}

// Transition updates status atomically when the stored status is in from.
func (r *PostgresRepository) Transition(ctx context.Context, id string, from []Status, update Update) (Transfer, error) {
	if !validTransition(from, update.Status) {
		return Transfer{}, ErrIllegalTransition
	}
	expected := make([]string, len(from))
	for i, s := range from {
		expected[i] = string(s)
	}
	var processedAt *time.Time
	if update.ProcessedAt != nil {
		ts := update.ProcessedAt.UTC()
		processedAt = &ts
	}

	row := r.db.QueryRow(ctx, `UPDATE transfers SET status = $2,
            bank_transaction_id = COALESCE($3, bank_transaction_id),
            failure_reason = COALESCE($4, failure_reason),
            processed_at = COALESCE($5, processed_at),
            updated_at = now()
        WHERE id = $1 AND status = ANY($6::text[])
        RETURNING `+transferColumns,
		id, string(update.Status), update.BankTransactionID, update.FailureReason, processedAt, expected)
	t, err := scanTransfer(row)
	if errors.Is(err, ErrNotFound) {
		current, getErr := r.Get(ctx, id)
		if getErr != nil {
			return Transfer{}, getErr
		}
		return current, ErrStatusConflict
	}
	return t, err
}

// ListReconcilable returns ambiguous and stale processing transfers past the
// grace cutoff whose claim has expired, oldest first.
func (r *PostgresRepository) ListReconcilable(ctx context.Context, c Criteria) ([]Transfer, error) {
	limit := c.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `SELECT `+transferColumns+` FROM transfers
        WHERE created_at < $1
          AND (claimed_until IS NULL OR claimed_until <= $2)
          AND (status IN ($3, $4) OR (status = $5 AND updated_at < $6))
        ORDER BY created_at ASC
        LIMIT $7`,
		c.CreatedBefore.UTC(), c.Now.UTC(), string(StatusTimeout), string(StatusUnknown), string(StatusProcessing),
		c.ProcessingBefore.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Claim sets claimed_until unless a live claim exists or the transfer has
// left the reconcilable statuses.
func (r *PostgresRepository) Claim(ctx context.Context, id string, until, now time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE transfers SET claimed_until = $2
        WHERE id = $1
          AND status IN ($4, $5, $6)
          AND (claimed_until IS NULL OR claimed_until <= $3)`,
		id, until.UTC(), now.UTC(), string(StatusProcessing), string(StatusTimeout), string(StatusUnknown))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		t, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if !t.Status.Reconcilable() {
			return ErrNotReconcilable
		}
		return ErrClaimed
	}
	return nil
}

// Release clears the claim.
func (r *PostgresRepository) Release(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE transfers SET claimed_until = NULL WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTransfer(row pgx.Row) (Transfer, error) {
	var (
		t         Transfer
		amountRaw string
		kind      string
		status    string
	)
	err := row.Scan(&t.ID, &kind, &t.SenderUserID, &t.SenderAccountNumber, &t.ReceiverUserID,
		&t.ReceiverAccountNumber, &t.ReceiverBankCode, &amountRaw, &t.Currency, &t.Memo, &status,
		&t.BankTransactionID, &t.FailureReason, &t.CreatedAt, &t.UpdatedAt, &t.ProcessedAt, &t.ClaimedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrNotFound
		}
		return Transfer{}, err
	}
	amount, err := decimal.NewFromString(amountRaw)
	if err != nil {
		return Transfer{}, err
	}
	t.Amount = amount
	t.Kind = Kind(kind)
	t.Status = Status(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}
