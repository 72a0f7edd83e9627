package pin

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// ErrUserNotFound is returned when no PIN is registered for the user.
var ErrUserNotFound = errors.New("user not found")

// HashLookup returns the bcrypt hash of a user's transaction PIN. PIN storage
// itself is owned by the user service.
type HashLookup interface {
	PINHash(ctx context.Context, userID string) ([]byte, error)
}

// PostgresHashLookup reads PIN hashes from the users table.
type PostgresHashLookup struct {
	db *pgxpool.Pool
}

// NewPostgresHashLookup builds a Postgres-backed hash lookup.
func NewPostgresHashLookup(db *pgxpool.Pool) *PostgresHashLookup {
	return &PostgresHashLookup{db: db}
}

// PINHash implements HashLookup.
func (l *PostgresHashLookup) PINHash(ctx context.Context, userID string) ([]byte, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	var hash []byte
	if err := l.db.QueryRow(ctx, `SELECT pin_hash FROM users WHERE id = $1`, id).Scan(&hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if len(hash) == 0 {
		return nil, ErrUserNotFound
	}
	return hash, nil
}

// MemoryHashLookup keeps PIN hashes in memory for development and tests.
type MemoryHashLookup struct {
	mu     sync.RWMutex
	hashes map[string][]byte
}

// NewMemoryHashLookup builds an empty in-memory lookup.
func NewMemoryHashLookup() *MemoryHashLookup {
	return &MemoryHashLookup{hashes: make(map[string][]byte)}
}

// SetPIN hashes and stores a PIN for the user.
func (l *MemoryHashLookup) SetPIN(userID, pin string) error {
	if len(pin) < 4 {
		return errors.New("PIN must be at least 4 digits")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hashes[userID] = hash
	return nil
}

// PINHash implements HashLookup.
func (l *MemoryHashLookup) PINHash(_ context.Context, userID string) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	hash, ok := l.hashes[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return hash, nil
}
