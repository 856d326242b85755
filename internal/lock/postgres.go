package lock

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresLocker relies on session level advisory locks. Each held lock pins
// one pooled connection until released.
type PostgresLocker struct {
	db *sqlx.DB
}

// NewPostgresLocker constructs an advisory lock backed locker.
func NewPostgresLocker(db *sqlx.DB) *PostgresLocker {
	return &PostgresLocker{db: db}
}

// Acquire tries pg_try_advisory_lock on a hash of the lock key.
func (l *PostgresLocker) Acquire(ctx context.Context, groupID string) (*Token, error) {
	token := newToken(groupID)
	conn, err := l.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for %s: %w", token.Key, err)
	}
	var ok bool
	if err := conn.QueryRowxContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", token.Key).Scan(&ok); err != nil {
		conn.Close()
		return nil, fmt.Errorf("try advisory lock %s: %w", token.Key, err)
	}
	if !ok {
		conn.Close()
		return nil, ErrContention
	}
	token.conn = conn
	return token, nil
}

// Release unlocks the advisory lock and returns the connection to the pool.
func (l *PostgresLocker) Release(ctx context.Context, token *Token) error {
	if token == nil || token.conn == nil {
		return ErrNotHeld
	}
	defer func() {
		token.conn.Close()
		token.conn = nil
	}()
	var ok bool
	if err := token.conn.QueryRowxContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", token.Key).Scan(&ok); err != nil {
		return fmt.Errorf("advisory unlock %s: %w", token.Key, err)
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}
