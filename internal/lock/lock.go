// Package lock serialises mutating operations on a single plan group.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrContention is returned when another holder owns the lock.
	ErrContention = errors.New("lock: held by another operation")
	// ErrNotHeld is returned when releasing a token that no longer owns the lock.
	ErrNotHeld = errors.New("lock: token does not hold the lock")
)

// Token proves ownership of an acquired lock. It must be passed back to Release.
type Token struct {
	Key        string
	Value      string
	AcquiredAt time.Time

	conn *sqlx.Conn
}

// Locker acquires exclusive, non-blocking locks keyed by plan group id.
// Acquire never waits: a held lock yields ErrContention immediately.
type Locker interface {
	Acquire(ctx context.Context, groupID string) (*Token, error)
	Release(ctx context.Context, token *Token) error
}

// Key derives the lock key for a plan group.
func Key(groupID string) string {
	return "plan_group_lock:" + groupID
}

func newToken(groupID string) *Token {
	return &Token{Key: Key(groupID), Value: uuid.NewString(), AcquiredAt: time.Now().UTC()}
}
