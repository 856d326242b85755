package lock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryLocker keeps locks in process memory. Suitable for a single instance.
type MemoryLocker struct {
	mu      sync.Mutex
	held    map[string]memoryEntry
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewMemoryLocker constructs an in-process locker. A zero ttl means locks never
// expire on their own.
func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryEntry), ttl: ttl, nowFunc: time.Now}
}

// Acquire takes the lock for groupID or fails with ErrContention.
func (l *MemoryLocker) Acquire(ctx context.Context, groupID string) (*Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token := newToken(groupID)

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFunc()
	if entry, ok := l.held[token.Key]; ok {
		if entry.expiresAt.IsZero() || now.Before(entry.expiresAt) {
			return nil, ErrContention
		}
	}
	entry := memoryEntry{value: token.Value}
	if l.ttl > 0 {
		entry.expiresAt = now.Add(l.ttl)
	}
	l.held[token.Key] = entry
	return token, nil
}

// Release frees the lock when the token still owns it.
func (l *MemoryLocker) Release(_ context.Context, token *Token) error {
	if token == nil {
		return ErrNotHeld
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.held[token.Key]
	if !ok || entry.value != token.Value {
		return ErrNotHeld
	}
	delete(l.held, token.Key)
	return nil
}
