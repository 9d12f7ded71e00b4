package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryManager is an in-process Manager for local development and tests,
// grounded on DynamoManager's conditional-acquire semantics but backed by a
// mutex-guarded map instead of a DynamoDB table.
type MemoryManager struct {
	mu      sync.Mutex
	holders map[string]*Lease
}

var _ Manager = (*MemoryManager)(nil)

// NewMemoryManager builds an empty MemoryManager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{holders: make(map[string]*Lease)}
}

func (m *MemoryManager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = DefaultCallTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.holders[key]; ok && existing.ExpiresAt.After(now) {
		return nil, ErrBusy
	}

	l := &Lease{Key: key, HolderToken: uuid.NewString(), ExpiresAt: now.Add(ttl)}
	m.holders[key] = l
	return l, nil
}

func (m *MemoryManager) Renew(ctx context.Context, l *Lease, ttl time.Duration) error {
	if l == nil {
		return ErrLost
	}
	if ttl <= 0 {
		ttl = DefaultCallTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.holders[l.Key]
	if !ok || current.HolderToken != l.HolderToken {
		return ErrLost
	}
	l.ExpiresAt = time.Now().UTC().Add(ttl)
	current.ExpiresAt = l.ExpiresAt
	return nil
}

func (m *MemoryManager) Release(ctx context.Context, l *Lease) error {
	if l == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.holders[l.Key]; ok && current.HolderToken == l.HolderToken {
		delete(m.holders, l.Key)
	}
	return nil
}
