package callstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/brightline-labs/voicecore/internal/callmodel"
)

// MemoryStore is an in-process Store for local development and tests,
// mirroring queue.MemoryQueue's mutex-guarded map approach rather than
// DynamoStore's wire format.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*callmodel.Call
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]*callmodel.Call)}
}

func (s *MemoryStore) GetLast(ctx context.Context, phoneNumber string) (*callmodel.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *callmodel.Call
	for _, c := range s.byID {
		if c.Initiate.CallerPhoneNumber != phoneNumber {
			continue
		}
		if latest == nil || c.UpdatedAt.After(latest.UpdatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, newErr(KindNotFound, ErrNotFound)
	}
	clone := *latest
	return &clone, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*callmodel.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, newErr(KindNotFound, ErrNotFound)
	}
	clone := *c
	return &clone, nil
}

func (s *MemoryStore) Save(ctx context.Context, call *callmodel.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[call.CallID]
	if ok && existing.Version != call.Version {
		return newErr(KindConflict, ErrConflict)
	}

	call.Version++
	clone := *call
	s.byID[call.CallID] = &clone
	return nil
}

func (s *MemoryStore) ListByPhone(ctx context.Context, phoneNumber string, limit int) ([]*callmodel.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []*callmodel.Call
	for _, c := range s.byID {
		if c.Initiate.CallerPhoneNumber == phoneNumber {
			clone := *c
			matches = append(matches, &clone)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
