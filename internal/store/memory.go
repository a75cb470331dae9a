// Package store holds the settlement schedule backends: an in-memory map, a
// Postgres table and an embedded BoltDB file.
package store

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/settlement"
)

// MemoryStore keeps the schedule in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu  sync.RWMutex
	ops map[domain.ID]domain.PendingOperation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[domain.ID]domain.PendingOperation)}
}

func (s *MemoryStore) Save(_ context.Context, op domain.PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.ID] = clone(op)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id domain.ID) (domain.PendingOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[id]
	if !ok {
		return domain.PendingOperation{}, settlement.ErrNotFound
	}
	return clone(op), nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.PendingOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ops := make([]domain.PendingOperation, 0, len(s.ops))
	for _, op := range s.ops {
		ops = append(ops, clone(op))
	}
	sortByDue(ops)
	return ops, nil
}

func (s *MemoryStore) Delete(_ context.Context, id domain.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, id)
	return nil
}

// clone keeps callers from sharing the stored amount.
func clone(op domain.PendingOperation) domain.PendingOperation {
	if op.Amount != nil {
		op.Amount = new(big.Int).Set(op.Amount)
	}
	return op
}

func sortByDue(ops []domain.PendingOperation) {
	sort.Slice(ops, func(i, j int) bool { return ops[i].DueAt.Before(ops[j].DueAt) })
}
