package kura

import (
	"sync"

	"github.com/tolelom/sumeragi/block"
)

// MemBlockStore is a thread-safe in-memory BlockStore, grounded on
// internal/testutil/memdb.go's MemBlockStore, used by integration tests and
// any in-process multi-node test harness that would otherwise need a
// LevelDB file per simulated peer.
type MemBlockStore struct {
	mu     sync.RWMutex
	byH    map[uint64]block.CommittedBlock
	height uint64
}

// NewMemBlockStore creates an empty MemBlockStore.
func NewMemBlockStore() *MemBlockStore {
	return &MemBlockStore{byH: make(map[uint64]block.CommittedBlock)}
}

func (s *MemBlockStore) GetBlockByHeight(height uint64) (block.CommittedBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byH[height]
	if !ok {
		return block.CommittedBlock{}, ErrNotFound
	}
	return b, nil
}

func (s *MemBlockStore) Store(b block.CommittedBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byH[b.Header.Height] = b
	if b.Header.Height > s.height {
		s.height = b.Header.Height
	}
	return nil
}

func (s *MemBlockStore) Height() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height, nil
}

func (s *MemBlockStore) Close() error { return nil }
