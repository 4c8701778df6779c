// Package queue implements the transaction queue contract: admission,
// insertion-ordered draining bounded by a predicate, and removal after
// commit.
package queue

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/sumeragi/wsv"
)

// ErrFull is returned by Push when the queue has reached its capacity.
var ErrFull = errors.New("queue: full")

// ErrDuplicate is returned by Push when an identical transaction is already
// queued.
var ErrDuplicate = errors.New("queue: transaction already queued")

// Queue is the external transaction-queue contract the Sumeragi main loop
// drains from when it is Leader. pop_up_to's predicate excludes
// transactions already recorded in WSV's history, per spec.md §6.
type Queue interface {
	// PopUpTo returns up to n queued transactions for which accept
	// returns true, in the order they were pushed, without removing
	// them — removal happens explicitly via Remove once a block
	// containing them commits, so a failed proposal round does not lose
	// transactions.
	PopUpTo(n int, accept func(wsv.Transaction) bool) []wsv.Transaction
	// Remove deletes queued transactions by hash (called after the block
	// containing them commits).
	Remove(hashes [][32]byte)
	Len() int
	Push(tx wsv.Transaction) error
}

const (
	defaultCapacity = 10_000
	maxAge          = time.Hour
	maxFuture       = 5 * time.Minute
)

// InMemoryQueue is the default Queue: an insertion-ordered, thread-safe
// pending-transaction pool, grounded on core/mempool.go's Mempool.
type InMemoryQueue struct {
	mu       sync.RWMutex
	txs      map[string]wsv.Transaction
	order    []string
	capacity int
	now      func() time.Time
	logger   *zap.Logger
}

// New creates an empty InMemoryQueue with the default capacity.
func New() *InMemoryQueue {
	return &InMemoryQueue{
		txs:      make(map[string]wsv.Transaction),
		capacity: defaultCapacity,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
}

// SetLogger injects the logger used to report dropped pushes. The queue
// runs with a no-op logger until this is called.
func (q *InMemoryQueue) SetLogger(logger *zap.Logger) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.logger = logger
}

func txKey(tx wsv.Transaction) string {
	h := tx.Hash()
	return hex.EncodeToString(h[:])
}

// Push validates tx's timestamp window and inserts it if the queue has
// room and it is not already present.
func (q *InMemoryQueue) Push(tx wsv.Transaction) error {
	now := q.now().UnixNano()
	if now-tx.CreatedAt > maxAge.Nanoseconds() {
		return fmt.Errorf("queue: transaction expired")
	}
	if tx.CreatedAt-now > maxFuture.Nanoseconds() {
		return fmt.Errorf("queue: transaction timestamp too far in the future")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.txs) >= q.capacity {
		q.logger.Warn("queue: dropping transaction, queue full", zap.Int("capacity", q.capacity))
		return ErrFull
	}
	key := txKey(tx)
	if _, exists := q.txs[key]; exists {
		return ErrDuplicate
	}
	q.txs[key] = tx
	q.order = append(q.order, key)
	return nil
}

// PopUpTo returns up to n transactions in insertion order passing accept,
// without removing them from the queue.
func (q *InMemoryQueue) PopUpTo(n int, accept func(wsv.Transaction) bool) []wsv.Transaction {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]wsv.Transaction, 0, n)
	for _, key := range q.order {
		tx, ok := q.txs[key]
		if !ok {
			continue
		}
		if accept != nil && !accept(tx) {
			continue
		}
		result = append(result, tx)
		if len(result) >= n {
			break
		}
	}
	return result
}

// Remove deletes transactions by hash, called once the block containing
// them has committed.
func (q *InMemoryQueue) Remove(hashes [][32]byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		removed[hex.EncodeToString(h[:])] = true
	}
	for key := range removed {
		delete(q.txs, key)
	}
	filtered := q.order[:0]
	for _, key := range q.order {
		if !removed[key] {
			filtered = append(filtered, key)
		}
	}
	q.order = filtered
}

// Len returns the number of queued transactions.
func (q *InMemoryQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.txs)
}
