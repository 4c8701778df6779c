// Package kura persists committed blocks to a durable, append-only block
// log and serves height-indexed lookups for startup replay and block-sync.
package kura

import (
	"errors"

	"github.com/tolelom/sumeragi/block"
)

// ErrNotFound is returned when a height has no stored block.
var ErrNotFound = errors.New("kura: block not found")

// BlockStore is the block log contract spec.md §6 assumes: 1-based,
// contiguous heights, single-writer append-only, safe for concurrent
// readers.
type BlockStore interface {
	// GetBlockByHeight returns the block stored at height, or ErrNotFound.
	GetBlockByHeight(height uint64) (block.CommittedBlock, error)
	// Store persists b. Implementations must make the block, its
	// height index entry, and the chain tip pointer visible atomically.
	Store(b block.CommittedBlock) error
	// Height returns the highest height stored, or 0 if the store is empty.
	Height() (uint64, error)
	Close() error
}
