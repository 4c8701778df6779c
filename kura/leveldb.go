package kura

import (
	"encoding/binary"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/tolelom/sumeragi/block"
	"github.com/tolelom/sumeragi/message"
)

var tipKey = []byte("chain:tip")

func blockKey(height uint64) []byte {
	key := make([]byte, len("block:")+8)
	copy(key, "block:")
	binary.BigEndian.PutUint64(key[len("block:"):], height)
	return key
}

// LevelBlockStore implements BlockStore on top of LevelDB, grounded on
// storage/leveldb.go's LevelBlockStore. Store batches the block write and
// the tip pointer update into one leveldb.Batch so a crash between them
// cannot leave a block persisted without becoming the new tip, or vice
// versa.
type LevelBlockStore struct {
	db *leveldb.DB
}

// NewLevelBlockStore opens (or creates) a LevelDB database at path.
func NewLevelBlockStore(path string) (*LevelBlockStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("kura: open leveldb %q: %w", path, err)
	}
	return &LevelBlockStore{db: db}, nil
}

func (s *LevelBlockStore) GetBlockByHeight(height uint64) (block.CommittedBlock, error) {
	data, err := s.db.Get(blockKey(height), nil)
	if err == leveldb.ErrNotFound {
		return block.CommittedBlock{}, ErrNotFound
	}
	if err != nil {
		return block.CommittedBlock{}, fmt.Errorf("kura: get height %d: %w", height, err)
	}
	pb, err := message.DecodeBlock(data)
	if err != nil {
		return block.CommittedBlock{}, fmt.Errorf("kura: decode height %d: %w", height, err)
	}
	return block.CommittedBlock{PendingBlock: pb}, nil
}

func (s *LevelBlockStore) Store(b block.CommittedBlock) error {
	batch := new(leveldb.Batch)
	batch.Put(blockKey(b.Header.Height), message.EncodeBlock(b.PendingBlock))

	var tip [8]byte
	binary.BigEndian.PutUint64(tip[:], b.Header.Height)
	batch.Put(tipKey, tip[:])

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("kura: store height %d: %w", b.Header.Height, err)
	}
	return nil
}

func (s *LevelBlockStore) Height() (uint64, error) {
	data, err := s.db.Get(tipKey, nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("kura: read tip: %w", err)
	}
	return binary.BigEndian.Uint64(data), nil
}

func (s *LevelBlockStore) Close() error {
	return s.db.Close()
}
