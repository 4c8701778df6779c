// Package block defines the wire-level block shapes Sumeragi proposes,
// signs, and commits: the header that is hashed and signed, the pending and
// committed block forms, and the in-flight voting state a peer holds
// between receiving a proposal and committing or timing it out.
package block

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/tolelom/sumeragi/crypto"
	"github.com/tolelom/sumeragi/topology"
	"github.com/tolelom/sumeragi/wsv"
)

// BlockHeader is the metadata that gets hashed and signed. Height is
// 1-based; height 0 denotes pre-genesis.
type BlockHeader struct {
	Height                uint64
	Timestamp             int64
	PreviousBlockHash     [32]byte
	TransactionMerkleRoot [32]byte
	RejectedMerkleRoot    [32]byte
	ViewChangeIndex       uint32
	CommittedWithTopology []topology.Peer
}

// Hash returns the BLAKE2b-256 hash of the header's canonical encoding,
// matching the "ComputeHash over the serialized header" shape of
// core/block.go's Block.ComputeHash, generalized from JSON-over-SHA-256 to
// the binary little-endian encoding spec.md §6 mandates.
func (h BlockHeader) Hash() [32]byte {
	return crypto.MerkleHash(h.canonicalBytes())
}

func (h BlockHeader) canonicalBytes() []byte {
	var buf bytes.Buffer
	var u64 [8]byte
	var u32 [4]byte

	binary.LittleEndian.PutUint64(u64[:], h.Height)
	buf.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], uint64(h.Timestamp))
	buf.Write(u64[:])
	buf.Write(h.PreviousBlockHash[:])
	buf.Write(h.TransactionMerkleRoot[:])
	buf.Write(h.RejectedMerkleRoot[:])
	binary.LittleEndian.PutUint32(u32[:], h.ViewChangeIndex)
	buf.Write(u32[:])
	for _, p := range h.CommittedWithTopology {
		buf.Write(p.PublicKey)
		buf.WriteString(p.Address)
	}
	return buf.Bytes()
}

// ComputeTxRoot builds the transaction merkle root from accepted
// transactions, length-prefixing each transaction's hash the way
// core/block.go's ComputeTxRoot length-prefixes transaction IDs, to avoid
// boundary ambiguity between different transaction sets hashing equal.
func ComputeTxRoot(txs []wsv.Transaction) [32]byte {
	if len(txs) == 0 {
		return crypto.MerkleHash([]byte("empty"))
	}
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, tx := range txs {
		h := tx.Hash()
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(h)))
		buf.Write(lenBuf[:])
		buf.Write(h[:])
	}
	return crypto.MerkleHash(buf.Bytes())
}

// ComputeRejectedRoot is ComputeTxRoot's counterpart over the rejected set.
func ComputeRejectedRoot(rejected []wsv.RejectedTransaction) [32]byte {
	txs := make([]wsv.Transaction, len(rejected))
	for i, r := range rejected {
		txs[i] = r.Transaction
	}
	return ComputeTxRoot(txs)
}

// NewHeader builds an unsigned header for the next block after prev, with
// the supplied topology recorded as the one that produced it.
func NewHeader(height uint64, previousBlockHash [32]byte, viewChangeIndex uint32, topo topology.Topology, txs []wsv.Transaction, rejected []wsv.RejectedTransaction) BlockHeader {
	return BlockHeader{
		Height:                height,
		Timestamp:             time.Now().UnixNano(),
		PreviousBlockHash:     previousBlockHash,
		TransactionMerkleRoot: ComputeTxRoot(txs),
		RejectedMerkleRoot:    ComputeRejectedRoot(rejected),
		ViewChangeIndex:       viewChangeIndex,
		CommittedWithTopology: topo.Peers(),
	}
}

// VerifyLinkage checks height monotonicity and previous-hash linkage
// against the locally known head, matching consensus/poa.go's
// ValidateBlock prev-hash/height checks.
func (h BlockHeader) VerifyLinkage(previousHeight uint64, previousHash [32]byte) error {
	if h.Height != previousHeight+1 {
		return fmt.Errorf("block header: height mismatch: got %d want %d", h.Height, previousHeight+1)
	}
	if h.PreviousBlockHash != previousHash {
		return fmt.Errorf("block header: previous hash mismatch")
	}
	return nil
}
