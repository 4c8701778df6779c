// Package message defines MessagePacket, the wire envelope exchanged
// between Sumeragi peers, and its binary length-prefixed codec.
package message

import (
	"fmt"

	"github.com/tolelom/sumeragi/block"
	"github.com/tolelom/sumeragi/topology"
	"github.com/tolelom/sumeragi/viewchange"
	"github.com/tolelom/sumeragi/wsv"
)

// Kind tags which variant of the Message union a Packet carries.
type Kind byte

const (
	KindBlockCreated Kind = iota
	KindBlockSigned
	KindBlockCommitted
	KindBlockSyncUpdate
	KindViewChangeSuggested
	KindTransactionGossip
)

func (k Kind) String() string {
	switch k {
	case KindBlockCreated:
		return "BlockCreated"
	case KindBlockSigned:
		return "BlockSigned"
	case KindBlockCommitted:
		return "BlockCommitted"
	case KindBlockSyncUpdate:
		return "BlockSyncUpdate"
	case KindViewChangeSuggested:
		return "ViewChangeSuggested"
	case KindTransactionGossip:
		return "TransactionGossip"
	default:
		return "Unknown"
	}
}

// Packet is the envelope every peer-to-peer send carries: the sender's
// current view-change ProofChain (so lagging peers learn of view changes
// passively, spec.md §6) plus exactly one Message variant selected by Kind.
type Packet struct {
	Sender topology.Peer
	Proofs []viewchange.Proof
	Kind   Kind

	// Populated for KindBlockCreated and KindBlockSyncUpdate.
	Block block.PendingBlock
	// Populated for KindBlockSigned.
	Signature block.Signature
	// Populated for KindBlockCommitted.
	Committed block.PendingBlock
	// Populated for KindViewChangeSuggested.
	ViewChangeProof viewchange.Proof
	// Populated for KindTransactionGossip.
	Transactions []wsv.Transaction
}

// NewBlockCreated builds a BlockCreated packet proposing proposal.
func NewBlockCreated(sender topology.Peer, proofs []viewchange.Proof, proposal block.PendingBlock) Packet {
	return Packet{Sender: sender, Proofs: proofs, Kind: KindBlockCreated, Block: proposal}
}

// NewBlockSigned builds a BlockSigned packet carrying one set-A signature.
func NewBlockSigned(sender topology.Peer, proofs []viewchange.Proof, sig block.Signature) Packet {
	return Packet{Sender: sender, Proofs: proofs, Kind: KindBlockSigned, Signature: sig}
}

// NewBlockCommitted builds a BlockCommitted packet carrying the full
// aggregated signature set ProxyTail gathered.
func NewBlockCommitted(sender topology.Peer, proofs []viewchange.Proof, committed block.PendingBlock) Packet {
	return Packet{Sender: sender, Proofs: proofs, Kind: KindBlockCommitted, Committed: committed}
}

// NewBlockSyncUpdate builds a BlockSyncUpdate packet carrying a block a
// lagging peer missed.
func NewBlockSyncUpdate(sender topology.Peer, proofs []viewchange.Proof, missed block.PendingBlock) Packet {
	return Packet{Sender: sender, Proofs: proofs, Kind: KindBlockSyncUpdate, Block: missed}
}

// NewViewChangeSuggested builds a ViewChangeSuggested packet.
func NewViewChangeSuggested(sender topology.Peer, proofs []viewchange.Proof, proof viewchange.Proof) Packet {
	return Packet{Sender: sender, Proofs: proofs, Kind: KindViewChangeSuggested, ViewChangeProof: proof}
}

// NewTransactionGossip builds a TransactionGossip packet relaying
// transactions the sender has not seen committed yet.
func NewTransactionGossip(sender topology.Peer, proofs []viewchange.Proof, txs []wsv.Transaction) Packet {
	return Packet{Sender: sender, Proofs: proofs, Kind: KindTransactionGossip, Transactions: txs}
}

// Encode serializes p to spec.md §6's length-prefixed little-endian binary
// format.
func Encode(p Packet) []byte {
	w := &writer{}
	encodePeer(w, p.Sender)
	encodeProofs(w, p.Proofs)
	w.byte(byte(p.Kind))

	switch p.Kind {
	case KindBlockCreated, KindBlockSyncUpdate:
		encodePendingBlock(w, p.Block)
	case KindBlockSigned:
		encodeSignature(w, p.Signature)
	case KindBlockCommitted:
		encodePendingBlock(w, p.Committed)
	case KindViewChangeSuggested:
		encodeProof(w, p.ViewChangeProof)
	case KindTransactionGossip:
		w.u32(uint32(len(p.Transactions)))
		for _, tx := range p.Transactions {
			encodeTransaction(w, tx)
		}
	}
	return w.bytesOut()
}

// EncodeBlock serializes a standalone block with no packet envelope, used
// by kura to persist committed blocks to the block log.
func EncodeBlock(b block.PendingBlock) []byte {
	w := &writer{}
	encodePendingBlock(w, b)
	return w.bytesOut()
}

// DecodeBlock parses data produced by EncodeBlock.
func DecodeBlock(data []byte) (block.PendingBlock, error) {
	r := newReader(data)
	b, err := decodePendingBlock(r)
	if err != nil {
		return block.PendingBlock{}, fmt.Errorf("message: block: %w", err)
	}
	if r.remaining() != 0 {
		return block.PendingBlock{}, fmt.Errorf("message: %d trailing bytes after block decode", r.remaining())
	}
	return b, nil
}

// Decode parses data produced by Encode. It returns an error rather than
// panicking on truncated or malformed input, since data arrives from the
// network and must be treated as untrusted.
func Decode(data []byte) (Packet, error) {
	r := newReader(data)

	sender, err := decodePeer(r)
	if err != nil {
		return Packet{}, fmt.Errorf("message: sender: %w", err)
	}
	proofs, err := decodeProofs(r)
	if err != nil {
		return Packet{}, fmt.Errorf("message: proofs: %w", err)
	}
	kindByte, err := r.byte()
	if err != nil {
		return Packet{}, fmt.Errorf("message: kind: %w", err)
	}

	p := Packet{Sender: sender, Proofs: proofs, Kind: Kind(kindByte)}

	switch p.Kind {
	case KindBlockCreated, KindBlockSyncUpdate:
		p.Block, err = decodePendingBlock(r)
	case KindBlockSigned:
		p.Signature, err = decodeSignature(r)
	case KindBlockCommitted:
		p.Committed, err = decodePendingBlock(r)
	case KindViewChangeSuggested:
		p.ViewChangeProof, err = decodeProof(r)
	case KindTransactionGossip:
		var n uint32
		n, err = r.u32()
		if err == nil {
			p.Transactions = make([]wsv.Transaction, n)
			for i := range p.Transactions {
				p.Transactions[i], err = decodeTransaction(r)
				if err != nil {
					break
				}
			}
		}
	default:
		return Packet{}, fmt.Errorf("message: unknown packet kind %d", kindByte)
	}
	if err != nil {
		return Packet{}, fmt.Errorf("message: body: %w", err)
	}
	if r.remaining() != 0 {
		return Packet{}, fmt.Errorf("message: %d trailing bytes after decode", r.remaining())
	}
	return p, nil
}
