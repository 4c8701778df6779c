package block

import (
	"fmt"
	"time"

	"github.com/tolelom/sumeragi/crypto"
	"github.com/tolelom/sumeragi/topology"
	"github.com/tolelom/sumeragi/wsv"
)

// Signature pairs a peer's identity with its signature over a block
// header's hash.
type Signature struct {
	Signer    topology.Peer
	Signature string // hex-encoded
}

// Sign produces a Signature over header's hash using priv, claiming the
// identity signer.
func Sign(header BlockHeader, signer topology.Peer, priv crypto.PrivateKey) Signature {
	hash := header.Hash()
	return Signature{Signer: signer, Signature: crypto.Sign(priv, hash[:])}
}

// Verify checks that sig is a valid signature over header's hash by its
// claimed signer.
func (sig Signature) Verify(header BlockHeader) error {
	hash := header.Hash()
	if err := crypto.Verify(sig.Signer.PublicKey, hash[:], sig.Signature); err != nil {
		return fmt.Errorf("block: signature from %s: %w", sig.Signer, err)
	}
	return nil
}

// PendingBlock is a proposed block that has not yet reached commit quorum:
// Pending while its signature set is empty, PartiallySigned once set A
// starts signing.
type PendingBlock struct {
	Header       BlockHeader
	Transactions []wsv.Transaction
	Rejected     []wsv.RejectedTransaction
	Signatures   []Signature
}

// AddSignature appends sig if no signature from the same signer is already
// present, matching the view-change proof chain's "duplicate signatures by
// the same peer are ignored" rule applied here to block commit signatures.
func (b *PendingBlock) AddSignature(sig Signature) bool {
	for _, existing := range b.Signatures {
		if existing.Signer.Equal(sig.Signer) {
			return false
		}
	}
	b.Signatures = append(b.Signatures, sig)
	return true
}

// DistinctSigners counts signatures from members of topo, ignoring any
// signature from a peer topo no longer recognizes.
func (b *PendingBlock) DistinctSigners(topo topology.Topology) int {
	count := 0
	for _, sig := range b.Signatures {
		if topo.Contains(sig.Signer) {
			count++
		}
	}
	return count
}

// VerifySignatures checks every recorded signature's validity against the
// header and reports the first invalid one found.
func (b *PendingBlock) VerifySignatures() error {
	for _, sig := range b.Signatures {
		if err := sig.Verify(b.Header); err != nil {
			return err
		}
	}
	return nil
}

// CommittedBlock is a PendingBlock whose signature set satisfied commit
// quorum and which has been persisted to the block log.
type CommittedBlock struct {
	PendingBlock
}

// VotingBlock is the (block, timestamp) pair a peer holds between accepting
// a proposal as a candidate and either committing it or timing the round
// out. At most one exists per peer per (height, view_change_index).
type VotingBlock struct {
	Block   PendingBlock
	VotedAt time.Time
}

// NewVotingBlock wraps block with the current time as its vote timestamp.
func NewVotingBlock(block PendingBlock) VotingBlock {
	return VotingBlock{Block: block, VotedAt: time.Now()}
}

// Expired reports whether this voting block has outlived limit since it was
// recorded, the commit_time timeout check of spec.md §4.4.
func (v VotingBlock) Expired(limit time.Duration) bool {
	return time.Since(v.VotedAt) > limit
}
