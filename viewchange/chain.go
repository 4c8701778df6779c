package viewchange

import (
	"fmt"

	"github.com/tolelom/sumeragi/topology"
)

// ProofChain accumulates distinct-suggester proofs for a single
// (height, viewIndex) pair. Once it holds quorum valid proofs the view
// change is justified and the topology should rotate.
type ProofChain struct {
	height    uint64
	viewIndex uint32
	proofs    map[string]Proof // suggester ID -> proof
}

// NewProofChain starts an empty chain for the given height and view index.
func NewProofChain(height uint64, viewIndex uint32) *ProofChain {
	return &ProofChain{
		height:    height,
		viewIndex: viewIndex,
		proofs:    make(map[string]Proof),
	}
}

// Height reports which block height this chain is arguing about.
func (c *ProofChain) Height() uint64 { return c.height }

// ViewIndex reports which view this chain is trying to advance past.
func (c *ProofChain) ViewIndex() uint32 { return c.viewIndex }

// Push validates and records proof. It is a no-op (not an error) if the
// same suggester has already pushed a proof for this chain - peers may
// retransmit. Proofs for a different height or view index are rejected,
// since mixing them would let a stale suggestion count toward a later
// view's quorum.
func (c *ProofChain) Push(proof Proof) error {
	if proof.BlockHeight != c.height || proof.ViewIndex != c.viewIndex {
		return fmt.Errorf("viewchange: proof for height=%d view=%d does not match chain height=%d view=%d",
			proof.BlockHeight, proof.ViewIndex, c.height, c.viewIndex)
	}
	if err := proof.Verify(); err != nil {
		return err
	}
	c.proofs[proof.Suggester.ID()] = proof
	return nil
}

// Len returns the number of distinct suggesters recorded so far.
func (c *ProofChain) Len() int { return len(c.proofs) }

// Proofs returns the recorded proofs in no particular order.
func (c *ProofChain) Proofs() []Proof {
	out := make([]Proof, 0, len(c.proofs))
	for _, p := range c.proofs {
		out = append(out, p)
	}
	return out
}

// VerifyQuorum reports whether this chain holds proofs from at least
// topo.Quorum() distinct members of topo. A proof from a peer that has
// since left the topology (e.g. reshuffled out) does not count.
func (c *ProofChain) VerifyQuorum(topo topology.Topology) bool {
	count := 0
	for _, p := range c.proofs {
		if topo.Contains(p.Suggester) {
			count++
		}
	}
	return count >= topo.Quorum()
}
