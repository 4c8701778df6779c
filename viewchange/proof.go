// Package viewchange builds and verifies the proof chain peers exchange to
// justify replacing the current Leader when it stalls or misbehaves.
package viewchange

import (
	"fmt"

	"github.com/tolelom/sumeragi/crypto"
	"github.com/tolelom/sumeragi/topology"
)

// Reason names why a peer is suggesting a view change.
type Reason int

const (
	// ReasonLeaderTimeout fires when no BlockCreated arrives within the
	// configured commit time limit.
	ReasonLeaderTimeout Reason = iota
	// ReasonCommitTimeout fires when a proposed block does not reach
	// quorum within the commit time limit.
	ReasonCommitTimeout
	// ReasonBlockRejected names set A invalidating the Leader's proposal
	// (bad signature, malformed transaction, stale WSV root). The sumeragi
	// package's timeout path emits only the two timeout reasons.
	ReasonBlockRejected
)

func (r Reason) String() string {
	switch r {
	case ReasonLeaderTimeout:
		return "LeaderTimeout"
	case ReasonCommitTimeout:
		return "CommitTimeout"
	case ReasonBlockRejected:
		return "BlockRejected"
	default:
		return "Unknown"
	}
}

// Proof is one peer's signed suggestion to advance the view-change index at
// a given height.
type Proof struct {
	BlockHeight uint64
	ViewIndex   uint32
	Reason      Reason
	Suggester   topology.Peer
	Signature   string
}

// signingPayload is the byte string a Proof's signature covers. View index
// is included so a stale proof from an earlier view cannot be replayed into
// a later one.
func signingPayload(height uint64, viewIndex uint32, reason Reason) []byte {
	return []byte(fmt.Sprintf("viewchange|%d|%d|%d", height, viewIndex, reason))
}

// Sign produces a Proof for the given height/view/reason, signed by priv on
// behalf of suggester.
func Sign(height uint64, viewIndex uint32, reason Reason, suggester topology.Peer, priv crypto.PrivateKey) Proof {
	sig := crypto.Sign(priv, signingPayload(height, viewIndex, reason))
	return Proof{
		BlockHeight: height,
		ViewIndex:   viewIndex,
		Reason:      reason,
		Suggester:   suggester,
		Signature:   sig,
	}
}

// Verify checks that the proof's signature matches its claimed suggester.
func (p Proof) Verify() error {
	payload := signingPayload(p.BlockHeight, p.ViewIndex, p.Reason)
	if err := crypto.Verify(p.Suggester.PublicKey, payload, p.Signature); err != nil {
		return fmt.Errorf("viewchange proof from %s: %w", p.Suggester, err)
	}
	return nil
}
