package topology

import (
	"fmt"
	"sort"
)

// Role is the consensus duty a peer carries for the current view.
type Role int

const (
	// RoleObservingPeer watches the round but neither proposes nor signs
	// proposals nor aggregates commit signatures.
	RoleObservingPeer Role = iota
	// RoleLeader proposes the next block.
	RoleLeader
	// RoleValidatingPeer signs proposals from the Leader ("set A").
	RoleValidatingPeer
	// RoleProxyTail aggregates BlockSigned messages and emits BlockCommitted.
	RoleProxyTail
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "Leader"
	case RoleValidatingPeer:
		return "ValidatingPeer"
	case RoleProxyTail:
		return "ProxyTail"
	default:
		return "ObservingPeer"
	}
}

// Topology is the ordered peer list that determines role assignment for the
// current view. Position 0 is Leader; positions [1, 2f+1) are set A
// (ValidatingPeers); positions [2f+1, n-f) are ObservingPeers; the last
// position is ProxyTail.
type Topology struct {
	peers     []Peer
	maxFaulty int // f
}

// MinPeers returns the smallest peer-set size that tolerates f Byzantine
// faults: 3f+1.
func MinPeers(maxFaulty int) int {
	return 3*maxFaulty + 1
}

// New sorts peers by identity and returns the initial topology for a fresh
// chain or a freshly loaded height. Fails if the peer set is too small for
// maxFaulty faults.
func New(peers []Peer, maxFaulty int) (Topology, error) {
	if maxFaulty < 0 {
		return Topology{}, fmt.Errorf("max faulty peers must be >= 0, got %d", maxFaulty)
	}
	if len(peers) < MinPeers(maxFaulty) {
		return Topology{}, fmt.Errorf("topology needs >= %d peers for f=%d, got %d",
			MinPeers(maxFaulty), maxFaulty, len(peers))
	}
	sorted := make([]Peer, len(peers))
	copy(sorted, peers)
	sort.Slice(sorted, func(i, j int) bool { return lessPeer(sorted[i], sorted[j]) })
	return Topology{peers: sorted, maxFaulty: maxFaulty}, nil
}

// Peers returns the ordered peer list. The returned slice must not be
// mutated by the caller.
func (t Topology) Peers() []Peer { return t.peers }

// Len returns the number of peers in the topology.
func (t Topology) Len() int { return len(t.peers) }

// MaxFaulty returns f, the number of Byzantine faults this topology
// tolerates.
func (t Topology) MaxFaulty() int { return t.maxFaulty }

// Quorum returns 2f+1, the number of distinct signatures required to commit
// a block or to advance the view-change index (see SPEC_FULL.md §11 for how
// this is counted against the signer set in each case).
func (t Topology) Quorum() int { return 2*t.maxFaulty + 1 }

// Leader returns the current Leader (position 0).
func (t Topology) Leader() Peer { return t.peers[0] }

// setAEnd is the exclusive upper bound of set A's position range.
func (t Topology) setAEnd() int {
	end := 2*t.maxFaulty + 1
	if end > len(t.peers) {
		end = len(t.peers)
	}
	return end
}

// ValidatingPeers returns set A: positions [1, 2f+1).
func (t Topology) ValidatingPeers() []Peer {
	if len(t.peers) < 2 {
		return nil
	}
	return t.peers[1:t.setAEnd()]
}

// ObservingPeers returns positions [2f+1, n-f).
func (t Topology) ObservingPeers() []Peer {
	start := t.setAEnd()
	end := len(t.peers) - t.maxFaulty
	if end < start {
		end = start
	}
	return t.peers[start:end]
}

// ProxyTail returns the last position.
func (t Topology) ProxyTail() Peer {
	return t.peers[len(t.peers)-1]
}

// RoleOf returns the role peer holds in this topology, or false if peer is
// not a member. Every position between set A and ProxyTail is reported as
// RoleObservingPeer, including the tail positions [n-f, n-1) that
// ObservingPeers does not list.
func (t Topology) RoleOf(peer Peer) (Role, bool) {
	for i, p := range t.peers {
		if !p.Equal(peer) {
			continue
		}
		switch {
		case i == 0:
			return RoleLeader, true
		case i == len(t.peers)-1:
			return RoleProxyTail, true
		case i < t.setAEnd():
			return RoleValidatingPeer, true
		default:
			return RoleObservingPeer, true
		}
	}
	return RoleObservingPeer, false
}

// Contains reports whether peer is a current topology member.
func (t Topology) Contains(peer Peer) bool {
	_, ok := t.RoleOf(peer)
	return ok
}

// RotateSetA cyclically shifts positions [0, 2f+1) — the Leader plus set
// A — by one: the old Leader moves to the back of that range, promoting
// the old position-1 peer to the new Leader. Used on every view change and
// when deriving the next round's topology after a commit; without
// rotating position 0, an offline Leader would stay Leader across every
// view change and the round could never make progress.
func (t Topology) RotateSetA() Topology {
	end := t.setAEnd()
	next := cloneRotate(t.peers, 0, end)
	return Topology{peers: next, maxFaulty: t.maxFaulty}
}

// RotateAll cyclically shifts the entire peer list by one position,
// promoting the old position-1 peer to Leader. The consensus core in this
// module does not call it; view changes use RotateSetA.
func (t Topology) RotateAll() Topology {
	next := cloneRotate(t.peers, 0, len(t.peers))
	return Topology{peers: next, maxFaulty: t.maxFaulty}
}

// cloneRotate returns a copy of peers with the half-open range [start, end)
// rotated left by one.
func cloneRotate(peers []Peer, start, end int) []Peer {
	out := make([]Peer, len(peers))
	copy(out, peers)
	if end-start < 2 {
		return out
	}
	first := out[start]
	copy(out[start:end-1], out[start+1:end])
	out[end-1] = first
	return out
}
