// Package netsvc implements the peer-to-peer transport Sumeragi uses to
// exchange message.Packet values: broadcast, direct send, and membership
// queries, over length-prefixed binary framing. Grounded on
// network/node.go and network/peer.go, switched from length-prefixed JSON
// to message's binary length-prefixed codec.
package netsvc

import (
	"github.com/tolelom/sumeragi/message"
	"github.com/tolelom/sumeragi/topology"
)

// Network is the transport contract the Sumeragi main loop uses to talk
// to the rest of the cluster. Sends are at-most-once: a Send or Broadcast
// that returns nil has handed the packet to the OS socket buffer, not
// guaranteed delivery, and a dropped connection is not retried by the
// transport — retry, if any, is the caller's concern (e.g. a later
// block-sync catch-up).
type Network interface {
	// Broadcast sends packet to every peer in peers, best-effort: a send
	// failure to one peer does not prevent sends to the others.
	Broadcast(peers []topology.Peer, packet message.Packet)
	// Send delivers packet to a single peer.
	Send(peer topology.Peer, packet message.Packet) error
	// OnlinePeers returns the peers currently reachable over an open
	// connection.
	OnlinePeers() []topology.Peer
}
