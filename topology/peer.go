// Package topology assigns consensus roles to a static peer set and
// rotates those assignments across view changes.
package topology

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/tolelom/sumeragi/crypto"
)

// Peer identifies a validator by network address and public key. Two peers
// are the same identity iff their public keys match.
type Peer struct {
	Address   string
	PublicKey crypto.PublicKey
}

// NewPeer builds a Peer from a hex-encoded ed25519 public key.
func NewPeer(address, pubKeyHex string) (Peer, error) {
	pub, err := crypto.PubKeyFromHex(pubKeyHex)
	if err != nil {
		return Peer{}, fmt.Errorf("peer %s: %w", address, err)
	}
	return Peer{Address: address, PublicKey: pub}, nil
}

// ID returns the hex SHA-256 hash of the public key, a stable string key for
// this peer. Topology ordering does not use it; see lessPeer.
func (p Peer) ID() string {
	return crypto.Hash(p.PublicKey)
}

// Equal reports whether p and other are the same validator identity.
func (p Peer) Equal(other Peer) bool {
	return bytes.Equal(p.PublicKey, other.PublicKey)
}

// String renders a short debug form: address + first 8 hex chars of the key.
func (p Peer) String() string {
	key := hex.EncodeToString(p.PublicKey)
	if len(key) > 8 {
		key = key[:8]
	}
	return fmt.Sprintf("%s(%s)", p.Address, key)
}

// lessPeer orders two peers for Topology.New: public key bytes first,
// address as the tie-break, matching spec.md §4.1.
func lessPeer(a, b Peer) bool {
	if c := bytes.Compare(a.PublicKey, b.PublicKey); c != 0 {
		return c < 0
	}
	return a.Address < b.Address
}
