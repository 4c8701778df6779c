package wsv

import "github.com/tolelom/sumeragi/crypto"

// merkleHash is the hash function used for transaction identity and for
// WSV's deterministic state root. A thin wrapper keeps crypto.MerkleHash's
// concrete algorithm (BLAKE2b) out of call sites so it can change in one
// place.
func merkleHash(data []byte) [32]byte {
	return crypto.MerkleHash(data)
}
